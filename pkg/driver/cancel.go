package driver

import (
	"context"
	"sync"

	"github.com/omnigrid/omnigrid.go/pkg/constants"
)

// CancelRegistry tracks in-flight requests by opaque id so they can be
// aborted out of band. Drivers derive a cancelable context per request;
// Cancel fires it, which propagates to the backend client's native abort
// path.
type CancelRegistry struct {
	mu sync.Mutex
	m  map[string]context.CancelFunc
}

// Track derives a cancelable context for the request. The returned
// release must be called when the request finishes. An empty id is not
// tracked.
func (r *CancelRegistry) Track(ctx context.Context, requestID string) (context.Context, func()) {
	if requestID == "" {
		return ctx, func() {}
	}
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	if r.m == nil {
		r.m = map[string]context.CancelFunc{}
	}
	r.m[requestID] = cancel
	r.mu.Unlock()
	return ctx, func() {
		r.mu.Lock()
		delete(r.m, requestID)
		r.mu.Unlock()
		cancel()
	}
}

// Cancel aborts the request registered under id.
func (r *CancelRegistry) Cancel(requestID string) error {
	r.mu.Lock()
	cancel, ok := r.m[requestID]
	r.mu.Unlock()
	if !ok {
		return constants.ErrUnknownRequest
	}
	cancel()
	return nil
}
