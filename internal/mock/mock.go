// Package mock provides a scripted driver for exercising the resilience
// and batching paths without a backend.
package mock

import (
	"context"
	"sync"

	"github.com/omnigrid/omnigrid.go/pkg/driver"
)

// Driver replays scripted errors and records call counts. Error slices
// are consumed front to back; an exhausted slice means success.
type Driver struct {
	mu sync.Mutex

	OpenErrs []error
	PingErrs []error
	ExecErrs []error

	// ExecuteFn, when set, handles Execute calls after the scripted
	// error queue is consulted.
	ExecuteFn func(ctx context.Context, requestID string, stmt *driver.Statement) (*driver.Result, error)

	Caps driver.Capabilities

	OpenCalls    int
	CloseCalls   int
	PingCalls    int
	ExecuteCalls int
	Canceled     []string
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (d *Driver) Open(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls++
	return pop(&d.OpenErrs)
}

func (d *Driver) Close(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CloseCalls++
	return nil
}

func (d *Driver) Ping(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.PingCalls++
	return pop(&d.PingErrs)
}

func (d *Driver) Execute(ctx context.Context, requestID string, stmt *driver.Statement) (*driver.Result, error) {
	d.mu.Lock()
	d.ExecuteCalls++
	err := pop(&d.ExecErrs)
	fn := d.ExecuteFn
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(ctx, requestID, stmt)
	}
	return &driver.Result{}, nil
}

func (d *Driver) Cancel(requestID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Canceled = append(d.Canceled, requestID)
	return nil
}

func (d *Driver) Capabilities() driver.Capabilities { return d.Caps }

var _ driver.Driver = (*Driver)(nil)
