package omnigrid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/omnigrid/omnigrid.go/pkg/bulk"
	"github.com/omnigrid/omnigrid.go/pkg/constants"
	"github.com/omnigrid/omnigrid.go/pkg/cursor"
	"github.com/omnigrid/omnigrid.go/pkg/dialect"
	"github.com/omnigrid/omnigrid.go/pkg/driver"
	"github.com/omnigrid/omnigrid.go/pkg/filter"
	"github.com/omnigrid/omnigrid.go/pkg/logger"
	"github.com/omnigrid/omnigrid.go/pkg/meta"
	"github.com/omnigrid/omnigrid.go/pkg/metrics"
	"github.com/omnigrid/omnigrid.go/pkg/resilience"
)

// Config tunes one adapter instance. The zero value is usable.
type Config struct {
	Logger  logger.Logger
	Metrics *metrics.Collector

	// ReadOnly rejects every write before any I/O.
	ReadOnly bool

	// WaitForReconnect queues operations behind an in-progress reconnect
	// (bounded by their context) instead of failing fast.
	WaitForReconnect bool

	ReconnectPolicy     resilience.ReconnectPolicy
	HealthCheckInterval time.Duration

	// MetadataTTL bounds the column-metadata cache.
	MetadataTTL time.Duration
}

// Adapter is the caller-facing surface of one backend: uniform filtering,
// keyset pagination, bulk operations and connection lifecycle over the
// backend's native query form.
type Adapter struct {
	dialect   dialect.Dialect
	raw       driver.Driver
	manager   *resilience.Manager
	meta      *meta.Cache
	paginator *cursor.Paginator
	bulk      *bulk.Coordinator
	log       logger.Logger
	stats     *metrics.Collector
	readOnly  bool

	evmu   sync.Mutex
	events <-chan resilience.StatusEvent
}

// New wires an adapter from a driver, its dialect and a metadata provider.
func New(drv driver.Driver, d dialect.Dialect, provider meta.Provider, cfg Config) *Adapter {
	log := logger.OrNop(cfg.Logger)

	manager := resilience.NewManager(drv, cfg.ReconnectPolicy,
		resilience.WithLogger(log),
		resilience.WithHealthInterval(cfg.HealthCheckInterval),
		resilience.WithWaitForReconnect(cfg.WaitForReconnect),
	)
	guarded := &guardedDriver{inner: drv, m: manager, stats: cfg.Metrics}
	cache := meta.NewCache(provider, cfg.MetadataTTL)

	a := &Adapter{
		dialect: d,
		raw:     drv,
		manager: manager,
		meta:    cache,
		paginator: &cursor.Paginator{
			Driver:  guarded,
			Dialect: d,
			Meta:    cache,
			Logger:  log,
		},
		bulk: &bulk.Coordinator{
			Driver:  guarded,
			Dialect: d,
			Logger:  log,
		},
		log:      log,
		stats:    cfg.Metrics,
		readOnly: cfg.ReadOnly,
	}
	a.watchState()
	return a
}

// watchState subscribes a metrics tracker to connection events. Idempotent;
// Disconnect releases the subscription and Connect re-arms it.
func (a *Adapter) watchState() {
	if a.stats == nil {
		return
	}
	a.evmu.Lock()
	defer a.evmu.Unlock()
	if a.events != nil {
		return
	}
	ch := a.manager.Subscribe()
	a.events = ch
	go a.trackState(ch, a.stats)
}

func (a *Adapter) trackState(events <-chan resilience.StatusEvent, stats *metrics.Collector) {
	for ev := range events {
		stats.ConnectionState(int(ev.State))
		switch {
		case ev.State == resilience.StateConnected && ev.Message == "reconnected":
			stats.Reconnect(true)
		case ev.State == resilience.StateError && ev.Message == "reconnect attempt failed":
			stats.Reconnect(false)
		case ev.State == resilience.StateError && ev.Message == "connection lost":
			stats.HealthCheckFailure()
		}
	}
}

// Connect opens the backend connection and starts health checking.
func (a *Adapter) Connect(ctx context.Context) error {
	a.watchState()
	return a.manager.Connect(ctx)
}

// Disconnect stops health checking, closes the connection and releases
// the metrics tracker's subscription.
func (a *Adapter) Disconnect(ctx context.Context) error {
	err := a.manager.Close(ctx)
	a.evmu.Lock()
	ch := a.events
	a.events = nil
	a.evmu.Unlock()
	if ch != nil {
		a.manager.Unsubscribe(ch)
	}
	return err
}

// Ping probes the backend through the resilience path.
func (a *Adapter) Ping(ctx context.Context) error { return a.manager.Ping(ctx) }

// Reconnect is the explicit recovery path once automatic reconnection has
// given up.
func (a *Adapter) Reconnect(ctx context.Context) error { return a.manager.Reconnect(ctx) }

// Status returns the connection state and the last error observed.
func (a *Adapter) Status() (resilience.State, error) { return a.manager.State() }

// Subscribe returns a channel of connection state-change events.
func (a *Adapter) Subscribe() <-chan resilience.StatusEvent { return a.manager.Subscribe() }

// Cancel aborts the in-flight request registered under the given id,
// using the backend's native cancel mechanism.
func (a *Adapter) Cancel(requestID string) error { return a.raw.Cancel(requestID) }

// BuildQuery compiles a filter set into the backend's native query form
// without executing it.
func (a *Adapter) BuildQuery(set filter.Set) (*dialect.CompiledQuery, error) {
	q, err := a.dialect.CompileFilter(set)
	if err != nil {
		return nil, fmt.Errorf("building %s query: %w", a.dialect.Name(), err)
	}
	return q, nil
}

// FetchPage returns one page of filtered rows in display order with
// cursors for the adjacent pages.
func (a *Adapter) FetchPage(ctx context.Context, table string, set filter.Set, req cursor.PageRequest) (*cursor.PageResult, error) {
	page, err := a.paginator.FetchPage(ctx, table, set, req)
	if err != nil {
		return nil, fmt.Errorf("fetch page from %s: %w", table, err)
	}
	return page, nil
}

// CountFiltered returns the number of rows matching the filter. It is
// never used to derive pagination flags.
func (a *Adapter) CountFiltered(ctx context.Context, table string, set filter.Set) (int64, error) {
	where, err := a.dialect.CompileFilter(set)
	if err != nil {
		return 0, fmt.Errorf("count on %s: %w", table, err)
	}
	stmt, err := a.dialect.CountStatement(table, where)
	if err != nil {
		return 0, fmt.Errorf("count on %s: %w", table, err)
	}
	var count int64
	err = a.manager.Do(ctx, func(ctx context.Context) error {
		res, execErr := a.raw.Execute(ctx, "", stmt)
		if execErr != nil {
			return execErr
		}
		count = countOf(res)
		return nil
	})
	a.stats.Query(string(driver.OpCount))
	if err != nil {
		a.stats.QueryError(errorKind(err))
		return 0, fmt.Errorf("count on %s: %w", table, err)
	}
	return count, nil
}

// BulkInsert writes rows in batches; see bulk.Options for failure
// accounting.
func (a *Adapter) BulkInsert(ctx context.Context, table string, rows []driver.Row, opts bulk.Options) (*bulk.Result, error) {
	if err := a.writable("bulk insert", table); err != nil {
		return nil, err
	}
	return a.observeBulk(a.bulk.Insert(ctx, table, rows, opts))
}

// BulkUpdate applies keyed updates in batches.
func (a *Adapter) BulkUpdate(ctx context.Context, table string, items []bulk.Item, opts bulk.Options) (*bulk.Result, error) {
	if err := a.writable("bulk update", table); err != nil {
		return nil, err
	}
	return a.observeBulk(a.bulk.Update(ctx, table, items, opts))
}

// BulkDelete removes the rows addressed by keys in batches.
func (a *Adapter) BulkDelete(ctx context.Context, table string, keys []map[string]any, opts bulk.Options) (*bulk.Result, error) {
	if err := a.writable("bulk delete", table); err != nil {
		return nil, err
	}
	return a.observeBulk(a.bulk.Delete(ctx, table, keys, opts))
}

func (a *Adapter) observeBulk(res *bulk.Result, err error) (*bulk.Result, error) {
	if err != nil {
		a.stats.Batch(true)
		return nil, err
	}
	a.stats.Batch(len(res.Errors) > 0)
	return res, nil
}

func (a *Adapter) writable(op, table string) error {
	if a.readOnly {
		return fmt.Errorf("%w: %s on %s", constants.ErrReadOnly, op, table)
	}
	return nil
}

// Metadata exposes the cache-backed column lookup, mainly so callers can
// invalidate it after schema changes.
func (a *Adapter) Metadata() *meta.Cache { return a.meta }

func countOf(res *driver.Result) int64 {
	if res.Affected > 0 || len(res.Rows) == 0 {
		return res.Affected
	}
	for _, v := range res.Rows[0] {
		switch n := v.(type) {
		case int64:
			return n
		case int:
			return int64(n)
		case float64:
			return int64(n)
		}
	}
	return res.Affected
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, constants.ErrTransport), errors.Is(err, constants.ErrReconnectExhausted):
		return "transport"
	case errors.Is(err, constants.ErrBackend):
		return "backend"
	case errors.Is(err, constants.ErrCompile):
		return "compile"
	case errors.Is(err, constants.ErrNotConnected):
		return "not_connected"
	default:
		return "other"
	}
}
