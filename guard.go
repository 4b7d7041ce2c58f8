package omnigrid

import (
	"context"
	"fmt"

	"github.com/omnigrid/omnigrid.go/pkg/constants"
	"github.com/omnigrid/omnigrid.go/pkg/driver"
	"github.com/omnigrid/omnigrid.go/pkg/metrics"
	"github.com/omnigrid/omnigrid.go/pkg/resilience"
)

// guardedDriver routes every statement through the resilience manager so
// planners get transparent retry/reconnect without knowing about it.
type guardedDriver struct {
	inner driver.Driver
	m     *resilience.Manager
	stats *metrics.Collector
}

var (
	_ driver.Driver   = (*guardedDriver)(nil)
	_ driver.Batcher  = (*guardedDriver)(nil)
	_ driver.Scroller = (*guardedDriver)(nil)
)

func (g *guardedDriver) Open(ctx context.Context) error  { return g.inner.Open(ctx) }
func (g *guardedDriver) Close(ctx context.Context) error { return g.inner.Close(ctx) }
func (g *guardedDriver) Ping(ctx context.Context) error  { return g.inner.Ping(ctx) }
func (g *guardedDriver) Cancel(requestID string) error   { return g.inner.Cancel(requestID) }
func (g *guardedDriver) Capabilities() driver.Capabilities {
	return g.inner.Capabilities()
}

func (g *guardedDriver) Execute(ctx context.Context, requestID string, stmt *driver.Statement) (*driver.Result, error) {
	var res *driver.Result
	err := g.m.Do(ctx, func(ctx context.Context) error {
		r, err := g.inner.Execute(ctx, requestID, stmt)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	g.stats.Query(string(stmt.Op))
	if err != nil {
		g.stats.QueryError(errorKind(err))
		return nil, err
	}
	return res, nil
}

// ExecuteBatch runs the statements as one unit. Backends without a native
// batch primitive fall back to sequential execution under a single
// resilience envelope, so a mid-batch failure is attributed to the whole
// batch either way.
func (g *guardedDriver) ExecuteBatch(ctx context.Context, requestID string, stmts []*driver.Statement) (int64, error) {
	var affected int64
	err := g.m.Do(ctx, func(ctx context.Context) error {
		if b, ok := g.inner.(driver.Batcher); ok {
			n, err := b.ExecuteBatch(ctx, requestID, stmts)
			if err != nil {
				return err
			}
			affected += n
			return nil
		}
		for _, stmt := range stmts {
			res, err := g.inner.Execute(ctx, requestID, stmt)
			if err != nil {
				return err
			}
			affected += res.Affected
		}
		return nil
	})
	if err != nil {
		g.stats.QueryError(errorKind(err))
		return 0, err
	}
	return affected, nil
}

func (g *guardedDriver) OpenScroll(ctx context.Context, stmt *driver.Statement, batchSize int) (driver.Scroll, error) {
	sc, ok := g.inner.(driver.Scroller)
	if !ok {
		return nil, fmt.Errorf("%w: backend has no stable scan handle", constants.ErrBackend)
	}
	var scroll driver.Scroll
	err := g.m.Do(ctx, func(ctx context.Context) error {
		s, err := sc.OpenScroll(ctx, stmt, batchSize)
		if err != nil {
			return err
		}
		scroll = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return scroll, nil
}
