// Package postgres implements the backend driver contract over a pgx
// connection pool.
package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omnigrid/omnigrid.go/pkg/constants"
	"github.com/omnigrid/omnigrid.go/pkg/driver"
	"github.com/omnigrid/omnigrid.go/pkg/logger"
)

// Config carries pool settings. URL is a standard postgres connection
// string; zero values for the remaining fields keep pgxpool defaults.
type Config struct {
	URL            string
	MinConns       int32
	MaxConns       int32
	ConnectTimeout time.Duration
	Logger         logger.Logger
}

// Driver executes textual statements against Postgres. It supports
// transactional batches and out-of-band cancellation.
type Driver struct {
	cfg Config
	log logger.Logger

	reqs driver.CancelRegistry

	mu   sync.Mutex
	pool *pgxpool.Pool
}

var (
	_ driver.Driver  = (*Driver)(nil)
	_ driver.Batcher = (*Driver)(nil)
)

func New(cfg Config) *Driver {
	return &Driver{cfg: cfg, log: logger.OrNop(cfg.Logger)}
}

func (d *Driver) Open(ctx context.Context) error {
	poolCfg, err := pgxpool.ParseConfig(d.cfg.URL)
	if err != nil {
		return fmt.Errorf("parse postgres config: %w", err)
	}
	if d.cfg.MinConns > 0 {
		poolCfg.MinConns = d.cfg.MinConns
	}
	if d.cfg.MaxConns > 0 {
		poolCfg.MaxConns = d.cfg.MaxConns
	}
	if d.cfg.ConnectTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = d.cfg.ConnectTimeout
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return err
	}
	d.mu.Lock()
	d.pool = pool
	d.mu.Unlock()
	d.log.Debug("postgres pool opened", "host", poolCfg.ConnConfig.Host)
	return nil
}

func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	pool := d.pool
	d.pool = nil
	d.mu.Unlock()
	if pool != nil {
		pool.Close()
	}
	return nil
}

func (d *Driver) Ping(ctx context.Context) error {
	pool, err := d.acquire()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

func (d *Driver) Execute(ctx context.Context, requestID string, stmt *driver.Statement) (*driver.Result, error) {
	pool, err := d.acquire()
	if err != nil {
		return nil, err
	}
	ctx, release := d.reqs.Track(ctx, requestID)
	defer release()

	switch stmt.Op {
	case driver.OpSelect, driver.OpCount:
		rows, err := pool.Query(ctx, stmt.Text, stmt.Params...)
		if err != nil {
			return nil, err
		}
		return collect(rows, stmt.Op)
	default:
		tag, err := pool.Exec(ctx, stmt.Text, stmt.Params...)
		if err != nil {
			return nil, err
		}
		return &driver.Result{Affected: tag.RowsAffected()}, nil
	}
}

// ExecuteBatch runs all statements inside a single transaction; the
// whole batch commits or rolls back together.
func (d *Driver) ExecuteBatch(ctx context.Context, requestID string, stmts []*driver.Statement) (int64, error) {
	pool, err := d.acquire()
	if err != nil {
		return 0, err
	}
	ctx, release := d.reqs.Track(ctx, requestID)
	defer release()

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var affected int64
	for _, stmt := range stmts {
		tag, err := tx.Exec(ctx, stmt.Text, stmt.Params...)
		if err != nil {
			return 0, err
		}
		affected += tag.RowsAffected()
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return affected, nil
}

func (d *Driver) Cancel(requestID string) error {
	return d.reqs.Cancel(requestID)
}

func (d *Driver) Capabilities() driver.Capabilities {
	return driver.Capabilities{Transactions: true}
}

func (d *Driver) acquire() (*pgxpool.Pool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pool == nil {
		return nil, constants.ErrNotConnected
	}
	return d.pool, nil
}

func collect(rows pgx.Rows, op driver.Op) (*driver.Result, error) {
	defer rows.Close()
	fields := rows.FieldDescriptions()
	var out []driver.Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(driver.Row, len(fields))
		for i, f := range fields {
			row[f.Name] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res := &driver.Result{Rows: out}
	if op == driver.OpCount && len(out) > 0 {
		for _, v := range out[0] {
			switch n := v.(type) {
			case int64:
				res.Affected = n
			case int32:
				res.Affected = int64(n)
			}
		}
	}
	return res, nil
}
