// Package sqlitedrv implements the backend driver contract over the
// cgo-free modernc SQLite engine via database/sql.
package sqlitedrv

import (
	"context"
	"database/sql"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/omnigrid/omnigrid.go/pkg/constants"
	"github.com/omnigrid/omnigrid.go/pkg/driver"
	"github.com/omnigrid/omnigrid.go/pkg/logger"
)

type Config struct {
	// DSN is a file path or ":memory:".
	DSN      string
	MaxConns int
	Logger   logger.Logger
}

type Driver struct {
	cfg Config
	log logger.Logger

	reqs driver.CancelRegistry

	mu sync.Mutex
	db *sql.DB
}

var (
	_ driver.Driver  = (*Driver)(nil)
	_ driver.Batcher = (*Driver)(nil)
)

func New(cfg Config) *Driver {
	return &Driver{cfg: cfg, log: logger.OrNop(cfg.Logger)}
}

func (d *Driver) Open(ctx context.Context) error {
	db, err := sql.Open("sqlite", d.cfg.DSN)
	if err != nil {
		return err
	}
	if d.cfg.MaxConns > 0 {
		db.SetMaxOpenConns(d.cfg.MaxConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return err
	}
	d.mu.Lock()
	d.db = db
	d.mu.Unlock()
	return nil
}

func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	db := d.db
	d.db = nil
	d.mu.Unlock()
	if db != nil {
		return db.Close()
	}
	return nil
}

func (d *Driver) Ping(ctx context.Context) error {
	db, err := d.handle()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

func (d *Driver) Execute(ctx context.Context, requestID string, stmt *driver.Statement) (*driver.Result, error) {
	db, err := d.handle()
	if err != nil {
		return nil, err
	}
	ctx, release := d.reqs.Track(ctx, requestID)
	defer release()

	switch stmt.Op {
	case driver.OpSelect, driver.OpCount:
		rows, err := db.QueryContext(ctx, stmt.Text, stmt.Params...)
		if err != nil {
			return nil, err
		}
		return scanRows(rows, stmt.Op)
	default:
		res, err := db.ExecContext(ctx, stmt.Text, stmt.Params...)
		if err != nil {
			return nil, err
		}
		affected, _ := res.RowsAffected()
		return &driver.Result{Affected: affected}, nil
	}
}

func (d *Driver) ExecuteBatch(ctx context.Context, requestID string, stmts []*driver.Statement) (int64, error) {
	db, err := d.handle()
	if err != nil {
		return 0, err
	}
	ctx, release := d.reqs.Track(ctx, requestID)
	defer release()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var affected int64
	for _, stmt := range stmts {
		res, err := tx.ExecContext(ctx, stmt.Text, stmt.Params...)
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		affected += n
	}
	if err := tx.Commit(); err != nil {
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

func (d *Driver) handle() (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil, constants.ErrNotConnected
	}
	return d.db, nil
}

func scanRows(rows *sql.Rows, op driver.Op) (*driver.Result, error) {
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []driver.Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(driver.Row, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = vals[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res := &driver.Result{Rows: out}
	if op == driver.OpCount && len(out) > 0 {
		for _, v := range out[0] {
			if n, ok := v.(int64); ok {
				res.Affected = n
			}
		}
	}
	return res, nil
}
