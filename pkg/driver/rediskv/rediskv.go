// Package rediskv implements the backend driver contract over Redis.
// Rows are JSON documents stored under "<table>:<key>"; filtering runs
// client-side through kvdial predicates while SCAN streams the keyspace.
package rediskv

import (
	"context"
	"fmt"
	"sort"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/omnigrid/omnigrid.go/pkg/constants"
	"github.com/omnigrid/omnigrid.go/pkg/dialect"
	"github.com/omnigrid/omnigrid.go/pkg/dialect/kvdial"
	"github.com/omnigrid/omnigrid.go/pkg/driver"
	"github.com/omnigrid/omnigrid.go/pkg/logger"
)

const defaultScanCount = 512

type Config struct {
	// URL is a redis:// connection string.
	URL string
	// KeyColumn is the row column used as the key suffix. Defaults to
	// "key". Rows inserted without it get a generated UUID.
	KeyColumn string
	ScanCount int64
	Logger    logger.Logger
}

type Driver struct {
	cfg Config
	log logger.Logger

	reqs driver.CancelRegistry

	mu     sync.Mutex
	client *redis.Client
}

var (
	_ driver.Driver  = (*Driver)(nil)
	_ driver.Batcher = (*Driver)(nil)
)

func New(cfg Config) *Driver {
	if cfg.KeyColumn == "" {
		cfg.KeyColumn = "key"
	}
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = defaultScanCount
	}
	return &Driver{cfg: cfg, log: logger.OrNop(cfg.Logger)}
}

func (d *Driver) Open(ctx context.Context) error {
	opts, err := redis.ParseURL(d.cfg.URL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return err
	}
	d.mu.Lock()
	d.client = client
	d.mu.Unlock()
	return nil
}

func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	client := d.client
	d.client = nil
	d.mu.Unlock()
	if client != nil {
		return client.Close()
	}
	return nil
}

func (d *Driver) Ping(ctx context.Context) error {
	client, err := d.handle()
	if err != nil {
		return err
	}
	return client.Ping(ctx).Err()
}

func (d *Driver) Execute(ctx context.Context, requestID string, stmt *driver.Statement) (*driver.Result, error) {
	client, err := d.handle()
	if err != nil {
		return nil, err
	}
	ctx, release := d.reqs.Track(ctx, requestID)
	defer release()

	switch plan := stmt.Native.(type) {
	case kvdial.SelectPlan:
		rows, err := d.scanTable(ctx, client, stmt.Table, plan.Match)
		if err != nil {
			return nil, err
		}
		sortRows(rows, plan.Sort)
		if plan.Limit > 0 && len(rows) > plan.Limit {
			rows = rows[:plan.Limit]
		}
		return &driver.Result{Rows: rows}, nil
	case kvdial.CountPlan:
		rows, err := d.scanTable(ctx, client, stmt.Table, plan.Match)
		if err != nil {
			return nil, err
		}
		return &driver.Result{Affected: int64(len(rows))}, nil
	case kvdial.InsertPlan:
		return d.insert(ctx, client, stmt.Table, plan.Rows)
	case kvdial.UpdatePlan:
		return d.update(ctx, client, stmt.Table, plan)
	case kvdial.DeletePlan:
		return d.deleteKeys(ctx, client, stmt.Table, plan.Keys)
	default:
		return nil, fmt.Errorf("%w: unsupported plan %T", constants.ErrCompile, stmt.Native)
	}
}

// ExecuteBatch runs the statements back to back. Redis has no
// transactions across arbitrary commands here; a mid-batch failure
// leaves earlier writes applied and fails the whole batch.
func (d *Driver) ExecuteBatch(ctx context.Context, requestID string, stmts []*driver.Statement) (int64, error) {
	var affected int64
	for _, stmt := range stmts {
		res, err := d.Execute(ctx, requestID, stmt)
		if err != nil {
			return 0, err
		}
		affected += res.Affected
	}
	return affected, nil
}

func (d *Driver) Cancel(requestID string) error {
	return d.reqs.Cancel(requestID)
}

func (d *Driver) Capabilities() driver.Capabilities {
	return driver.Capabilities{}
}

func (d *Driver) handle() (*redis.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == nil {
		return nil, constants.ErrNotConnected
	}
	return d.client, nil
}

func (d *Driver) rowKey(table string, row driver.Row) (string, string) {
	if v, ok := row[d.cfg.KeyColumn]; ok && v != nil {
		id := fmt.Sprint(v)
		return table + ":" + id, id
	}
	id := uuid.Must(uuid.NewV4()).String()
	return table + ":" + id, id
}

func (d *Driver) scanTable(ctx context.Context, client *redis.Client, table string, match kvdial.Predicate) ([]driver.Row, error) {
	var rows []driver.Row
	iter := client.Scan(ctx, 0, table+":*", d.cfg.ScanCount).Iterator()
	var keys []string
	flush := func() error {
		if len(keys) == 0 {
			return nil
		}
		vals, err := client.MGet(ctx, keys...).Result()
		if err != nil {
			return err
		}
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				continue
			}
			row := driver.Row{}
			if err := json.Unmarshal([]byte(s), &row); err != nil {
				d.log.Warn("skipping undecodable row", "key", keys[i], "error", err)
				continue
			}
			if match == nil || match(row) {
				rows = append(rows, row)
			}
		}
		keys = keys[:0]
		return nil
	}
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= int(d.cfg.ScanCount) {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return rows, nil
}

func (d *Driver) insert(ctx context.Context, client *redis.Client, table string, rows []driver.Row) (*driver.Result, error) {
	pipe := client.Pipeline()
	ids := make([]any, 0, len(rows))
	for _, row := range rows {
		key, id := d.rowKey(table, row)
		if _, ok := row[d.cfg.KeyColumn]; !ok {
			row = cloneWith(row, d.cfg.KeyColumn, id)
		}
		buf, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("%w: encode row: %w", constants.ErrCompile, err)
		}
		pipe.Set(ctx, key, buf, 0)
		ids = append(ids, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return &driver.Result{Affected: int64(len(rows)), InsertedIDs: ids}, nil
}

func (d *Driver) update(ctx context.Context, client *redis.Client, table string, plan kvdial.UpdatePlan) (*driver.Result, error) {
	id, ok := plan.Key[d.cfg.KeyColumn]
	if !ok {
		return nil, fmt.Errorf("%w: update key must include column %q", constants.ErrCompile, d.cfg.KeyColumn)
	}
	key := table + ":" + fmt.Sprint(id)
	raw, err := client.Get(ctx, key).Result()
	if err == redis.Nil {
		return &driver.Result{}, nil
	}
	if err != nil {
		return nil, err
	}
	row := driver.Row{}
	if err := json.Unmarshal([]byte(raw), &row); err != nil {
		return nil, err
	}
	for k, v := range plan.Values {
		row[k] = v
	}
	buf, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}
	if err := client.Set(ctx, key, buf, redis.KeepTTL).Err(); err != nil {
		return nil, err
	}
	return &driver.Result{Affected: 1}, nil
}

func (d *Driver) deleteKeys(ctx context.Context, client *redis.Client, table string, keys []map[string]any) (*driver.Result, error) {
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		id, ok := k[d.cfg.KeyColumn]
		if !ok {
			return nil, fmt.Errorf("%w: delete key must include column %q", constants.ErrCompile, d.cfg.KeyColumn)
		}
		names = append(names, table+":"+fmt.Sprint(id))
	}
	n, err := client.Del(ctx, names...).Result()
	if err != nil {
		return nil, err
	}
	return &driver.Result{Affected: n}, nil
}

func cloneWith(row driver.Row, col string, v any) driver.Row {
	out := make(driver.Row, len(row)+1)
	for k, val := range row {
		out[k] = val
	}
	out[col] = v
	return out
}

func sortRows(rows []driver.Row, keys []dialect.SortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			c := kvdial.Compare(rows[i][k.Column], rows[j][k.Column])
			if c == 0 {
				continue
			}
			if k.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}
