package omnigrid

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnigrid/omnigrid.go/internal/memdb"
	"github.com/omnigrid/omnigrid.go/internal/mock"
	"github.com/omnigrid/omnigrid.go/pkg/bulk"
	"github.com/omnigrid/omnigrid.go/pkg/constants"
	"github.com/omnigrid/omnigrid.go/pkg/cursor"
	"github.com/omnigrid/omnigrid.go/pkg/dialect/kvdial"
	"github.com/omnigrid/omnigrid.go/pkg/driver"
	"github.com/omnigrid/omnigrid.go/pkg/filter"
	"github.com/omnigrid/omnigrid.go/pkg/meta"
	"github.com/omnigrid/omnigrid.go/pkg/metrics"
	"github.com/omnigrid/omnigrid.go/pkg/resilience"
)

func testAdapter(t *testing.T, cfg Config) (*Adapter, *memdb.Driver) {
	t.Helper()
	db := memdb.New()
	provider := meta.Static{"people": {
		{Name: "id", Type: "int", PrimaryKey: true, Sortable: true},
		{Name: "name", Type: "string", Sortable: true},
		{Name: "age", Type: "int", Sortable: true},
	}}
	a := New(db, kvdial.New(), provider, cfg)
	require.NoError(t, a.Connect(context.Background()))
	t.Cleanup(func() { _ = a.Disconnect(context.Background()) })
	return a, db
}

func seedPeople(db *memdb.Driver, n int) {
	rows := make([]driver.Row, 0, n)
	for i := 1; i <= n; i++ {
		rows = append(rows, driver.Row{"id": i, "name": fmt.Sprintf("p%02d", i), "age": 20 + i%50})
	}
	db.Seed("people", rows)
}

func TestAdapterPageAndCount(t *testing.T) {
	a, db := testAdapter(t, Config{})
	seedPeople(db, 30)
	ctx := context.Background()

	set := filter.Set{Conditions: []filter.Condition{{
		Column: "id", Operator: filter.LessOrEqual, Value: filter.Scalar(25),
	}}}

	count, err := a.CountFiltered(ctx, "people", set)
	require.NoError(t, err)
	assert.Equal(t, int64(25), count)

	page, err := a.FetchPage(ctx, "people", set, cursor.PageRequest{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, page.Rows, 10)
	assert.True(t, page.HasNext)
	assert.False(t, page.HasPrev)

	page, err = a.FetchPage(ctx, "people", set, cursor.PageRequest{Limit: 10, Cursor: page.NextCursor})
	require.NoError(t, err)
	assert.Equal(t, 11, page.Rows[0]["id"])
	assert.True(t, page.HasPrev)
}

func TestAdapterBulkRoundTrip(t *testing.T) {
	a, db := testAdapter(t, Config{})
	ctx := context.Background()

	rows := make([]driver.Row, 0, 12)
	for i := 1; i <= 12; i++ {
		rows = append(rows, driver.Row{"id": i, "name": fmt.Sprintf("p%02d", i), "age": 30})
	}
	res, err := a.BulkInsert(ctx, "people", rows, bulk.Options{BatchSize: 5})
	require.NoError(t, err)
	assert.Equal(t, 12, res.SuccessCount)
	assert.Len(t, db.RowsIn("people"), 12)

	res, err = a.BulkUpdate(ctx, "people", []bulk.Item{
		{Key: map[string]any{"id": 1}, Values: map[string]any{"age": 99}},
		{Key: map[string]any{"id": 2}, Values: map[string]any{"age": 99}},
	}, bulk.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.SuccessCount)

	count, err := a.CountFiltered(ctx, "people", filter.Set{Conditions: []filter.Condition{{
		Column: "age", Operator: filter.Equals, Value: filter.Scalar(99),
	}}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	res, err = a.BulkDelete(ctx, "people", []map[string]any{{"id": 1}, {"id": 2}, {"id": 3}}, bulk.Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.SuccessCount)
	assert.Len(t, db.RowsIn("people"), 9)
}

func TestAdapterReadOnlyRejectsWrites(t *testing.T) {
	a, _ := testAdapter(t, Config{ReadOnly: true})
	ctx := context.Background()

	_, err := a.BulkInsert(ctx, "people", []driver.Row{{"id": 1}}, bulk.Options{})
	require.ErrorIs(t, err, constants.ErrReadOnly)
	_, err = a.BulkUpdate(ctx, "people", []bulk.Item{{Key: map[string]any{"id": 1}, Values: map[string]any{"a": 1}}}, bulk.Options{})
	require.ErrorIs(t, err, constants.ErrReadOnly)
	_, err = a.BulkDelete(ctx, "people", []map[string]any{{"id": 1}}, bulk.Options{})
	require.ErrorIs(t, err, constants.ErrReadOnly)

	// Reads still work.
	_, err = a.FetchPage(ctx, "people", filter.Set{}, cursor.PageRequest{Limit: 5})
	require.NoError(t, err)
}

func TestAdapterBuildQueryWithoutExecuting(t *testing.T) {
	a, db := testAdapter(t, Config{})
	q, err := a.BuildQuery(filter.Set{Conditions: []filter.Condition{{
		Column: "name", Operator: filter.StartsWith, Value: filter.Scalar("p0"),
	}}})
	require.NoError(t, err)
	assert.True(t, q.Restricts())
	assert.Empty(t, db.RowsIn("people"))
}

func TestAdapterStatusAndSubscribe(t *testing.T) {
	a, _ := testAdapter(t, Config{})
	st, lastErr := a.Status()
	assert.Equal(t, resilience.StateConnected, st)
	assert.NoError(t, lastErr)

	events := a.Subscribe()
	require.NoError(t, a.Disconnect(context.Background()))
	ev := <-events
	assert.Equal(t, resilience.StateDisconnected, ev.State)
}

func TestAdapterCancelRoutesToDriver(t *testing.T) {
	drv := &mock.Driver{}
	a := New(drv, kvdial.New(), meta.Static{}, Config{})
	require.NoError(t, a.Connect(context.Background()))
	t.Cleanup(func() { _ = a.Disconnect(context.Background()) })

	require.NoError(t, a.Cancel("req-9"))
	assert.Equal(t, []string{"req-9"}, drv.Canceled)
}

func TestAdapterMetricsTrackerSurvivesReconnectCycle(t *testing.T) {
	stats, err := metrics.NewCollector(prometheus.NewRegistry(), "memdb")
	require.NoError(t, err)
	a := New(memdb.New(), kvdial.New(), meta.Static{}, Config{Metrics: stats})
	ctx := context.Background()

	// Disconnect releases the tracker's subscription; a later Connect
	// arms a fresh one instead of leaking the old goroutine.
	require.NoError(t, a.Connect(ctx))
	require.NoError(t, a.Disconnect(ctx))
	require.NoError(t, a.Connect(ctx))
	require.NoError(t, a.Disconnect(ctx))
}

func TestAdapterOperationFailuresSurface(t *testing.T) {
	a, db := testAdapter(t, Config{})
	seedPeople(db, 5)
	db.FailFn = func(stmt *driver.Statement) error {
		if stmt.Op == driver.OpInsert {
			return errors.New("table is full")
		}
		return nil
	}

	_, err := a.BulkInsert(context.Background(), "people", []driver.Row{{"id": 99}}, bulk.Options{})
	require.ErrorIs(t, err, constants.ErrBatchAborted)

	// Reads are unaffected.
	page, err := a.FetchPage(context.Background(), "people", filter.Set{}, cursor.PageRequest{Limit: 3})
	require.NoError(t, err)
	assert.Len(t, page.Rows, 3)
}

func TestCountOf(t *testing.T) {
	assert.Equal(t, int64(7), countOf(&driver.Result{Affected: 7}))
	assert.Equal(t, int64(3), countOf(&driver.Result{Rows: []driver.Row{{"count": int64(3)}}}))
	assert.Equal(t, int64(4), countOf(&driver.Result{Rows: []driver.Row{{"count": 4}}}))
	assert.Equal(t, int64(5), countOf(&driver.Result{Rows: []driver.Row{{"count": float64(5)}}}))
	assert.Equal(t, int64(0), countOf(&driver.Result{}))
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "transport", errorKind(fmt.Errorf("%w: x", constants.ErrTransport)))
	assert.Equal(t, "transport", errorKind(fmt.Errorf("%w: x", constants.ErrReconnectExhausted)))
	assert.Equal(t, "backend", errorKind(fmt.Errorf("%w: x", constants.ErrBackend)))
	assert.Equal(t, "compile", errorKind(fmt.Errorf("%w: x", constants.ErrCompile)))
	assert.Equal(t, "not_connected", errorKind(constants.ErrNotConnected))
	assert.Equal(t, "other", errorKind(errors.New("weird")))
}
