package bulk_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnigrid/omnigrid.go/internal/mock"
	"github.com/omnigrid/omnigrid.go/pkg/bulk"
	"github.com/omnigrid/omnigrid.go/pkg/constants"
	"github.com/omnigrid/omnigrid.go/pkg/dialect/kvdial"
	"github.com/omnigrid/omnigrid.go/pkg/driver"
)

func makeRows(n int) []driver.Row {
	out := make([]driver.Row, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, driver.Row{"id": i, "name": fmt.Sprintf("r%d", i)})
	}
	return out
}

func makeItems(n int) []bulk.Item {
	out := make([]bulk.Item, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, bulk.Item{
			Key:    map[string]any{"id": i},
			Values: map[string]any{"name": "changed"},
		})
	}
	return out
}

func makeKeys(n int) []map[string]any {
	out := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, map[string]any{"id": i})
	}
	return out
}

func coordinator(drv driver.Driver) *bulk.Coordinator {
	return &bulk.Coordinator{Driver: drv, Dialect: kvdial.New()}
}

func TestInsertBatching(t *testing.T) {
	drv := &mock.Driver{}
	var batchSizes []int
	drv.ExecuteFn = func(_ context.Context, _ string, stmt *driver.Statement) (*driver.Result, error) {
		plan := stmt.Native.(kvdial.InsertPlan)
		batchSizes = append(batchSizes, len(plan.Rows))
		return &driver.Result{Affected: int64(len(plan.Rows))}, nil
	}

	res, err := coordinator(drv).Insert(context.Background(), "t", makeRows(1050), bulk.Options{})
	require.NoError(t, err)
	assert.Equal(t, []int{500, 500, 50}, batchSizes)
	assert.Equal(t, 1050, res.SuccessCount)
	assert.Zero(t, res.FailureCount)
	assert.Empty(t, res.Errors)
}

func TestInsertProgress(t *testing.T) {
	drv := &mock.Driver{}
	var seen []int
	_, err := coordinator(drv).Insert(context.Background(), "t", makeRows(25), bulk.Options{
		BatchSize:  10,
		OnProgress: func(done, total int) { seen = append(seen, done); assert.Equal(t, 25, total) },
	})
	require.NoError(t, err)
	assert.Equal(t, []int{10, 20, 25}, seen)
}

func TestInsertAbortsOnFirstError(t *testing.T) {
	drv := &mock.Driver{ExecErrs: []error{nil, errors.New("disk full")}}

	res, err := coordinator(drv).Insert(context.Background(), "t", makeRows(25), bulk.Options{BatchSize: 10})
	require.ErrorIs(t, err, constants.ErrBatchAborted)
	assert.Nil(t, res)
	// The third batch is never attempted.
	assert.Equal(t, 2, drv.ExecuteCalls)
}

func TestInsertSkipErrorsAttributesWholeBatch(t *testing.T) {
	drv := &mock.Driver{ExecErrs: []error{nil, errors.New("disk full"), nil}}

	res, err := coordinator(drv).Insert(context.Background(), "t", makeRows(25), bulk.Options{
		BatchSize:  10,
		SkipErrors: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 15, res.SuccessCount)
	assert.Equal(t, 10, res.FailureCount)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 10, res.Errors[0].Index)
	assert.ErrorContains(t, res.Errors[0], "disk full")
}

func TestInsertCollectsInsertedIDs(t *testing.T) {
	drv := &mock.Driver{}
	drv.ExecuteFn = func(_ context.Context, _ string, stmt *driver.Statement) (*driver.Result, error) {
		plan := stmt.Native.(kvdial.InsertPlan)
		ids := make([]any, len(plan.Rows))
		for i, row := range plan.Rows {
			ids[i] = row["id"]
		}
		return &driver.Result{Affected: int64(len(plan.Rows)), InsertedIDs: ids}, nil
	}
	res, err := coordinator(drv).Insert(context.Background(), "t", makeRows(5), bulk.Options{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, []any{0, 1, 2, 3, 4}, res.InsertedIDs)
}

// batchingDriver counts ExecuteBatch calls on top of the scripted mock.
type batchingDriver struct {
	mock.Driver
	mu      sync.Mutex
	batches [][]*driver.Statement
	errs    []error
}

func (d *batchingDriver) ExecuteBatch(_ context.Context, _ string, stmts []*driver.Statement) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, stmts)
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return 0, err
		}
	}
	return int64(len(stmts)), nil
}

func TestUpdateUsesDriverBatches(t *testing.T) {
	drv := &batchingDriver{}
	res, err := coordinator(drv).Update(context.Background(), "t", makeItems(25), bulk.Options{BatchSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 25, res.SuccessCount)
	require.Len(t, drv.batches, 3)
	assert.Len(t, drv.batches[0], 10)
	assert.Len(t, drv.batches[2], 5)
	// Statements go through the batch path, not Execute.
	assert.Zero(t, drv.ExecuteCalls)
}

func TestUpdateFallsBackToPerRowExecute(t *testing.T) {
	drv := &mock.Driver{}
	res, err := coordinator(drv).Update(context.Background(), "t", makeItems(7), bulk.Options{BatchSize: 3})
	require.NoError(t, err)
	assert.Equal(t, 7, res.SuccessCount)
	assert.Equal(t, 7, drv.ExecuteCalls)
}

func TestUpdateSkipErrors(t *testing.T) {
	drv := &batchingDriver{errs: []error{nil, errors.New("lock timeout")}}
	res, err := coordinator(drv).Update(context.Background(), "t", makeItems(25), bulk.Options{
		BatchSize:  10,
		SkipErrors: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 15, res.SuccessCount)
	assert.Equal(t, 10, res.FailureCount)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 10, res.Errors[0].Index)
}

func TestDeleteBatching(t *testing.T) {
	drv := &mock.Driver{}
	var batchSizes []int
	drv.ExecuteFn = func(_ context.Context, _ string, stmt *driver.Statement) (*driver.Result, error) {
		plan := stmt.Native.(kvdial.DeletePlan)
		batchSizes = append(batchSizes, len(plan.Keys))
		return &driver.Result{Affected: int64(len(plan.Keys))}, nil
	}
	res, err := coordinator(drv).Delete(context.Background(), "t", makeKeys(2500), bulk.Options{})
	require.NoError(t, err)
	assert.Equal(t, []int{1000, 1000, 500}, batchSizes)
	assert.Equal(t, 2500, res.SuccessCount)
}

func TestConcurrentBatchesKeepAttribution(t *testing.T) {
	var mu sync.Mutex
	failed := map[int]bool{3: true, 7: true}
	drv := &mock.Driver{}
	drv.ExecuteFn = func(_ context.Context, _ string, stmt *driver.Statement) (*driver.Result, error) {
		plan := stmt.Native.(kvdial.InsertPlan)
		mu.Lock()
		defer mu.Unlock()
		if failed[plan.Rows[0]["id"].(int)/10] {
			return nil, errors.New("boom")
		}
		return &driver.Result{Affected: int64(len(plan.Rows))}, nil
	}

	res, err := coordinator(drv).Insert(context.Background(), "t", makeRows(100), bulk.Options{
		BatchSize:   10,
		SkipErrors:  true,
		Concurrency: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, 80, res.SuccessCount)
	assert.Equal(t, 20, res.FailureCount)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, 30, res.Errors[0].Index)
	assert.Equal(t, 70, res.Errors[1].Index)
}

func TestEmptyInputsAreNoOps(t *testing.T) {
	drv := &mock.Driver{}
	c := coordinator(drv)
	ctx := context.Background()

	res, err := c.Insert(ctx, "t", nil, bulk.Options{})
	require.NoError(t, err)
	assert.Zero(t, res.SuccessCount)

	res, err = c.Update(ctx, "t", nil, bulk.Options{})
	require.NoError(t, err)
	assert.Zero(t, res.SuccessCount)

	res, err = c.Delete(ctx, "t", nil, bulk.Options{})
	require.NoError(t, err)
	assert.Zero(t, res.SuccessCount)
	assert.Zero(t, drv.ExecuteCalls)
}
