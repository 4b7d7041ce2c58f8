package cursor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnigrid/omnigrid.go/internal/memdb"
	"github.com/omnigrid/omnigrid.go/pkg/dialect/kvdial"
	"github.com/omnigrid/omnigrid.go/pkg/driver"
	"github.com/omnigrid/omnigrid.go/pkg/filter"
	"github.com/omnigrid/omnigrid.go/pkg/meta"
)

func seededPaginator(t *testing.T, rows int, window int) (*Paginator, *memdb.Driver) {
	t.Helper()
	db := memdb.New()
	db.Window = window
	require.NoError(t, db.Open(context.Background()))
	var data []driver.Row
	for i := 1; i <= rows; i++ {
		data = append(data, driver.Row{"id": i, "name": fmt.Sprintf("row-%02d", i)})
	}
	db.Seed("items", data)

	p := &Paginator{
		Driver:  db,
		Dialect: kvdial.New(),
		Meta: meta.Static{"items": {
			{Name: "id", Type: "int", PrimaryKey: true, Sortable: true},
			{Name: "name", Type: "string", Sortable: true},
		}},
	}
	return p, db
}

func ids(rows []driver.Row) []int {
	out := make([]int, 0, len(rows))
	for _, r := range rows {
		out = append(out, r["id"].(int))
	}
	return out
}

func intRange(from, to int) []int {
	var out []int
	if from <= to {
		for i := from; i <= to; i++ {
			out = append(out, i)
		}
		return out
	}
	for i := from; i >= to; i-- {
		out = append(out, i)
	}
	return out
}

// walkForward fetches pages until HasNext is false and returns them.
func walkForward(t *testing.T, p *Paginator, req PageRequest) []*PageResult {
	t.Helper()
	ctx := context.Background()
	var pages []*PageResult
	cursor := req.Cursor
	for {
		r := req
		r.Cursor = cursor
		page, err := p.FetchPage(ctx, "items", filter.Set{}, r)
		require.NoError(t, err)
		pages = append(pages, page)
		if !page.HasNext {
			return pages
		}
		require.NotEmpty(t, page.NextCursor)
		cursor = page.NextCursor
		require.Less(t, len(pages), 20, "pagination did not terminate")
	}
}

func testFullEnumeration(t *testing.T, window int) {
	p, _ := seededPaginator(t, 25, window)
	req := PageRequest{Limit: 10}

	pages := walkForward(t, p, req)
	require.Len(t, pages, 3)

	assert.Equal(t, intRange(1, 10), ids(pages[0].Rows))
	assert.Equal(t, intRange(11, 20), ids(pages[1].Rows))
	assert.Equal(t, intRange(21, 25), ids(pages[2].Rows))

	assert.False(t, pages[0].HasPrev)
	assert.True(t, pages[1].HasPrev)
	assert.True(t, pages[2].HasPrev)
	assert.False(t, pages[2].HasNext)
	assert.Empty(t, pages[2].NextCursor)

	// Walk back to the start through the prev cursors.
	ctx := context.Background()
	page, err := p.FetchPage(ctx, "items", filter.Set{}, PageRequest{Limit: 10, Cursor: pages[2].PrevCursor})
	require.NoError(t, err)
	assert.Equal(t, intRange(11, 20), ids(page.Rows))
	assert.True(t, page.HasNext)
	assert.True(t, page.HasPrev)

	page, err = p.FetchPage(ctx, "items", filter.Set{}, PageRequest{Limit: 10, Cursor: page.PrevCursor})
	require.NoError(t, err)
	assert.Equal(t, intRange(1, 10), ids(page.Rows))
	assert.True(t, page.HasNext)
	assert.False(t, page.HasPrev)
	assert.Empty(t, page.PrevCursor)
}

func TestKeysetEnumeration(t *testing.T) {
	testFullEnumeration(t, 0)
}

// With a result window smaller than the data set the paginator switches
// to the scroll skip-forward path; the pages must come out identical.
func TestScrollEnumeration(t *testing.T) {
	testFullEnumeration(t, 10)
}

func TestDescendingOrder(t *testing.T) {
	p, _ := seededPaginator(t, 25, 0)
	pages := walkForward(t, p, PageRequest{Limit: 10, SortColumn: "id", Descending: true})
	require.Len(t, pages, 3)
	assert.Equal(t, intRange(25, 16), ids(pages[0].Rows))
	assert.Equal(t, intRange(15, 6), ids(pages[1].Rows))
	assert.Equal(t, intRange(5, 1), ids(pages[2].Rows))

	// One step back from the middle page.
	page, err := p.FetchPage(context.Background(), "items", filter.Set{},
		PageRequest{Limit: 10, SortColumn: "id", Descending: true, Cursor: pages[1].PrevCursor})
	require.NoError(t, err)
	assert.Equal(t, intRange(25, 16), ids(page.Rows))
	assert.False(t, page.HasPrev)
}

func TestFilterRestrictsPages(t *testing.T) {
	p, _ := seededPaginator(t, 25, 0)
	set := filter.Set{Conditions: []filter.Condition{{
		Column: "id", Operator: filter.Between,
		Value: filter.Scalar(5), Value2: filter.Scalar(14),
	}}}
	page, err := p.FetchPage(context.Background(), "items", set, PageRequest{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, intRange(5, 14), ids(page.Rows))
	assert.False(t, page.HasNext)
}

func TestExactPageBoundary(t *testing.T) {
	// 20 rows, limit 10: the second fetch drains exactly the rest.
	p, _ := seededPaginator(t, 20, 0)
	pages := walkForward(t, p, PageRequest{Limit: 10})
	require.Len(t, pages, 2)
	assert.Equal(t, intRange(11, 20), ids(pages[1].Rows))
	assert.False(t, pages[1].HasNext)
}

func TestEmptyTable(t *testing.T) {
	p, _ := seededPaginator(t, 0, 0)
	page, err := p.FetchPage(context.Background(), "items", filter.Set{}, PageRequest{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Rows)
	assert.False(t, page.HasNext)
	assert.False(t, page.HasPrev)
	assert.Empty(t, page.NextCursor)
}

func TestCursorForDifferentSortRestarts(t *testing.T) {
	p, _ := seededPaginator(t, 25, 0)
	stale, err := Encode(Position{Values: map[string]any{"name": "row-05"}, Offset: 10})
	require.NoError(t, err)

	page, err := p.FetchPage(context.Background(), "items", filter.Set{},
		PageRequest{Limit: 10, SortColumn: "id", Cursor: stale})
	require.NoError(t, err)
	assert.Equal(t, intRange(1, 10), ids(page.Rows))
	assert.False(t, page.HasPrev)
}

func TestMalformedCursor(t *testing.T) {
	p, _ := seededPaginator(t, 25, 0)
	_, err := p.FetchPage(context.Background(), "items", filter.Set{},
		PageRequest{Limit: 10, Cursor: "%%%"})
	require.Error(t, err)
}

func TestDeletedBoundaryDegrades(t *testing.T) {
	p, db := seededPaginator(t, 25, 0)
	page, err := p.FetchPage(context.Background(), "items", filter.Set{}, PageRequest{Limit: 10})
	require.NoError(t, err)

	// Remove the boundary row; the strict inequality lands on the next
	// surviving row instead of failing.
	var kept []driver.Row
	for _, r := range db.RowsIn("items") {
		if r["id"].(int) != 10 {
			kept = append(kept, r)
		}
	}
	db.Seed("items", kept)

	next, err := p.FetchPage(context.Background(), "items", filter.Set{},
		PageRequest{Limit: 10, Cursor: page.NextCursor})
	require.NoError(t, err)
	assert.Equal(t, intRange(11, 20), ids(next.Rows))
}

func TestCursorColumnElection(t *testing.T) {
	ctx := context.Background()
	p := &Paginator{Meta: meta.Static{
		"with_pk":  {{Name: "a"}, {Name: "b", PrimaryKey: true}},
		"sortable": {{Name: "a"}, {Name: "b", Sortable: true}},
		"plain":    {{Name: "a"}, {Name: "b"}},
	}}

	col, err := p.cursorColumn(ctx, "with_pk", "explicit")
	require.NoError(t, err)
	assert.Equal(t, "explicit", col)

	col, err = p.cursorColumn(ctx, "with_pk", "")
	require.NoError(t, err)
	assert.Equal(t, "b", col)

	col, err = p.cursorColumn(ctx, "sortable", "")
	require.NoError(t, err)
	assert.Equal(t, "b", col)

	col, err = p.cursorColumn(ctx, "plain", "")
	require.NoError(t, err)
	assert.Equal(t, "a", col)

	_, err = p.cursorColumn(ctx, "missing", "")
	require.Error(t, err)
}

func TestBoundaryOperator(t *testing.T) {
	assert.Equal(t, filter.GreaterThan, boundaryOperator(false, false))
	assert.Equal(t, filter.LessThan, boundaryOperator(true, false))
	assert.Equal(t, filter.LessThan, boundaryOperator(false, true))
	assert.Equal(t, filter.GreaterThan, boundaryOperator(true, true))
}
