package cursor

import (
	"context"
	"fmt"

	"github.com/omnigrid/omnigrid.go/pkg/constants"
	"github.com/omnigrid/omnigrid.go/pkg/dialect"
	"github.com/omnigrid/omnigrid.go/pkg/driver"
	"github.com/omnigrid/omnigrid.go/pkg/filter"
	"github.com/omnigrid/omnigrid.go/pkg/logger"
	"github.com/omnigrid/omnigrid.go/pkg/meta"
)

const (
	defaultLimit       = 100
	defaultScrollBatch = 1000
)

// PageRequest describes one page fetch. Cursor is a token from a previous
// PageResult, or empty to start at the natural order boundary.
type PageRequest struct {
	Limit      int
	SortColumn string
	Descending bool
	Cursor     string

	// RequestID, when set, registers the underlying driver call for
	// out-of-band cancellation.
	RequestID string
}

// PageResult is one page of rows in the caller's forward display order,
// plus tokens for the adjacent pages.
type PageResult struct {
	Rows       []driver.Row
	HasNext    bool
	HasPrev    bool
	NextCursor string
	PrevCursor string
}

// Paginator plans keyset page fetches against one backend.
type Paginator struct {
	Driver  driver.Driver
	Dialect dialect.Dialect
	Meta    meta.Provider
	Logger  logger.Logger

	// ScrollBatch sizes the chunks drained from a Scroll during
	// skip-forward; zero uses a default.
	ScrollBatch int
}

// FetchPage fetches one page. It fetches limit+1 rows to derive HasNext
// without a count query, trims to the limit, and reverses row order when
// paging backward so results always come back in display order. A cursor
// whose boundary value no longer exists degrades to the nearest boundary
// by construction: the boundary condition is a strict inequality.
func (p *Paginator) FetchPage(ctx context.Context, table string, set filter.Set, req PageRequest) (*PageResult, error) {
	log := logger.OrNop(p.Logger)
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	col, err := p.cursorColumn(ctx, table, req.SortColumn)
	if err != nil {
		return nil, err
	}

	var pos *Position
	if req.Cursor != "" {
		pos, err = Decode(req.Cursor)
		if err != nil {
			return nil, err
		}
		if _, ok := pos.Values[col]; !ok {
			// The sort changed since the token was issued; the boundary
			// is meaningless, so restart from the natural boundary.
			log.Warn("cursor does not cover the active sort column, restarting", "table", table, "column", col)
			pos = nil
		}
	}

	where, err := p.Dialect.CompileFilter(set)
	if err != nil {
		return nil, err
	}

	caps := p.Driver.Capabilities()
	depth := pageStart(pos, limit)
	if caps.MaxResultWindow > 0 && depth+limit+1 > caps.MaxResultWindow {
		if sc, ok := p.Driver.(driver.Scroller); ok {
			log.Debug("page exceeds result window, using scroll skip-forward",
				"table", table, "depth", depth, "window", caps.MaxResultWindow)
			return p.scrollPage(ctx, sc, table, where, col, req.Descending, limit, pos)
		}
	}

	return p.keysetPage(ctx, table, where, col, req, limit, pos)
}

func (p *Paginator) keysetPage(
	ctx context.Context,
	table string,
	where *dialect.CompiledQuery,
	col string,
	req PageRequest,
	limit int,
	pos *Position,
) (*PageResult, error) {
	backward := pos != nil && pos.Backward

	if pos != nil {
		boundary, err := p.Dialect.CompileFilter(filter.Set{
			Conditions: []filter.Condition{{
				Column:   col,
				Operator: boundaryOperator(req.Descending, backward),
				Value:    filter.Scalar(pos.Values[col]),
			}},
			Logic: filter.And,
		})
		if err != nil {
			return nil, err
		}
		where = p.Dialect.And(where, boundary)
	}

	// Backward paging flips the scan direction so the same strict
	// boundary operator works for both directions.
	scanDesc := req.Descending != backward
	stmt, err := p.Dialect.SelectStatement(table, where, []dialect.SortKey{{Column: col, Desc: scanDesc}}, limit+1)
	if err != nil {
		return nil, err
	}
	res, err := p.Driver.Execute(ctx, req.RequestID, stmt)
	if err != nil {
		return nil, err
	}

	rows := res.Rows
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	if backward {
		reverseRows(rows)
	}

	start := 0
	page := &PageResult{Rows: rows}
	if backward {
		start = pos.Offset - len(rows)
		if start < 0 {
			start = 0
		}
		page.HasNext = true
		page.HasPrev = hasMore
	} else {
		if pos != nil {
			start = pos.Offset
		}
		page.HasNext = hasMore
		page.HasPrev = pos != nil
	}
	return p.attachCursors(page, rows, col, start)
}

// scrollPage serves pages past the backend's result window by draining a
// stable scan handle and discarding rows up to the page start. O(offset),
// but invisible to the caller.
func (p *Paginator) scrollPage(
	ctx context.Context,
	sc driver.Scroller,
	table string,
	where *dialect.CompiledQuery,
	col string,
	descending bool,
	limit int,
	pos *Position,
) (*PageResult, error) {
	backward := pos != nil && pos.Backward
	start := pageStart(pos, limit)
	take := limit + 1
	if backward {
		// A backward page covers [start, end) in display order; rows
		// before start tell us whether another previous page exists.
		end := pos.Offset
		if start > 0 {
			start--
			take = end - start
		} else {
			take = end
		}
	}

	// The scroll walks in display order; offsets substitute for the
	// boundary condition, so the filter alone is pushed down.
	stmt, err := p.Dialect.SelectStatement(table, where, []dialect.SortKey{{Column: col, Desc: descending}}, 0)
	if err != nil {
		return nil, err
	}
	batch := p.ScrollBatch
	if batch <= 0 {
		batch = defaultScrollBatch
	}
	scroll, err := sc.OpenScroll(ctx, stmt, batch)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := scroll.Close(ctx); cerr != nil {
			logger.OrNop(p.Logger).Warn("closing scroll", "table", table, "error", cerr)
		}
	}()

	rows, err := drainScroll(ctx, scroll, start, take)
	if err != nil {
		return nil, err
	}

	page := &PageResult{}
	if backward {
		overfetched := pos.Offset-start > limit
		if overfetched && len(rows) > 0 {
			rows = rows[1:]
			start++
		}
		page.HasPrev = overfetched
		page.HasNext = true
	} else {
		page.HasNext = len(rows) > limit
		if page.HasNext {
			rows = rows[:limit]
		}
		page.HasPrev = pos != nil
	}
	page.Rows = rows
	return p.attachCursors(page, rows, col, start)
}

func drainScroll(ctx context.Context, scroll driver.Scroll, skip, take int) ([]driver.Row, error) {
	var out []driver.Row
	for take > 0 {
		batch, err := scroll.Next(ctx)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		if skip >= len(batch) {
			skip -= len(batch)
			continue
		}
		batch = batch[skip:]
		skip = 0
		if len(batch) > take {
			batch = batch[:take]
		}
		out = append(out, batch...)
		take -= len(batch)
	}
	return out, nil
}

func (p *Paginator) attachCursors(page *PageResult, rows []driver.Row, col string, start int) (*PageResult, error) {
	if len(rows) == 0 {
		return page, nil
	}
	if page.HasNext {
		last := rows[len(rows)-1]
		tok, err := Encode(Position{
			Values: map[string]any{col: last[col]},
			Offset: start + len(rows),
		})
		if err != nil {
			return nil, err
		}
		page.NextCursor = tok
	}
	if page.HasPrev {
		first := rows[0]
		tok, err := Encode(Position{
			Values:   map[string]any{col: first[col]},
			Offset:   start,
			Backward: true,
		})
		if err != nil {
			return nil, err
		}
		page.PrevCursor = tok
	}
	return page, nil
}

// cursorColumn elects the column keyset boundaries are built on: the
// explicit sort column, else the first primary-key column, else the first
// sortable column, else the first column.
func (p *Paginator) cursorColumn(ctx context.Context, table, sortColumn string) (string, error) {
	if sortColumn != "" {
		return sortColumn, nil
	}
	cols, err := p.Meta.Columns(ctx, table)
	if err != nil {
		return "", fmt.Errorf("electing cursor column for %s: %w", table, err)
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("electing cursor column for %s: %w", table, constants.ErrNoColumns)
	}
	if pk := meta.PrimaryKeyColumns(cols); len(pk) > 0 {
		return pk[0], nil
	}
	for _, c := range cols {
		if c.Sortable {
			return c.Name, nil
		}
	}
	return cols[0].Name, nil
}

// boundaryOperator picks the strict inequality for the cursor boundary.
// Forward ascending reads past the last value; every other combination is
// its mirror.
func boundaryOperator(descending, backward bool) filter.Operator {
	if descending != backward {
		return filter.LessThan
	}
	return filter.GreaterThan
}

// pageStart is the display-order offset of the page a position addresses.
func pageStart(pos *Position, limit int) int {
	if pos == nil {
		return 0
	}
	if !pos.Backward {
		return pos.Offset
	}
	start := pos.Offset - limit
	if start < 0 {
		start = 0
	}
	return start
}

func reverseRows(rows []driver.Row) {
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
}
