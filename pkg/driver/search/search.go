// Package search implements the backend driver contract against an
// Elasticsearch-compatible HTTP API. Statements carry searchdial plans;
// the driver serializes them to query bodies and parses hits out of the
// responses. It exposes the engine's max result window and a scroll
// handle so the paginator can page past the window.
package search

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/buger/jsonparser"
	json "github.com/goccy/go-json"

	"github.com/omnigrid/omnigrid.go/pkg/constants"
	"github.com/omnigrid/omnigrid.go/pkg/dialect/searchdial"
	"github.com/omnigrid/omnigrid.go/pkg/driver"
	"github.com/omnigrid/omnigrid.go/pkg/logger"
)

const (
	defaultWindow    = 10000
	defaultKeepAlive = time.Minute
)

type Config struct {
	// BaseURL is the engine's root endpoint, e.g. "http://localhost:9200".
	BaseURL string
	// Window mirrors the index's max_result_window setting. Defaults to
	// the engine default of 10000.
	Window int
	// ScrollKeepAlive is how long the engine keeps a scroll context
	// alive between Next calls. Defaults to one minute.
	ScrollKeepAlive time.Duration
	// Client allows injecting a custom HTTP client; nil uses a client
	// with a 30s timeout.
	Client *http.Client
	Logger logger.Logger
}

type Driver struct {
	cfg  Config
	log  logger.Logger
	http *http.Client

	reqs driver.CancelRegistry

	mu   sync.Mutex
	base string
}

var (
	_ driver.Driver   = (*Driver)(nil)
	_ driver.Batcher  = (*Driver)(nil)
	_ driver.Scroller = (*Driver)(nil)
)

func New(cfg Config) *Driver {
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.ScrollKeepAlive <= 0 {
		cfg.ScrollKeepAlive = defaultKeepAlive
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Driver{cfg: cfg, log: logger.OrNop(cfg.Logger), http: client}
}

func (d *Driver) Open(ctx context.Context) error {
	base := strings.TrimRight(d.cfg.BaseURL, "/")
	if _, err := url.Parse(base); err != nil {
		return fmt.Errorf("parse search url: %w", err)
	}
	if _, err := d.roundTrip(ctx, http.MethodGet, base+"/", nil, ""); err != nil {
		return err
	}
	d.mu.Lock()
	d.base = base
	d.mu.Unlock()
	return nil
}

func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	d.base = ""
	d.mu.Unlock()
	d.http.CloseIdleConnections()
	return nil
}

func (d *Driver) Ping(ctx context.Context) error {
	base, err := d.endpoint()
	if err != nil {
		return err
	}
	_, err = d.roundTrip(ctx, http.MethodGet, base+"/", nil, "")
	return err
}

func (d *Driver) Execute(ctx context.Context, requestID string, stmt *driver.Statement) (*driver.Result, error) {
	base, err := d.endpoint()
	if err != nil {
		return nil, err
	}
	ctx, release := d.reqs.Track(ctx, requestID)
	defer release()

	switch plan := stmt.Native.(type) {
	case searchdial.QueryPlan:
		if stmt.Op == driver.OpCount {
			return d.count(ctx, base, stmt.Table, plan)
		}
		return d.search(ctx, base, stmt.Table, plan)
	case searchdial.InsertPlan:
		return d.bulkIndex(ctx, base, stmt.Table, plan.Documents)
	case searchdial.UpdatePlan:
		return d.updateDoc(ctx, base, stmt.Table, plan)
	case searchdial.DeletePlan:
		return d.bulkDelete(ctx, base, stmt.Table, plan.IDs)
	default:
		return nil, fmt.Errorf("%w: unsupported plan %T", constants.ErrCompile, stmt.Native)
	}
}

// ExecuteBatch folds update plans into a single _bulk request.
func (d *Driver) ExecuteBatch(ctx context.Context, requestID string, stmts []*driver.Statement) (int64, error) {
	base, err := d.endpoint()
	if err != nil {
		return 0, err
	}
	ctx, release := d.reqs.Track(ctx, requestID)
	defer release()

	var body bytes.Buffer
	for _, stmt := range stmts {
		plan, ok := stmt.Native.(searchdial.UpdatePlan)
		if !ok {
			return d.sequential(ctx, stmts)
		}
		if err := writeAction(&body, "update", stmt.Table, plan.ID); err != nil {
			return 0, err
		}
		if err := writeLine(&body, map[string]any{"doc": plan.Doc}); err != nil {
			return 0, err
		}
	}
	if err := d.bulk(ctx, base, &body); err != nil {
		return 0, err
	}
	return int64(len(stmts)), nil
}

func (d *Driver) sequential(ctx context.Context, stmts []*driver.Statement) (int64, error) {
	var affected int64
	for _, stmt := range stmts {
		res, err := d.Execute(ctx, "", stmt)
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
	return driver.Capabilities{MaxResultWindow: d.cfg.Window}
}

// OpenScroll starts a server-side scroll over the statement's query. The
// scan is a stable snapshot; rows keep arriving in query sort order.
func (d *Driver) OpenScroll(ctx context.Context, stmt *driver.Statement, batchSize int) (driver.Scroll, error) {
	base, err := d.endpoint()
	if err != nil {
		return nil, err
	}
	plan, ok := stmt.Native.(searchdial.QueryPlan)
	if !ok {
		return nil, fmt.Errorf("%w: scroll needs a query plan, got %T", constants.ErrCompile, stmt.Native)
	}
	body := map[string]any{"query": plan.Query, "size": batchSize}
	if len(plan.Sort) > 0 {
		body["sort"] = plan.Sort
	}
	keep := keepAliveParam(d.cfg.ScrollKeepAlive)
	target := fmt.Sprintf("%s/%s/_search?scroll=%s", base, url.PathEscape(stmt.Table), keep)
	raw, err := d.roundTrip(ctx, http.MethodPost, target, body, "")
	if err != nil {
		return nil, err
	}
	id, err := jsonparser.GetString(raw, "_scroll_id")
	if err != nil {
		return nil, fmt.Errorf("search scroll response missing _scroll_id: %w", err)
	}
	first, err := parseHits(raw)
	if err != nil {
		return nil, err
	}
	return &scroll{d: d, base: base, id: id, keep: keep, pending: first}, nil
}

type scroll struct {
	d       *Driver
	base    string
	id      string
	keep    string
	pending []driver.Row
	done    bool
}

func (s *scroll) Next(ctx context.Context) ([]driver.Row, error) {
	if s.pending != nil {
		rows := s.pending
		s.pending = nil
		if len(rows) == 0 {
			s.done = true
			return nil, nil
		}
		return rows, nil
	}
	if s.done {
		return nil, nil
	}
	raw, err := s.d.roundTrip(ctx, http.MethodPost, s.base+"/_search/scroll", map[string]any{
		"scroll":    s.keep,
		"scroll_id": s.id,
	}, "")
	if err != nil {
		return nil, err
	}
	if id, err := jsonparser.GetString(raw, "_scroll_id"); err == nil {
		s.id = id
	}
	rows, err := parseHits(raw)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		s.done = true
		return nil, nil
	}
	return rows, nil
}

func (s *scroll) Close(ctx context.Context) error {
	_, err := s.d.roundTrip(ctx, http.MethodDelete, s.base+"/_search/scroll", map[string]any{
		"scroll_id": []string{s.id},
	}, "")
	return err
}

func (d *Driver) search(ctx context.Context, base, index string, plan searchdial.QueryPlan) (*driver.Result, error) {
	body := map[string]any{"query": plan.Query}
	if plan.Size > 0 {
		body["size"] = plan.Size
	}
	if len(plan.Sort) > 0 {
		body["sort"] = plan.Sort
	}
	raw, err := d.roundTrip(ctx, http.MethodPost, base+"/"+url.PathEscape(index)+"/_search", body, "")
	if err != nil {
		return nil, err
	}
	rows, err := parseHits(raw)
	if err != nil {
		return nil, err
	}
	return &driver.Result{Rows: rows}, nil
}

func (d *Driver) count(ctx context.Context, base, index string, plan searchdial.QueryPlan) (*driver.Result, error) {
	raw, err := d.roundTrip(ctx, http.MethodPost, base+"/"+url.PathEscape(index)+"/_count", map[string]any{
		"query": plan.Query,
	}, "")
	if err != nil {
		return nil, err
	}
	n, err := jsonparser.GetInt(raw, "count")
	if err != nil {
		return nil, fmt.Errorf("search count response missing count: %w", err)
	}
	return &driver.Result{Affected: n}, nil
}

func (d *Driver) bulkIndex(ctx context.Context, base, index string, docs []map[string]any) (*driver.Result, error) {
	var body bytes.Buffer
	for _, doc := range docs {
		if err := writeAction(&body, "index", index, nil); err != nil {
			return nil, err
		}
		if err := writeLine(&body, doc); err != nil {
			return nil, err
		}
	}
	if err := d.bulk(ctx, base, &body); err != nil {
		return nil, err
	}
	return &driver.Result{Affected: int64(len(docs))}, nil
}

func (d *Driver) updateDoc(ctx context.Context, base, index string, plan searchdial.UpdatePlan) (*driver.Result, error) {
	target := fmt.Sprintf("%s/%s/_update/%s", base, url.PathEscape(index), url.PathEscape(fmt.Sprint(plan.ID)))
	if _, err := d.roundTrip(ctx, http.MethodPost, target, map[string]any{"doc": plan.Doc}, ""); err != nil {
		return nil, err
	}
	return &driver.Result{Affected: 1}, nil
}

func (d *Driver) bulkDelete(ctx context.Context, base, index string, ids []any) (*driver.Result, error) {
	var body bytes.Buffer
	for _, id := range ids {
		if err := writeAction(&body, "delete", index, id); err != nil {
			return nil, err
		}
	}
	if err := d.bulk(ctx, base, &body); err != nil {
		return nil, err
	}
	return &driver.Result{Affected: int64(len(ids))}, nil
}

func (d *Driver) bulk(ctx context.Context, base string, body *bytes.Buffer) error {
	raw, err := d.roundTrip(ctx, http.MethodPost, base+"/_bulk", body, "application/x-ndjson")
	if err != nil {
		return err
	}
	hadErrors, err := jsonparser.GetBoolean(raw, "errors")
	if err == nil && hadErrors {
		return fmt.Errorf("%w: bulk request had item failures: %s", constants.ErrBackend, firstItemError(raw))
	}
	return nil
}

// firstItemError pulls the first per-item error out of a _bulk response
// so the failure message names a concrete cause.
func firstItemError(raw []byte) string {
	var msg string
	_, _ = jsonparser.ArrayEach(raw, func(item []byte, _ jsonparser.ValueType, _ int, _ error) {
		if msg != "" {
			return
		}
		_ = jsonparser.ObjectEach(item, func(_ []byte, action []byte, _ jsonparser.ValueType, _ int) error {
			if reason, err := jsonparser.GetString(action, "error", "reason"); err == nil && msg == "" {
				msg = reason
			}
			return nil
		})
	}, "items")
	if msg == "" {
		return "unknown item error"
	}
	return msg
}

func (d *Driver) endpoint() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.base == "" {
		return "", constants.ErrNotConnected
	}
	return d.base, nil
}

// roundTrip sends the request and returns the raw response body. A JSON
// body value is marshaled; a *bytes.Buffer is sent as-is (NDJSON bulk
// payloads).
func (d *Driver) roundTrip(ctx context.Context, method, target string, body any, contentType string) ([]byte, error) {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case *bytes.Buffer:
		reader = b
	default:
		buf, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("%w: encode request: %w", constants.ErrCompile, err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	if reader != nil {
		if contentType == "" {
			contentType = "application/json"
		}
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s %s: status %d: %s", constants.ErrBackend, method, target, resp.StatusCode, truncate(raw, 200))
	}
	return raw, nil
}

// keepAliveParam renders a duration as the single-unit form the engine's
// scroll parameter accepts.
func keepAliveParam(d time.Duration) string {
	return fmt.Sprintf("%ds", int(d.Seconds()))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

func writeAction(w *bytes.Buffer, action, index string, id any) error {
	meta := map[string]any{"_index": index}
	if id != nil {
		meta["_id"] = fmt.Sprint(id)
	}
	return writeLine(w, map[string]any{action: meta})
}

func writeLine(w *bytes.Buffer, v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode bulk line: %w", constants.ErrCompile, err)
	}
	w.Write(buf)
	w.WriteByte('\n')
	return nil
}

// parseHits extracts hit documents without decoding the whole envelope;
// each row is the _source document plus its _id when the source lacks one.
func parseHits(raw []byte) ([]driver.Row, error) {
	var rows []driver.Row
	var parseErr error
	_, err := jsonparser.ArrayEach(raw, func(hit []byte, _ jsonparser.ValueType, _ int, _ error) {
		if parseErr != nil {
			return
		}
		src, _, _, err := jsonparser.Get(hit, "_source")
		if err != nil {
			parseErr = fmt.Errorf("search hit missing _source: %w", err)
			return
		}
		row := driver.Row{}
		if err := json.Unmarshal(src, &row); err != nil {
			parseErr = err
			return
		}
		if _, ok := row["_id"]; !ok {
			if id, err := jsonparser.GetString(hit, "_id"); err == nil {
				row["_id"] = id
			}
		}
		rows = append(rows, row)
	}, "hits", "hits")
	if parseErr != nil {
		return nil, parseErr
	}
	if err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}
	return rows, nil
}
