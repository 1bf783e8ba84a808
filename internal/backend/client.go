package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Client is the typed query surface of the hosted backend: row-oriented
// CRUD over its REST endpoint. The backend itself is a black box; this
// client only shapes requests and maps failures onto the error taxonomy.
type Client struct {
	baseURL string
	apiKey  string
	token   func() string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a query client for the given project URL and anon key.
func NewClient(baseURL, apiKey string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logger,
	}
}

// SetTokenSource installs a provider for the per-request access token.
// When unset, requests carry only the anon key.
func (c *Client) SetTokenSource(fn func() string) { c.token = fn }

type request struct {
	method string
	op     string
	table  string
	query  url.Values
	body   any
	dest   any
	accept string
	prefer string
}

// Select fetches rows matching f into dest (a pointer to a slice).
func (c *Client) Select(ctx context.Context, table string, f Filter, dest any) error {
	return c.do(ctx, request{method: http.MethodGet, op: "select", table: table, query: f.encode(), dest: dest})
}

// SelectOne fetches exactly one row matching f into dest, using the
// backend's single-object mode.
func (c *Client) SelectOne(ctx context.Context, table string, f Filter, dest any) error {
	return c.do(ctx, request{
		method: http.MethodGet, op: "select", table: table,
		query: f.encode(), dest: dest,
		accept: "application/vnd.pgrst.object+json",
	})
}

// Insert adds a row. When dest is non-nil the created representation is
// decoded into it. Uniqueness violations surface as ConflictError.
func (c *Client) Insert(ctx context.Context, table string, row, dest any) error {
	return c.do(ctx, request{method: http.MethodPost, op: "insert", table: table, body: row, dest: dest})
}

// Update patches rows matching f.
func (c *Client) Update(ctx context.Context, table string, f Filter, patch any) error {
	return c.do(ctx, request{method: http.MethodPatch, op: "update", table: table, query: f.encode(), body: patch})
}

// Delete removes rows matching f.
func (c *Client) Delete(ctx context.Context, table string, f Filter) error {
	return c.do(ctx, request{method: http.MethodDelete, op: "delete", table: table, query: f.encode()})
}

// Upsert inserts a row, merging into the existing one on conflictKey.
func (c *Client) Upsert(ctx context.Context, table, conflictKey string, row, dest any) error {
	q := url.Values{}
	if conflictKey != "" {
		q.Set("on_conflict", conflictKey)
	}
	return c.do(ctx, request{
		method: http.MethodPost, op: "upsert", table: table,
		query: q, body: row, dest: dest,
		prefer: "resolution=merge-duplicates",
	})
}

func (c *Client) do(ctx context.Context, r request) error {
	u := c.baseURL + "/rest/v1/" + r.table
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}

	var rd io.Reader
	if r.body != nil {
		raw, err := json.Marshal(r.body)
		if err != nil {
			return &FetchError{Op: r.op, Table: r.table, Err: fmt.Errorf("encode body: %w", err)}
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u, rd)
	if err != nil {
		return &FetchError{Op: r.op, Table: r.table, Err: err}
	}
	req.Header.Set("apikey", c.apiKey)
	auth := c.apiKey
	if c.token != nil {
		if t := c.token(); t != "" {
			auth = t
		}
	}
	req.Header.Set("Authorization", "Bearer "+auth)
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.accept != "" {
		req.Header.Set("Accept", r.accept)
	}
	prefer := r.prefer
	if r.dest != nil && r.method != http.MethodGet {
		if prefer != "" {
			prefer += ","
		}
		prefer += "return=representation"
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &FetchError{Op: r.op, Table: r.table, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusConflict {
		return &ConflictError{Table: r.table}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("backend request failed",
			zap.String("op", r.op),
			zap.String("table", r.table),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", raw))
		return &FetchError{Op: r.op, Table: r.table, Status: resp.StatusCode}
	}

	if r.dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(r.dest); err != nil {
			return &FetchError{Op: r.op, Table: r.table, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}
