// Package jsonrpc implements the rop.Client wire protocol: JSON-RPC 2.0 over HTTP
// against the business server's external API. Authentication is lazy; the first call
// logs in and caches the account's numeric UID, and an expired session is
// re-authenticated transparently once per call.
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/sharedcode/rop"
)

type rpcRequest struct {
	Jsonrpc string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
	ID      int64     `json:"id"`
}

type rpcParams struct {
	Service string `json:"service"`
	Method  string `json:"method"`
	Args    []any  `json:"args"`
}

type rpcResponse struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcFault       `json:"error"`
}

// Client speaks the server's JSON-RPC endpoint. It implements rop.Client, rop.Pinger
// and rop.CloseableClient and is safe for concurrent use; concurrency beyond the
// configured session count blocks until a lane frees up.
type Client struct {
	options Options
	hc      *http.Client
	pool    *sessionPool
	reqID   atomic.Int64

	mu  sync.Mutex
	uid int64
}

func NewClient(options Options) (*Client, error) {
	if options.Timeout <= 0 {
		options.Timeout = DefaultOptions().Timeout
	}
	if options.MaxSessions <= 0 {
		options.MaxSessions = DefaultOptions().MaxSessions
	}
	if err := options.validate(); err != nil {
		return nil, err
	}
	hc := &http.Client{Timeout: options.Timeout}
	if options.TLSConfig != nil {
		hc.Transport = &http.Transport{TLSClientConfig: options.TLSConfig}
	}
	return &Client{
		options: options,
		hc:      hc,
		pool:    newSessionPool(options.MaxSessions),
	}, nil
}

// call performs one JSON-RPC round trip and decodes the result member into out.
func (c *Client) call(ctx context.Context, service string, method string, args []any, out any) error {
	payload, err := json.Marshal(rpcRequest{
		Jsonrpc: "2.0",
		Method:  "call",
		Params:  rpcParams{Service: service, Method: method, Args: args},
		ID:      c.reqID.Add(1),
	})
	if err != nil {
		return rop.Error{Code: rop.TransportFailure, Err: fmt.Errorf("encoding request: %w", err)}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.options.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return rop.Error{Code: rop.TransportFailure, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return rop.Error{Code: rop.TransportFailure, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return rop.Error{Code: rop.TransportFailure, Err: fmt.Errorf("unexpected HTTP status %s", resp.Status)}
	}
	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return rop.Error{Code: rop.TransportFailure, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if envelope.Error != nil {
		return mapFault(envelope.Error)
	}
	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return rop.Error{Code: rop.TransportFailure, Err: fmt.Errorf("decoding result: %w", err)}
		}
	}
	return nil
}

// Login authenticates and returns the account's UID. Called lazily by every operation;
// explicit use is only needed to verify credentials up front.
func (c *Client) Login(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uid != 0 {
		return c.uid, nil
	}
	var res any
	err := c.call(ctx, "common", "authenticate", []any{c.options.Database, c.options.Username, c.options.Password, map[string]any{}}, &res)
	if err != nil {
		return 0, err
	}
	uid, ok := toInt64(res)
	if !ok || uid == 0 {
		// The server answers false instead of a fault on bad credentials.
		return 0, rop.Error{Code: rop.AccessDenied, Err: fmt.Errorf("authentication failed for %s@%s", c.options.Username, c.options.Database)}
	}
	c.uid = uid
	log.Debug(fmt.Sprintf("authenticated %s@%s as uid %d", c.options.Username, c.options.Database, uid))
	return uid, nil
}

func (c *Client) invalidateAuth() {
	c.mu.Lock()
	c.uid = 0
	c.mu.Unlock()
}

// executeKw invokes model.method through the object service. On a session-expired
// fault the cached UID is dropped and the call retried once after re-authentication.
func (c *Client) executeKw(ctx context.Context, model string, method string, args []any, kwargs rop.Record, out any) error {
	s, err := c.pool.checkout(ctx)
	if err != nil {
		return err
	}
	var callErr error
	defer func() { c.pool.checkin(s, callErr) }()

	for attempt := 0; ; attempt++ {
		var uid int64
		if uid, callErr = c.Login(ctx); callErr != nil {
			return callErr
		}
		full := []any{c.options.Database, uid, c.options.Password, model, method, args}
		if kwargs != nil {
			full = append(full, kwargs)
		}
		callErr = c.call(ctx, "object", "execute_kw", full, out)
		var e rop.Error
		if callErr != nil && errors.As(callErr, &e) && e.Code == rop.SessionExpired && attempt == 0 {
			log.Warn(fmt.Sprintf("session expired on %s.%s, re-authenticating", model, method))
			c.invalidateAuth()
			// Stagger concurrent callers whose sessions expired together, so they
			// don't all re-authenticate at once.
			rop.RandomSleep(ctx)
			continue
		}
		return callErr
	}
}

func (c *Client) Create(ctx context.Context, model string, data rop.Record) (int64, error) {
	var res any
	if err := c.executeKw(ctx, model, "create", []any{data}, nil, &res); err != nil {
		return 0, err
	}
	if id, ok := toInt64(res); ok {
		return id, nil
	}
	// Some server versions answer a one-element list.
	if list, ok := res.([]any); ok && len(list) == 1 {
		if id, ok := toInt64(list[0]); ok {
			return id, nil
		}
	}
	return 0, rop.Error{Code: rop.TransportFailure, Err: fmt.Errorf("unexpected create result %v", res)}
}

func (c *Client) CreateBulk(ctx context.Context, model string, records []rop.Record) ([]int64, error) {
	if len(records) == 0 {
		return nil, nil
	}
	list := make([]any, len(records))
	for i := range records {
		list[i] = records[i]
	}
	var res []any
	if err := c.executeKw(ctx, model, "create", []any{list}, nil, &res); err != nil {
		return nil, err
	}
	ids := make([]int64, len(res))
	for i := range res {
		id, ok := toInt64(res[i])
		if !ok {
			return nil, rop.Error{Code: rop.TransportFailure, Err: fmt.Errorf("unexpected create result %v", res)}
		}
		ids[i] = id
	}
	return ids, nil
}

// readRetry runs task with Fibonacci backoff as long as the failure is transient.
// Only read-only calls go through it; the server re-executes them without side
// effects. Mutating calls are never retried here because a transport failure after
// the server executed the call would duplicate the mutation.
func (c *Client) readRetry(ctx context.Context, task func(ctx context.Context) error) error {
	return rop.Retry(ctx, func(ctx context.Context) error {
		err := task(ctx)
		if err != nil && rop.ShouldRetry(err) {
			return rop.RetryableError(err)
		}
		return err
	}, nil)
}

func (c *Client) Read(ctx context.Context, model string, ids []int64, fields []string) ([]rop.Record, error) {
	var kwargs rop.Record
	if len(fields) > 0 {
		kwargs = rop.Record{"fields": fields}
	}
	var res []rop.Record
	if err := c.readRetry(ctx, func(ctx context.Context) error {
		res = nil
		return c.executeKw(ctx, model, "read", []any{ids}, kwargs, &res)
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) Write(ctx context.Context, model string, ids []int64, data rop.Record) error {
	return c.executeKw(ctx, model, "write", []any{ids, data}, nil, nil)
}

func (c *Client) Delete(ctx context.Context, model string, ids []int64) error {
	return c.executeKw(ctx, model, "unlink", []any{ids}, nil, nil)
}

func (c *Client) Search(ctx context.Context, model string, domain []any, opts rop.SearchOptions) ([]int64, error) {
	if domain == nil {
		domain = []any{}
	}
	var ids []int64
	if err := c.readRetry(ctx, func(ctx context.Context) error {
		ids = nil
		return c.executeKw(ctx, model, "search", []any{domain}, searchKwargs(nil, opts), &ids)
	}); err != nil {
		return nil, err
	}
	return ids, nil
}

func (c *Client) SearchRead(ctx context.Context, model string, domain []any, fields []string, opts rop.SearchOptions) ([]rop.Record, error) {
	if domain == nil {
		domain = []any{}
	}
	var res []rop.Record
	if err := c.readRetry(ctx, func(ctx context.Context) error {
		res = nil
		return c.executeKw(ctx, model, "search_read", []any{domain}, searchKwargs(fields, opts), &res)
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Client) Execute(ctx context.Context, model string, method string, ids []int64, kwargs rop.Record) (any, error) {
	args := []any{}
	if ids != nil {
		args = append(args, ids)
	}
	var res any
	if err := c.executeKw(ctx, model, method, args, kwargs, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// Ping asks the common service for its version, a cheap liveness probe that needs no
// authentication.
func (c *Client) Ping(ctx context.Context) error {
	var res map[string]any
	if err := c.call(ctx, "common", "version", []any{}, &res); err != nil {
		return err
	}
	if _, ok := res["server_version"]; !ok {
		return rop.Error{Code: rop.TransportFailure, Err: fmt.Errorf("version reply carries no server_version")}
	}
	return nil
}

// Close releases the session pool and idle connections. The client is unusable after.
func (c *Client) Close() error {
	c.pool.close()
	c.hc.CloseIdleConnections()
	return nil
}

// searchKwargs folds fields and paging options into the call's kwargs, nil when all
// are defaults so the wire payload stays minimal.
func searchKwargs(fields []string, opts rop.SearchOptions) rop.Record {
	var kwargs rop.Record
	set := func(k string, v any) {
		if kwargs == nil {
			kwargs = rop.Record{}
		}
		kwargs[k] = v
	}
	if len(fields) > 0 {
		set("fields", fields)
	}
	if opts.Offset > 0 {
		set("offset", opts.Offset)
	}
	if opts.Limit > 0 {
		set("limit", opts.Limit)
	}
	if opts.Order != "" {
		set("order", opts.Order)
	}
	return kwargs
}

// toInt64 unwraps a JSON-decoded numeric ID.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}
