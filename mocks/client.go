// Package mocks provides an in-memory rop.Client for tests and demos. Records live in
// per-model maps with auto-incremented IDs; every call is journaled and any method can
// be induced to fail.
package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sharedcode/rop"
)

// Call is one journaled client invocation.
type Call struct {
	Method string
	Model  string
	IDs    []int64
	Data   rop.Record
	Name   string
}

// Client is an in-memory implementation of rop.Client. Safe for concurrent use.
type Client struct {
	mu       sync.Mutex
	seq      map[string]int64
	data     map[string]map[int64]rop.Record
	calls    []Call
	failOn   map[string]error
	failNext map[string]error

	// OnExecute, when set, supplies Execute results. Defaults to returning true.
	OnExecute func(model string, method string, ids []int64, kwargs rop.Record) (any, error)
}

func NewClient() *Client {
	return &Client{
		seq:      make(map[string]int64),
		data:     make(map[string]map[int64]rop.Record),
		failOn:   make(map[string]error),
		failNext: make(map[string]error),
	}
}

// FailOn makes every call of method (e.g. "create", "write") fail with err until
// cleared with FailOn(method, nil).
func (c *Client) FailOn(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failOn, method)
		return
	}
	c.failOn[method] = err
}

// FailNext makes only the next call of method fail with err.
func (c *Client) FailNext(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext[method] = err
}

func (c *Client) induceError(method string) error {
	if err, ok := c.failNext[method]; ok {
		delete(c.failNext, method)
		return err
	}
	return c.failOn[method]
}

func (c *Client) journal(call Call) {
	c.calls = append(c.calls, call)
}

// Calls returns the journal of invocations in order.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	calls := make([]Call, len(c.calls))
	copy(calls, c.calls)
	return calls
}

// CallCount returns how many times method was invoked.
func (c *Client) CallCount(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for i := range c.calls {
		if c.calls[i].Method == method {
			n++
		}
	}
	return n
}

// Seed inserts a record directly, bypassing the journal, and returns its ID.
func (c *Client) Seed(model string, rec rop.Record) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.insert(model, rec)
}

// Record returns a copy of a stored record, or nil if absent.
func (c *Client) Record(model string, id int64) rop.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.data[model][id]
	if !ok {
		return nil
	}
	return rec.Clone()
}

// Count returns the number of stored records of model.
func (c *Client) Count(model string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data[model])
}

func (c *Client) insert(model string, rec rop.Record) int64 {
	c.seq[model]++
	id := c.seq[model]
	if c.data[model] == nil {
		c.data[model] = make(map[int64]rop.Record)
	}
	stored := rec.Clone()
	stored["id"] = id
	c.data[model][id] = stored
	return id
}

func (c *Client) Create(ctx context.Context, model string, data rop.Record) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.induceError("create"); err != nil {
		return 0, err
	}
	id := c.insert(model, data)
	c.journal(Call{Method: "create", Model: model, IDs: []int64{id}, Data: data.Clone()})
	return id, nil
}

func (c *Client) CreateBulk(ctx context.Context, model string, records []rop.Record) ([]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.induceError("create"); err != nil {
		return nil, err
	}
	ids := make([]int64, len(records))
	for i := range records {
		ids[i] = c.insert(model, records[i])
	}
	c.journal(Call{Method: "create_bulk", Model: model, IDs: ids})
	return ids, nil
}

func (c *Client) Read(ctx context.Context, model string, ids []int64, fields []string) ([]rop.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.induceError("read"); err != nil {
		return nil, err
	}
	c.journal(Call{Method: "read", Model: model, IDs: append([]int64(nil), ids...)})
	recs := make([]rop.Record, 0, len(ids))
	for _, id := range ids {
		rec, ok := c.data[model][id]
		if !ok {
			continue
		}
		recs = append(recs, project(rec, fields))
	}
	return recs, nil
}

func (c *Client) Write(ctx context.Context, model string, ids []int64, data rop.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.induceError("write"); err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := c.data[model][id]; !ok {
			return fmt.Errorf("write: %s record %d does not exist", model, id)
		}
	}
	for _, id := range ids {
		for k, v := range data {
			if k == "id" {
				continue
			}
			c.data[model][id][k] = v
		}
	}
	c.journal(Call{Method: "write", Model: model, IDs: append([]int64(nil), ids...), Data: data.Clone()})
	return nil
}

func (c *Client) Delete(ctx context.Context, model string, ids []int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.induceError("delete"); err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := c.data[model][id]; !ok {
			return fmt.Errorf("delete: %s record %d does not exist", model, id)
		}
	}
	for _, id := range ids {
		delete(c.data[model], id)
	}
	c.journal(Call{Method: "delete", Model: model, IDs: append([]int64(nil), ids...)})
	return nil
}

func (c *Client) Search(ctx context.Context, model string, domain []any, opts rop.SearchOptions) ([]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.induceError("search"); err != nil {
		return nil, err
	}
	c.journal(Call{Method: "search", Model: model})
	ids := c.sortedIDs(model)
	return page(ids, opts), nil
}

func (c *Client) SearchRead(ctx context.Context, model string, domain []any, fields []string, opts rop.SearchOptions) ([]rop.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.induceError("search_read"); err != nil {
		return nil, err
	}
	c.journal(Call{Method: "search_read", Model: model})
	ids := page(c.sortedIDs(model), opts)
	recs := make([]rop.Record, len(ids))
	for i, id := range ids {
		recs[i] = project(c.data[model][id], fields)
	}
	return recs, nil
}

func (c *Client) Execute(ctx context.Context, model string, method string, ids []int64, kwargs rop.Record) (any, error) {
	c.mu.Lock()
	if err := c.induceError("execute"); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.journal(Call{Method: "execute", Model: model, IDs: append([]int64(nil), ids...), Data: kwargs.Clone(), Name: method})
	fn := c.OnExecute
	c.mu.Unlock()
	if fn != nil {
		return fn(model, method, ids, kwargs)
	}
	return true, nil
}

func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.induceError("ping")
}

func (c *Client) sortedIDs(model string) []int64 {
	ids := make([]int64, 0, len(c.data[model]))
	for id := range c.data[model] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func page(ids []int64, opts rop.SearchOptions) []int64 {
	if opts.Offset > 0 {
		if opts.Offset >= len(ids) {
			return nil
		}
		ids = ids[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(ids) {
		ids = ids[:opts.Limit]
	}
	return ids
}

func project(rec rop.Record, fields []string) rop.Record {
	if len(fields) == 0 {
		return rec.Clone()
	}
	out := rop.Record{"id": rec["id"]}
	for _, f := range fields {
		if v, ok := rec[f]; ok {
			out[f] = v
		}
	}
	return out
}
