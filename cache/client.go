package cache

import (
	"context"
	"fmt"
	log "log/slog"
	"time"

	"github.com/sharedcode/rop"
)

// Layer2 is the shared cache contract the read-through client consults after L1.
// RecordCache implements it over Redis; mocks.Cache stands in for tests.
type Layer2 interface {
	SetRecord(ctx context.Context, model string, id int64, rec rop.Record) error
	GetRecord(ctx context.Context, model string, id int64) (bool, rop.Record, error)
	DeleteRecords(ctx context.Context, model string, ids []int64) error
	InvalidateModel(ctx context.Context, model string) error
}

// Options configures the read-through client.
type Options struct {
	// MinCapacity and MaxCapacity bound the in-process L1 cache.
	MinCapacity int `json:"min_capacity"`
	MaxCapacity int `json:"max_capacity"`
	// TTL caps the age of cached records in both layers. 0 disables expiry in L1.
	TTL time.Duration `json:"ttl"`
	// L2 is the optional shared layer. Nil runs L1-only.
	L2 Layer2
}

// DefaultOptions returns a small L1-only configuration, 5 minute TTL.
func DefaultOptions() Options {
	return Options{
		MinCapacity: 256,
		MaxCapacity: 1024,
		TTL:         5 * time.Minute,
	}
}

// recordKey identifies one cached record.
type recordKey struct {
	model string
	id    int64
}

// Client is a read-through rop.Client wrapper: Read consults L1, then L2, then the
// server, caching full records on the way back. Every mutating call invalidates the
// affected records in both layers after it executes, compensation calls included, so
// a rolled back transaction leaves no stale cache entries behind.
//
// Cache layer failures are logged and degrade to a miss; the server stays the source
// of truth.
type Client struct {
	inner rop.Client
	l1    Cache[recordKey, rop.Record]
	l2    Layer2
}

// NewClient wraps inner with response caching per options.
func NewClient(inner rop.Client, options Options) *Client {
	if options.MaxCapacity <= 0 {
		options.MaxCapacity = DefaultOptions().MaxCapacity
	}
	if options.MinCapacity <= 0 || options.MinCapacity > options.MaxCapacity {
		options.MinCapacity = options.MaxCapacity / 2
	}
	return &Client{
		inner: inner,
		l1:    NewSynchronizedCache[recordKey, rop.Record](options.MinCapacity, options.MaxCapacity, options.TTL),
		l2:    options.L2,
	}
}

func (c *Client) Create(ctx context.Context, model string, data rop.Record) (int64, error) {
	return c.inner.Create(ctx, model, data)
}

func (c *Client) CreateBulk(ctx context.Context, model string, records []rop.Record) ([]int64, error) {
	return c.inner.CreateBulk(ctx, model, records)
}

// Read returns the requested fields of the given records, serving from cache where the
// cached record covers them. Cache misses are fetched from the server in one call with
// all fields so the cached copy can serve any later projection.
func (c *Client) Read(ctx context.Context, model string, ids []int64, fields []string) ([]rop.Record, error) {
	found := make(map[int64]rop.Record, len(ids))
	var misses []int64

	keys := make([]recordKey, len(ids))
	for i, id := range ids {
		keys[i] = recordKey{model: model, id: id}
	}
	cached := c.l1.Get(keys)
	for i, id := range ids {
		if cached[i] != nil && covers(cached[i], fields) {
			found[id] = cached[i]
			continue
		}
		if c.l2 != nil {
			ok, rec, err := c.l2.GetRecord(ctx, model, id)
			if err != nil {
				log.Warn(fmt.Sprintf("L2 lookup of %s record %d failed: %v", model, id, err))
			} else if ok && covers(rec, fields) {
				// Promote to L1.
				c.l1.Set([]rop.KeyValuePair[recordKey, rop.Record]{{Key: keys[i], Value: rec}})
				found[id] = rec
				continue
			}
		}
		misses = append(misses, id)
	}

	if len(misses) > 0 {
		recs, err := c.inner.Read(ctx, model, misses, nil)
		if err != nil {
			return nil, err
		}
		items := make([]rop.KeyValuePair[recordKey, rop.Record], 0, len(recs))
		for _, rec := range recs {
			id, ok := rec.ID()
			if !ok {
				continue
			}
			found[id] = rec
			items = append(items, rop.KeyValuePair[recordKey, rop.Record]{
				Key:   recordKey{model: model, id: id},
				Value: rec,
			})
			if c.l2 != nil {
				if err := c.l2.SetRecord(ctx, model, id, rec); err != nil {
					log.Warn(fmt.Sprintf("L2 store of %s record %d failed: %v", model, id, err))
				}
			}
		}
		c.l1.Set(items)
	}

	// Deleted or inaccessible records are absent from the result, like a server read.
	out := make([]rop.Record, 0, len(ids))
	for _, id := range ids {
		rec, ok := found[id]
		if !ok {
			continue
		}
		out = append(out, projectFields(rec, fields))
	}
	return out, nil
}

func (c *Client) Write(ctx context.Context, model string, ids []int64, data rop.Record) error {
	if err := c.inner.Write(ctx, model, ids, data); err != nil {
		return err
	}
	c.invalidate(ctx, model, ids)
	return nil
}

func (c *Client) Delete(ctx context.Context, model string, ids []int64) error {
	if err := c.inner.Delete(ctx, model, ids); err != nil {
		return err
	}
	c.invalidate(ctx, model, ids)
	return nil
}

func (c *Client) Search(ctx context.Context, model string, domain []any, opts rop.SearchOptions) ([]int64, error) {
	return c.inner.Search(ctx, model, domain, opts)
}

func (c *Client) SearchRead(ctx context.Context, model string, domain []any, fields []string, opts rop.SearchOptions) ([]rop.Record, error) {
	return c.inner.SearchRead(ctx, model, domain, fields, opts)
}

// Execute invalidates the whole model's cache, an arbitrary server method has an
// unknown write set.
func (c *Client) Execute(ctx context.Context, model string, method string, ids []int64, kwargs rop.Record) (any, error) {
	res, err := c.inner.Execute(ctx, model, method, ids, kwargs)
	if err != nil {
		return nil, err
	}
	c.l1.Clear()
	if c.l2 != nil {
		if ierr := c.l2.InvalidateModel(ctx, model); ierr != nil {
			log.Warn(fmt.Sprintf("L2 invalidation of model %s failed: %v", model, ierr))
		}
	}
	return res, nil
}

// Ping probes the backend, and the L2 when it can be probed.
func (c *Client) Ping(ctx context.Context) error {
	if p, ok := c.inner.(rop.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return err
		}
	}
	if p, ok := c.l2.(interface{ Ping(ctx context.Context) error }); ok && c.l2 != nil {
		return p.Ping(ctx)
	}
	return nil
}

func (c *Client) invalidate(ctx context.Context, model string, ids []int64) {
	keys := make([]recordKey, len(ids))
	for i, id := range ids {
		keys[i] = recordKey{model: model, id: id}
	}
	c.l1.Delete(keys)
	if c.l2 != nil {
		if err := c.l2.DeleteRecords(ctx, model, ids); err != nil {
			log.Warn(fmt.Sprintf("L2 invalidation of %s record(s) %v failed: %v", model, ids, err))
		}
	}
}

// covers reports whether the cached record has every requested field. An empty request
// asks for all fields, only a server fetch can satisfy it reliably, but a cached record
// was fetched with all fields and therefore covers it.
func covers(rec rop.Record, fields []string) bool {
	for _, f := range fields {
		if _, ok := rec[f]; !ok {
			return false
		}
	}
	return true
}

// projectFields trims a cached full record down to the requested fields, id included.
func projectFields(rec rop.Record, fields []string) rop.Record {
	if len(fields) == 0 {
		return rec.Clone()
	}
	out := make(rop.Record, len(fields)+1)
	if id, ok := rec["id"]; ok {
		out["id"] = id
	}
	for _, f := range fields {
		if v, ok := rec[f]; ok {
			out[f] = v
		}
	}
	return out
}
