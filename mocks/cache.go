package mocks

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/sharedcode/rop"
)

// Cache is an in-memory stand-in for the shared (L2) record cache, satisfying
// cache.Layer2. Induce failures per method via FailOnCache.
type Cache struct {
	mu      sync.Mutex
	records map[string]rop.Record
	failOn  map[string]error

	// Hits and Misses tally GetRecord outcomes for assertions.
	Hits   int
	Misses int
}

func NewCache() *Cache {
	return &Cache{
		records: make(map[string]rop.Record),
		failOn:  make(map[string]error),
	}
}

// FailOnCache makes every call of method ("get", "set", "delete", "invalidate",
// "ping") fail with err until cleared with a nil err.
func (c *Cache) FailOnCache(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.failOn, method)
		return
	}
	c.failOn[method] = err
}

func (c *Cache) key(model string, id int64) string {
	return model + ":" + strconv.FormatInt(id, 10)
}

func (c *Cache) SetRecord(ctx context.Context, model string, id int64, rec rop.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failOn["set"]; err != nil {
		return err
	}
	c.records[c.key(model, id)] = rec.Clone()
	return nil
}

func (c *Cache) GetRecord(ctx context.Context, model string, id int64) (bool, rop.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failOn["get"]; err != nil {
		return false, nil, err
	}
	rec, ok := c.records[c.key(model, id)]
	if !ok {
		c.Misses++
		return false, nil, nil
	}
	c.Hits++
	return true, rec.Clone(), nil
}

func (c *Cache) DeleteRecords(ctx context.Context, model string, ids []int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failOn["delete"]; err != nil {
		return err
	}
	for _, id := range ids {
		delete(c.records, c.key(model, id))
	}
	return nil
}

func (c *Cache) InvalidateModel(ctx context.Context, model string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failOn["invalidate"]; err != nil {
		return err
	}
	prefix := model + ":"
	for k := range c.records {
		if strings.HasPrefix(k, prefix) {
			delete(c.records, k)
		}
	}
	return nil
}

func (c *Cache) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failOn["ping"]
}

// CachedCount returns the number of cached records.
func (c *Cache) CachedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}
