package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sharedcode/rop"
)

// RecordCache is the Redis-backed L2: full records keyed by model and ID, shared by
// every process pointed at the same Redis. Entries expire after ttl.
type RecordCache struct {
	conn *Connection
	ttl  time.Duration
}

// NewRecordCache wraps the singleton connection. Open it first via OpenConnection.
func NewRecordCache(ttl time.Duration) *RecordCache {
	return &RecordCache{
		conn: connection,
		ttl:  ttl,
	}
}

// keyNotFound will detect whether error signifies key not found by Redis.
func (r *RecordCache) keyNotFound(err error) bool {
	return err == redis.Nil
}

func (r *RecordCache) key(model string, id int64) string {
	return fmt.Sprintf("rop:record:%s:%d", model, id)
}

// Ping tests Redis connectivity.
func (r *RecordCache) Ping(ctx context.Context) error {
	if r.conn == nil {
		return fmt.Errorf("Redis connection is not open, 'can't use the record cache")
	}
	return r.conn.Client.Ping(ctx).Err()
}

// SetRecord caches one full record.
func (r *RecordCache) SetRecord(ctx context.Context, model string, id int64, rec rop.Record) error {
	if r.conn == nil {
		return fmt.Errorf("Redis connection is not open, 'can't use the record cache")
	}
	ba, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.conn.Client.Set(ctx, r.key(model, id), string(ba), r.ttl).Err()
}

// GetRecord fetches one cached record. A missing key is not an error, found=false.
func (r *RecordCache) GetRecord(ctx context.Context, model string, id int64) (bool, rop.Record, error) {
	if r.conn == nil {
		return false, nil, fmt.Errorf("Redis connection is not open, 'can't use the record cache")
	}
	s, err := r.conn.Client.Get(ctx, r.key(model, id)).Result()
	if err != nil {
		if r.keyNotFound(err) {
			return false, nil, nil
		}
		return false, nil, err
	}
	var rec rop.Record
	if err := json.Unmarshal([]byte(s), &rec); err != nil {
		return false, nil, err
	}
	return true, rec, nil
}

// DeleteRecords drops the cached copies of the given records.
func (r *RecordCache) DeleteRecords(ctx context.Context, model string, ids []int64) error {
	if r.conn == nil {
		return fmt.Errorf("Redis connection is not open, 'can't use the record cache")
	}
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(model, id)
	}
	return r.conn.Client.Del(ctx, keys...).Err()
}

// InvalidateModel drops every cached record of the model, e.g. after a server-side
// method with unknown write set.
func (r *RecordCache) InvalidateModel(ctx context.Context, model string) error {
	if r.conn == nil {
		return fmt.Errorf("Redis connection is not open, 'can't use the record cache")
	}
	pattern := fmt.Sprintf("rop:record:%s:*", model)
	iter := r.conn.Client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 100 {
			if err := r.conn.Client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return r.conn.Client.Del(ctx, keys...).Err()
	}
	return nil
}
