// Package batch splits big bulk operations into server-friendly chunks. The server
// rejects or times out oversized argument lists; the executor chops them up and runs
// the chunks with bounded concurrency, falling back to sequential execution inside a
// transaction so the operation log order matches the call order.
package batch

import (
	"context"
	"fmt"

	"github.com/sharedcode/rop"
	"github.com/sharedcode/rop/transaction"
)

const (
	// DefaultChunkSize is the number of records or IDs sent per server call.
	DefaultChunkSize = 500
	// DefaultMaxConcurrency caps the chunks in flight at a time.
	DefaultMaxConcurrency = 5
)

// Executor runs chunked bulk operations over a client. Give it the manager's tracked
// client to have every chunk recorded for compensation.
type Executor struct {
	client rop.Client
	// ChunkSize is the max records or IDs per server call.
	ChunkSize int
	// MaxConcurrency caps the chunks in flight. 1 or less runs chunks sequentially.
	MaxConcurrency int
}

// NewExecutor constructs an Executor with defaults applied for zero or negative
// settings.
func NewExecutor(client rop.Client, chunkSize int, maxConcurrency int) *Executor {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	return &Executor{
		client:         client,
		ChunkSize:      chunkSize,
		MaxConcurrency: maxConcurrency,
	}
}

// sequential reports whether chunks must run one at a time: either concurrency is off
// or a transaction is current in ctx, in which case chunks have to land on its
// operation log in call order.
func (e *Executor) sequential(ctx context.Context) bool {
	return e.MaxConcurrency <= 1 || transaction.FromContext(ctx) != nil
}

// chunkBounds returns the [start, end) pairs covering n items in ChunkSize steps.
func (e *Executor) chunkBounds(n int) []rop.Tuple[int, int] {
	bounds := make([]rop.Tuple[int, int], 0, n/e.ChunkSize+1)
	for start := 0; start < n; start += e.ChunkSize {
		end := start + e.ChunkSize
		if end > n {
			end = n
		}
		bounds = append(bounds, rop.Tuple[int, int]{First: start, Second: end})
	}
	return bounds
}

// CreateAll inserts records in chunks and returns their new IDs in input order.
// On error, chunks already sent stay created on the server; run inside a transaction
// to get them compensated.
func (e *Executor) CreateAll(ctx context.Context, model string, records []rop.Record) ([]int64, error) {
	if len(records) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(records))
	bounds := e.chunkBounds(len(records))

	if e.sequential(ctx) {
		for _, b := range bounds {
			chunkIDs, err := e.client.CreateBulk(ctx, model, records[b.First:b.Second])
			if err != nil {
				return nil, fmt.Errorf("create chunk [%d:%d] of %s failed, details: %w", b.First, b.Second, model, err)
			}
			copy(ids[b.First:], chunkIDs)
		}
		return ids, nil
	}

	tr := rop.NewTaskRunner(ctx, e.MaxConcurrency)
	for _, b := range bounds {
		tr.Go(func() error {
			chunkIDs, err := e.client.CreateBulk(tr.GetContext(), model, records[b.First:b.Second])
			if err != nil {
				return fmt.Errorf("create chunk [%d:%d] of %s failed, details: %w", b.First, b.Second, model, err)
			}
			// Chunks own disjoint slices of ids, no lock needed.
			copy(ids[b.First:], chunkIDs)
			return nil
		})
	}
	if err := tr.Wait(); err != nil {
		return nil, err
	}
	return ids, nil
}

// WriteAll updates data on the given records in chunks.
func (e *Executor) WriteAll(ctx context.Context, model string, ids []int64, data rop.Record) error {
	return e.eachChunk(ctx, ids, func(ctx context.Context, chunk []int64) error {
		if err := e.client.Write(ctx, model, chunk, data); err != nil {
			return fmt.Errorf("write chunk of %d %s records failed, details: %w", len(chunk), model, err)
		}
		return nil
	})
}

// DeleteAll removes the given records in chunks.
func (e *Executor) DeleteAll(ctx context.Context, model string, ids []int64) error {
	return e.eachChunk(ctx, ids, func(ctx context.Context, chunk []int64) error {
		if err := e.client.Delete(ctx, model, chunk); err != nil {
			return fmt.Errorf("delete chunk of %d %s records failed, details: %w", len(chunk), model, err)
		}
		return nil
	})
}

// ReadAll fetches the given records in chunks and returns them in ID order.
func (e *Executor) ReadAll(ctx context.Context, model string, ids []int64, fields []string) ([]rop.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	bounds := e.chunkBounds(len(ids))
	results := make([][]rop.Record, len(bounds))

	fetch := func(ctx context.Context, i int, b rop.Tuple[int, int]) error {
		recs, err := e.client.Read(ctx, model, ids[b.First:b.Second], fields)
		if err != nil {
			return fmt.Errorf("read chunk [%d:%d] of %s failed, details: %w", b.First, b.Second, model, err)
		}
		results[i] = recs
		return nil
	}

	if e.sequential(ctx) {
		for i, b := range bounds {
			if err := fetch(ctx, i, b); err != nil {
				return nil, err
			}
		}
	} else {
		tr := rop.NewTaskRunner(ctx, e.MaxConcurrency)
		for i, b := range bounds {
			tr.Go(func() error {
				return fetch(tr.GetContext(), i, b)
			})
		}
		if err := tr.Wait(); err != nil {
			return nil, err
		}
	}

	merged := make([]rop.Record, 0, len(ids))
	for _, recs := range results {
		merged = append(merged, recs...)
	}
	return merged, nil
}

func (e *Executor) eachChunk(ctx context.Context, ids []int64, do func(ctx context.Context, chunk []int64) error) error {
	if len(ids) == 0 {
		return nil
	}
	bounds := e.chunkBounds(len(ids))

	if e.sequential(ctx) {
		for _, b := range bounds {
			if err := do(ctx, ids[b.First:b.Second]); err != nil {
				return err
			}
		}
		return nil
	}

	tr := rop.NewTaskRunner(ctx, e.MaxConcurrency)
	for _, b := range bounds {
		tr.Go(func() error {
			return do(tr.GetContext(), ids[b.First:b.Second])
		})
	}
	return tr.Wait()
}
