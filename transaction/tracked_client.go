package transaction

import (
	"context"
	"fmt"
	"sync"

	"github.com/sharedcode/rop"
)

// Validator vets a record payload before it is sent to the server. Package validate
// provides a CEL-backed implementation.
type Validator interface {
	Validate(model string, rec rop.Record) error
}

// TrackedClient wraps a backend client and records every mutation into the call
// chain's current transaction so it can be compensated on rollback. Without a current
// transaction calls pass straight through. Reads are never recorded.
//
// Update and delete tracking captures the records' original data with an extra read
// before mutating; if that capture fails the mutation is not performed, a record that
// 'can't be restored must not be touched.
type TrackedClient struct {
	inner rop.Client

	mu        sync.Mutex
	validator Validator
}

func NewTrackedClient(inner rop.Client) *TrackedClient {
	return &TrackedClient{inner: inner}
}

// SetValidator installs v as the payload validator for Create, CreateBulk and Write.
// Pass nil to remove it.
func (c *TrackedClient) SetValidator(v Validator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validator = v
}

func (c *TrackedClient) validate(model string, rec rop.Record) error {
	if rec == nil {
		return nil
	}
	c.mu.Lock()
	v := c.validator
	c.mu.Unlock()
	if v == nil {
		return nil
	}
	return v.Validate(model, rec)
}

func (c *TrackedClient) Create(ctx context.Context, model string, data rop.Record) (int64, error) {
	if err := c.validate(model, data); err != nil {
		return 0, err
	}
	id, err := c.inner.Create(ctx, model, data)
	if err != nil {
		return 0, err
	}
	if t := FromContext(ctx); t != nil {
		if rerr := t.AddOperation(Operation{
			Type:       OperationCreate,
			Model:      model,
			CreatedIDs: []int64{id},
			NewData:    []rop.Record{data.Clone()},
		}); rerr != nil {
			// The record exists on the server but will not be compensated.
			return id, fmt.Errorf("created %s record %d but 'couldn't record it for compensation: %w", model, id, rerr)
		}
	}
	return id, nil
}

func (c *TrackedClient) CreateBulk(ctx context.Context, model string, records []rop.Record) ([]int64, error) {
	for i := range records {
		if err := c.validate(model, records[i]); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	ids, err := c.inner.CreateBulk(ctx, model, records)
	if err != nil {
		return nil, err
	}
	if t := FromContext(ctx); t != nil && len(ids) > 0 {
		newData := make([]rop.Record, len(records))
		for i := range records {
			newData[i] = records[i].Clone()
		}
		if rerr := t.AddOperation(Operation{
			Type:       OperationCreate,
			Model:      model,
			CreatedIDs: append([]int64(nil), ids...),
			NewData:    newData,
		}); rerr != nil {
			return ids, fmt.Errorf("created %s record(s) %v but 'couldn't record them for compensation: %w", model, ids, rerr)
		}
	}
	return ids, nil
}

func (c *TrackedClient) Read(ctx context.Context, model string, ids []int64, fields []string) ([]rop.Record, error) {
	return c.inner.Read(ctx, model, ids, fields)
}

func (c *TrackedClient) Write(ctx context.Context, model string, ids []int64, data rop.Record) error {
	if err := c.validate(model, data); err != nil {
		return err
	}
	t := FromContext(ctx)
	var originals []rop.Record
	if t != nil && len(ids) > 0 {
		var err error
		if originals, err = c.captureOriginals(ctx, model, ids); err != nil {
			return err
		}
	}
	if err := c.inner.Write(ctx, model, ids, data); err != nil {
		return err
	}
	if t != nil {
		// One record per ID so each compensation restores that record's own values.
		for i, id := range ids {
			if rerr := t.AddOperation(Operation{
				Type:         OperationUpdate,
				Model:        model,
				RecordIDs:    []int64{id},
				OriginalData: []rop.Record{originals[i]},
				NewData:      []rop.Record{data.Clone()},
			}); rerr != nil {
				return fmt.Errorf("wrote %s record %d but 'couldn't record it for compensation: %w", model, id, rerr)
			}
		}
	}
	return nil
}

func (c *TrackedClient) Delete(ctx context.Context, model string, ids []int64) error {
	t := FromContext(ctx)
	var originals []rop.Record
	if t != nil && len(ids) > 0 {
		var err error
		if originals, err = c.captureOriginals(ctx, model, ids); err != nil {
			return err
		}
	}
	if err := c.inner.Delete(ctx, model, ids); err != nil {
		return err
	}
	if t != nil {
		for i, id := range ids {
			if rerr := t.AddOperation(Operation{
				Type:         OperationDelete,
				Model:        model,
				RecordIDs:    []int64{id},
				OriginalData: []rop.Record{originals[i]},
			}); rerr != nil {
				return fmt.Errorf("deleted %s record %d but 'couldn't record it for compensation: %w", model, id, rerr)
			}
		}
	}
	return nil
}

func (c *TrackedClient) Search(ctx context.Context, model string, domain []any, opts rop.SearchOptions) ([]int64, error) {
	return c.inner.Search(ctx, model, domain, opts)
}

func (c *TrackedClient) SearchRead(ctx context.Context, model string, domain []any, fields []string, opts rop.SearchOptions) ([]rop.Record, error) {
	return c.inner.SearchRead(ctx, model, domain, fields, opts)
}

// Execute passes the call through and records it as a custom operation. There is no
// automatic compensation for an arbitrary method; unless the caller registers one via
// ExecuteWithRollback, a rollback will report the operation as not compensated.
func (c *TrackedClient) Execute(ctx context.Context, model string, method string, ids []int64, kwargs rop.Record) (any, error) {
	return c.execute(ctx, model, method, ids, kwargs, nil)
}

// ExecuteWithRollback is Execute with a caller-supplied compensation, invoked with the
// backend client if the transaction rolls back.
func (c *TrackedClient) ExecuteWithRollback(ctx context.Context, model string, method string, ids []int64, kwargs rop.Record, rollback RollbackFunc) (any, error) {
	return c.execute(ctx, model, method, ids, kwargs, rollback)
}

func (c *TrackedClient) execute(ctx context.Context, model string, method string, ids []int64, kwargs rop.Record, rollback RollbackFunc) (any, error) {
	res, err := c.inner.Execute(ctx, model, method, ids, kwargs)
	if err != nil {
		return nil, err
	}
	if t := FromContext(ctx); t != nil {
		callCtx := map[string]any{"method": method}
		if kwargs != nil {
			callCtx["kwargs"] = kwargs.Clone()
		}
		if rerr := t.AddOperation(Operation{
			Type:        OperationCustom,
			Model:       model,
			RecordIDs:   append([]int64(nil), ids...),
			CallContext: callCtx,
			Rollback:    rollback,
		}); rerr != nil {
			return res, fmt.Errorf("executed %s.%s but 'couldn't record it for compensation: %w", model, method, rerr)
		}
	}
	return res, nil
}

// captureOriginals reads the full current data of the given records, one per ID in
// order, to serve as the compensation payload.
func (c *TrackedClient) captureOriginals(ctx context.Context, model string, ids []int64) ([]rop.Record, error) {
	recs, err := c.inner.Read(ctx, model, ids, nil)
	if err != nil {
		return nil, fmt.Errorf("'can't capture original data of %s record(s) %v for compensation: %w", model, ids, err)
	}
	byID := make(map[int64]rop.Record, len(recs))
	for _, r := range recs {
		if id, ok := r.ID(); ok {
			byID[id] = r
		}
	}
	out := make([]rop.Record, len(ids))
	for i, id := range ids {
		r, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("'can't capture original data of %s record %d for compensation, record not found", model, id)
		}
		out[i] = r.Clone()
	}
	return out, nil
}
