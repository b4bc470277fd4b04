package transaction

import (
	"context"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"github.com/sharedcode/rop"
)

// State enumerates the transaction lifecycle. A transaction starts Active and ends in
// exactly one of the terminal states, Committed or RolledBack.
type State int

const (
	StateActive State = iota
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled back"
	}
	return "unknown"
}

// Transaction is a client-side unit of work. It does not make the remote server
// transactional; it records every mutation so the lot can be compensated in reverse
// order on rollback. Commit is cheap, it only seals the log. All methods are safe for
// concurrent use, but a transaction is typically owned by one call chain at a time.
type Transaction struct {
	id     rop.UUID
	parent *Transaction
	client rop.Client

	// rollbackMaxTime caps how long compensations may run, detached from the caller's
	// (possibly canceled) context.
	rollbackMaxTime time.Duration

	// Manager policy for End, fixed at Begin.
	autoCommit   bool
	autoRollback bool

	mu         sync.Mutex
	state      State
	ops        []Operation
	savepoints []*Savepoint
	metadata   map[string]any
	restored   []RestoredRecord
	beganAt    time.Time
}

func newTransaction(id rop.UUID, parent *Transaction, client rop.Client, rollbackMaxTime time.Duration, metadata map[string]any) *Transaction {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Transaction{
		id:              id,
		parent:          parent,
		client:          client,
		rollbackMaxTime: rollbackMaxTime,
		metadata:        metadata,
		beganAt:         rop.Now(),
	}
}

// ID returns the transaction's unique ID.
func (t *Transaction) ID() rop.UUID {
	return t.id
}

// Parent returns the enclosing transaction, or nil for a root transaction.
func (t *Transaction) Parent() *Transaction {
	return t.parent
}

// State returns the current lifecycle state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Began returns the time the transaction was started.
func (t *Transaction) Began() time.Time {
	return t.beganAt
}

// AddOperation appends a mutation record to the compensation log. The record's
// Timestamp and IdempotencyKey are stamped if unset. Returns a StateError if the
// transaction is no longer active.
func (t *Transaction) AddOperation(op Operation) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return &StateError{Op: "add operation", State: t.state}
	}
	t.ops = append(t.ops, newOperation(op))
	return nil
}

// Operations returns a copy of the compensation log, oldest first. Commit discards the
// log; after a rollback it stays readable so the caller can inspect what was undone.
func (t *Transaction) Operations() []Operation {
	t.mu.Lock()
	defer t.mu.Unlock()
	ops := make([]Operation, len(t.ops))
	copy(ops, t.ops)
	return ops
}

// Savepoints returns the savepoints that are still releasable, oldest first.
func (t *Transaction) Savepoints() []*Savepoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	sps := make([]*Savepoint, 0, len(t.savepoints))
	for _, sp := range t.savepoints {
		if !sp.released {
			sps = append(sps, sp)
		}
	}
	return sps
}

// Restored reports records that a compensation re-created under a new ID, old ID to
// new ID. A re-created record is not the record that was deleted; references held
// elsewhere need manual reconciliation.
func (t *Transaction) Restored() []RestoredRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	rr := make([]RestoredRecord, len(t.restored))
	copy(rr, t.restored)
	return rr
}

// SetContext stores a metadata value on the transaction. A nested transaction starts
// with a snapshot of its parent's metadata, so later changes on either side are not
// seen by the other.
func (t *Transaction) SetContext(key string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metadata[key] = value
}

// GetContext fetches a metadata value stored with SetContext.
func (t *Transaction) GetContext(key string) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.metadata[key]
	return v, ok
}

func (t *Transaction) metadataSnapshot() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	m := make(map[string]any, len(t.metadata))
	for k, v := range t.metadata {
		m[k] = v
	}
	return m
}

// CreateSavepoint marks the current position in the compensation log under a unique
// name. Rolling back to the savepoint undoes only the operations recorded after it.
// The name is reusable once the savepoint has been released.
func (t *Transaction) CreateSavepoint(name string) (*Savepoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return nil, &StateError{Op: "create savepoint", State: t.state}
	}
	if name == "" {
		return nil, &SavepointError{Name: name, Reason: "name is empty"}
	}
	for _, sp := range t.savepoints {
		if !sp.released && sp.name == name {
			return nil, &SavepointError{Name: name, Reason: "already exists"}
		}
	}
	sp := &Savepoint{name: name, logCursor: len(t.ops)}
	t.savepoints = append(t.savepoints, sp)
	return sp, nil
}

// ReleaseSavepoint discards a savepoint without undoing anything. The operations
// recorded since stay in the log and roll back with the transaction.
func (t *Transaction) ReleaseSavepoint(sp *Savepoint) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sp == nil {
		return &SavepointError{Reason: "savepoint is nil"}
	}
	if t.savepointIndex(sp) < 0 {
		return &SavepointError{Name: sp.name, Reason: "does not belong to this transaction"}
	}
	if sp.released {
		return &SavepointError{Name: sp.name, Reason: "already released"}
	}
	sp.released = true
	return nil
}

func (t *Transaction) savepointIndex(sp *Savepoint) int {
	for i := range t.savepoints {
		if t.savepoints[i] == sp {
			return i
		}
	}
	return -1
}

// RollbackToSavepoint compensates, newest first, every operation recorded after the
// savepoint and truncates them from the log. The rollback releases the savepoint itself
// and every savepoint whose cursor is at or past its cursor; rolling back to the same
// savepoint twice fails with a SavepointError, create a new one to checkpoint again.
// The transaction stays active. A non-nil error of type *RollbackError means some
// compensations could not be applied; the log is truncated regardless, those operations
// will not be compensated again.
func (t *Transaction) RollbackToSavepoint(ctx context.Context, sp *Savepoint) error {
	t.mu.Lock()
	if t.state != StateActive {
		t.mu.Unlock()
		return &StateError{Op: "rollback to savepoint", State: t.state}
	}
	if sp == nil {
		t.mu.Unlock()
		return &SavepointError{Reason: "savepoint is nil"}
	}
	i := t.savepointIndex(sp)
	if i < 0 {
		t.mu.Unlock()
		return &SavepointError{Name: sp.name, Reason: "does not belong to this transaction"}
	}
	if sp.released {
		t.mu.Unlock()
		return &SavepointError{Name: sp.name, Reason: "already released"}
	}

	undo := make([]Operation, len(t.ops)-sp.logCursor)
	copy(undo, t.ops[sp.logCursor:])
	t.ops = t.ops[:sp.logCursor]
	// The rollback passes through sp and invalidates every checkpoint at or past its
	// cursor, sp included.
	for _, other := range t.savepoints {
		if !other.released && other.logCursor >= sp.logCursor {
			other.released = true
		}
	}
	t.mu.Unlock()

	log.Debug(fmt.Sprintf("transaction %s rolling back to savepoint %q, undoing %d operation(s)", t.id, sp.name, len(undo)))
	failures, restored := t.compensate(ctx, undo)
	t.recordRestored(restored)
	if len(failures) > 0 {
		return &RollbackError{Partial: true, Failures: failures, Restored: restored}
	}
	return nil
}

// Commit seals the transaction. Nothing is sent to the server; the compensation log is
// validated and then discarded, its data is no longer needed. For a nested transaction
// the log is first folded into the parent, which becomes responsible for compensating
// it if the parent later rolls back. On error the transaction stays active so the
// caller can roll it back.
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	if t.state != StateActive {
		t.mu.Unlock()
		return &StateError{Op: "commit", State: t.state}
	}
	if err := validateLog(t.ops); err != nil {
		t.mu.Unlock()
		return &CommitError{Reason: "compensation log is inconsistent", Err: err}
	}
	for _, sp := range t.savepoints {
		if !sp.released && sp.logCursor > len(t.ops) {
			t.mu.Unlock()
			return &CommitError{Reason: fmt.Sprintf("savepoint %q points past the end of the log", sp.name)}
		}
	}

	if t.parent != nil {
		// Lock order is child then parent. No code path locks a parent and then one of
		// its children, so this 'can't deadlock.
		p := t.parent
		p.mu.Lock()
		if p.state != StateActive {
			p.mu.Unlock()
			t.mu.Unlock()
			return &CommitError{Reason: fmt.Sprintf("parent transaction %s is %s, 'can't fold into it", p.id, p.state)}
		}
		p.ops = append(p.ops, t.ops...)
		p.restored = append(p.restored, t.restored...)
		p.mu.Unlock()
	}

	t.state = StateCommitted
	for _, sp := range t.savepoints {
		sp.released = true
	}
	n := len(t.ops)
	t.ops = nil
	t.mu.Unlock()

	log.Debug(fmt.Sprintf("transaction %s committed, %d operation(s), took %v", t.id, n, rop.Now().Sub(t.beganAt)))
	return nil
}

// Rollback compensates every recorded operation, newest first, then marks the
// transaction rolled back. One compensation failing does not stop the rest; failures
// are aggregated into a *RollbackError. The state flips before compensations run, so a
// transaction is never compensated twice even on error.
func (t *Transaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	if t.state != StateActive {
		t.mu.Unlock()
		return &StateError{Op: "rollback", State: t.state}
	}
	t.state = StateRolledBack
	undo := make([]Operation, len(t.ops))
	copy(undo, t.ops)
	for _, sp := range t.savepoints {
		sp.released = true
	}
	t.mu.Unlock()

	log.Debug(fmt.Sprintf("transaction %s rolling back %d operation(s)", t.id, len(undo)))
	failures, restored := t.compensate(ctx, undo)
	t.recordRestored(restored)
	if len(failures) > 0 {
		return &RollbackError{Partial: true, Failures: failures, Restored: restored}
	}
	log.Debug(fmt.Sprintf("transaction %s rolled back, took %v", t.id, rop.Now().Sub(t.beganAt)))
	return nil
}

func (t *Transaction) recordRestored(restored []RestoredRecord) {
	if len(restored) == 0 {
		return
	}
	t.mu.Lock()
	t.restored = append(t.restored, restored...)
	t.mu.Unlock()
}

// compensate undoes ops newest first, continuing past failures. It runs detached from
// the caller's cancelation, capped by rollbackMaxTime, so a canceled request 'can't
// leave half the log uncompensated. Returns the failures in the order attempted and
// any records that came back under a new ID.
func (t *Transaction) compensate(ctx context.Context, ops []Operation) ([]CompensationFailure, []RestoredRecord) {
	if len(ops) == 0 {
		return nil, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	// Detach the current transaction too, otherwise a tracked client would record the
	// compensations themselves as new operations during a savepoint rollback.
	ctx, cancel := context.WithTimeout(detachTransaction(context.WithoutCancel(ctx)), t.rollbackMaxTime)
	defer cancel()

	var failures []CompensationFailure
	var restored []RestoredRecord
	started := rop.Now()
	for i := len(ops) - 1; i >= 0; i-- {
		op := ops[i]
		// Once past the time cap, stop issuing calls and report the rest as failed so
		// the transaction still reaches its terminal state.
		if terr := rop.TimedOut(ctx, "rollback", started, t.rollbackMaxTime); terr != nil {
			for j := i; j >= 0; j-- {
				failures = append(failures, CompensationFailure{Op: ops[j], Err: terr})
			}
			break
		}
		switch op.Type {
		case OperationCreate:
			if len(op.CreatedIDs) == 0 {
				continue
			}
			if err := t.client.Delete(ctx, op.Model, op.CreatedIDs); err != nil {
				failures = append(failures, CompensationFailure{Op: op, Err: fmt.Errorf("delete of created record(s) failed: %w", err)})
			}
		case OperationUpdate:
			if len(op.OriginalData) != len(op.RecordIDs) {
				failures = append(failures, CompensationFailure{Op: op, Err: fmt.Errorf("original data count %d 'doesn't match record IDs count %d", len(op.OriginalData), len(op.RecordIDs))})
				continue
			}
			for j, id := range op.RecordIDs {
				if err := t.client.Write(ctx, op.Model, []int64{id}, restorable(op.OriginalData[j])); err != nil {
					failures = append(failures, CompensationFailure{Op: op, Err: fmt.Errorf("restore of record %d failed: %w", id, err)})
				}
			}
		case OperationDelete:
			if len(op.OriginalData) != len(op.RecordIDs) {
				failures = append(failures, CompensationFailure{Op: op, Err: fmt.Errorf("original data count %d 'doesn't match record IDs count %d", len(op.OriginalData), len(op.RecordIDs))})
				continue
			}
			for j, oldID := range op.RecordIDs {
				newID, err := t.client.Create(ctx, op.Model, restorable(op.OriginalData[j]))
				if err != nil {
					failures = append(failures, CompensationFailure{Op: op, Err: fmt.Errorf("re-create of record %d failed: %w", oldID, err)})
					continue
				}
				log.Warn(fmt.Sprintf("transaction %s re-created %s record %d as %d, references to the old ID need manual fixup", t.id, op.Model, oldID, newID))
				restored = append(restored, RestoredRecord{Model: op.Model, OldID: oldID, NewID: newID})
			}
		case OperationCustom:
			if op.Rollback == nil {
				failures = append(failures, CompensationFailure{Op: op, Err: fmt.Errorf("no compensation registered for custom operation on %s", op.Model)})
				continue
			}
			if err := op.Rollback(ctx, t.client); err != nil {
				failures = append(failures, CompensationFailure{Op: op, Err: err})
			}
		default:
			failures = append(failures, CompensationFailure{Op: op, Err: fmt.Errorf("unknown operation type %d", op.Type)})
		}
	}
	return failures, restored
}

// restorable strips the server-assigned id field so the payload can be used in write
// and create calls.
func restorable(rec rop.Record) rop.Record {
	if _, ok := rec["id"]; !ok {
		return rec
	}
	out := rec.Clone()
	delete(out, "id")
	return out
}

// validateLog checks that every record in the compensation log carries what its own
// compensation will need.
func validateLog(ops []Operation) error {
	for i := range ops {
		op := &ops[i]
		switch op.Type {
		case OperationCreate, OperationUpdate, OperationDelete, OperationCustom:
		default:
			return fmt.Errorf("operation %d has unknown type %d", i, op.Type)
		}
		if op.Model == "" && op.Type != OperationCustom {
			return fmt.Errorf("operation %d (%s) has no model", i, op.Type)
		}
		if (op.Type == OperationUpdate || op.Type == OperationDelete) && len(op.OriginalData) != len(op.RecordIDs) {
			return fmt.Errorf("operation %d (%s on %s) has %d original record(s) for %d ID(s)", i, op.Type, op.Model, len(op.OriginalData), len(op.RecordIDs))
		}
	}
	return nil
}
