package transaction

import (
	"context"
	"time"

	"github.com/sharedcode/rop"
)

// OperationType classifies a recorded remote call for compensation purposes.
type OperationType int

const (
	OperationUnknown OperationType = iota
	// OperationCreate is compensated by deleting the created IDs.
	OperationCreate
	// OperationUpdate is compensated by writing OriginalData back onto RecordIDs.
	OperationUpdate
	// OperationDelete is compensated by re-creating the records from OriginalData.
	// Re-created records receive new server IDs; the rollback report maps old to new.
	OperationDelete
	// OperationCustom is compensated by the caller-supplied Rollback function, if any.
	OperationCustom
)

// String returns the operation type's wire-ish name for logs and error messages.
func (t OperationType) String() string {
	switch t {
	case OperationCreate:
		return "CREATE"
	case OperationUpdate:
		return "UPDATE"
	case OperationDelete:
		return "DELETE"
	case OperationCustom:
		return "CUSTOM"
	}
	return "UNKNOWN"
}

// RollbackFunc compensates a custom operation. It receives the transaction's remote
// client so it can issue inverse calls of its own.
type RollbackFunc func(ctx context.Context, client rop.Client) error

// Operation describes one compensatable remote call. It is immutable once appended to a
// transaction's log; a rollback removes operations wholesale (full log or a savepoint
// suffix) but never edits them in place.
type Operation struct {
	// Type is the call's classification; it selects the compensation strategy.
	Type OperationType
	// Model is the remote entity type the call touched.
	Model string
	// RecordIDs are the affected identifiers. Empty for CREATE until the call returns.
	RecordIDs []int64
	// CreatedIDs are the identifiers a CREATE call returned. They are owned by this
	// record and compensated via delete.
	CreatedIDs []int64
	// OriginalData holds each record's field values as they were before the call
	// executed, one entry per entry of RecordIDs. Required for UPDATE and DELETE
	// compensation; it must be captured before the mutating call.
	OriginalData []rop.Record
	// NewData is the payload sent in the call, one entry per created record for
	// CREATE. Diagnostics only, never replayed.
	NewData []rop.Record
	// Timestamp is when the operation was recorded.
	Timestamp time.Time
	// IdempotencyKey, when set, lets callers detect and avoid duplicate compensation
	// across retried transactions.
	IdempotencyKey rop.UUID
	// CallContext carries arbitrary caller metadata (method name, request id, etc.).
	CallContext map[string]any
	// Rollback is the compensation for CUSTOM operations. A CUSTOM operation without
	// one cannot be compensated and is reported as failed during rollback.
	Rollback RollbackFunc `json:"-"`
}

// newOperation stamps defaults on a caller-built operation record.
func newOperation(op Operation) Operation {
	if op.Timestamp.IsZero() {
		op.Timestamp = rop.Now()
	}
	if op.IdempotencyKey.IsNil() {
		op.IdempotencyKey = rop.NewUUID()
	}
	return op
}

// RestoredRecord reports one DELETE compensation: the record re-created from its
// captured original data, under a new server identifier. Foreign references to OldID
// held elsewhere are not repaired automatically; callers reconcile using this mapping.
type RestoredRecord struct {
	Model string
	OldID int64
	NewID int64
}
