package transaction

import (
	"fmt"
	"strings"
)

// StateError signals an illegal lifecycle transition: double commit, rollback after
// commit, or appending operations to a terminal transaction. It indicates a programming
// error in the caller and is raised immediately, never collected.
type StateError struct {
	// Op is the attempted operation, e.g. "commit", "rollback", "add operation".
	Op string
	// State is the transaction's state at the time of the attempt.
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("can't %s, transaction is %s, 'create a new one", e.Op, e.State)
}

// SavepointError signals a duplicate, unknown, already-released or stale savepoint name.
type SavepointError struct {
	Name   string
	Reason string
}

func (e *SavepointError) Error() string {
	return fmt.Sprintf("savepoint %q: %s", e.Name, e.Reason)
}

// CommitError signals a commit-time failure: the compensation bookkeeping could not be
// finalized, e.g. an inconsistency was detected in the log or the parent refused the
// fold of a nested transaction's operations. The manager's policy is to attempt a full
// rollback before propagating it.
type CommitError struct {
	Reason string
	Err    error
}

func (e *CommitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("commit failed: %s", e.Reason)
	}
	return fmt.Sprintf("commit failed: %s: %v", e.Reason, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// CompensationFailure pairs one operation with the error its compensation produced.
type CompensationFailure struct {
	Op  Operation
	Err error
}

func (f CompensationFailure) String() string {
	return fmt.Sprintf("%s %s ids=%v created=%v: %v", f.Op.Type, f.Op.Model, f.Op.RecordIDs, f.Op.CreatedIDs, f.Err)
}

// RollbackError aggregates every compensation that failed during a rollback. It is
// informational: by the time it is returned the transaction has already reached its
// terminal state (full rollback) or its truncated-log state (savepoint rollback), and
// every compensable operation has been reversed. Only the listed operations require
// manual remediation.
type RollbackError struct {
	// Partial is true when at least one compensation failed, i.e. the rollback was only
	// partially applied to the remote server.
	Partial bool
	// Failures lists each failed compensation, most recent operation first (the order
	// they were attempted in).
	Failures []CompensationFailure
	// Restored maps re-created records (DELETE compensations) from old to new IDs so
	// callers can reconcile foreign references manually.
	Restored []RestoredRecord
}

func (e *RollbackError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "rollback partially failed, %d compensation(s) could not be applied", len(e.Failures))
	for i := range e.Failures {
		sb.WriteString("; ")
		sb.WriteString(e.Failures[i].String())
	}
	if len(e.Restored) > 0 {
		fmt.Fprintf(&sb, "; re-created records (old->new):")
		for i := range e.Restored {
			fmt.Fprintf(&sb, " %s %d->%d", e.Restored[i].Model, e.Restored[i].OldID, e.Restored[i].NewID)
		}
	}
	return sb.String()
}

// Unwrap exposes the individual compensation errors so callers can probe the aggregate
// with errors.Is/As, e.g. to detect a deadlock-coded rop.Error and retry the whole
// transaction.
func (e *RollbackError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for i := range e.Failures {
		if e.Failures[i].Err != nil {
			errs = append(errs, e.Failures[i].Err)
		}
	}
	return errs
}
