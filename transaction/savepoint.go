package transaction

// Savepoint is a named cursor into a transaction's operation log. Rolling back to it
// undoes and removes only the operations appended after it was created.
//
// A savepoint is released once RollbackToSavepoint passes through it or the caller
// releases it explicitly; a released savepoint no longer denotes a valid rollback point
// and its name becomes reusable.
type Savepoint struct {
	name      string
	logCursor int
	released  bool
}

// Name returns the savepoint's name, unique among the transaction's live savepoints.
func (s *Savepoint) Name() string {
	return s.name
}

// Cursor returns the operation log length at the time the savepoint was created.
func (s *Savepoint) Cursor() int {
	return s.logCursor
}

// Released reports whether the savepoint has been released, either explicitly or by a
// rollback passing through it.
func (s *Savepoint) Released() bool {
	return s.released
}
