package transaction

import (
	"fmt"
	"sync"

	"github.com/sharedcode/rop"
)

// Registry tracks the active transactions of a process and tallies finished ones. It
// holds only active transactions; a transaction is removed the moment it reaches a
// terminal state, so the registry never pins a finished transaction's log in memory.
// Safe for concurrent use.
type Registry struct {
	mu         sync.Mutex
	active     map[rop.UUID]*Transaction
	committed  int64
	rolledBack int64
}

func NewRegistry() *Registry {
	return &Registry{
		active: map[rop.UUID]*Transaction{},
	}
}

// Register adds an active transaction. Returns an error on a duplicate ID.
func (r *Registry) Register(t *Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[t.id]; ok {
		return fmt.Errorf("transaction %s is already registered", t.id)
	}
	r.active[t.id] = t
	return nil
}

// Unregister removes a transaction and tallies its outcome. Unknown IDs are ignored,
// unregistering twice is harmless.
func (r *Registry) Unregister(t *Transaction) {
	state := t.State()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[t.id]; !ok {
		return
	}
	delete(r.active, t.id)
	switch state {
	case StateCommitted:
		r.committed++
	case StateRolledBack:
		r.rolledBack++
	}
}

// Get returns the active transaction with the given ID, or nil.
func (r *Registry) Get(id rop.UUID) *Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[id]
}

// Active returns a snapshot of the active transactions, in no particular order.
func (r *Registry) Active() []*Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := make([]*Transaction, 0, len(r.active))
	for _, t := range r.active {
		ts = append(ts, t)
	}
	return ts
}

// ActiveCount returns the number of active transactions.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Counts returns how many transactions committed and how many rolled back since the
// registry was created.
func (r *Registry) Counts() (committed, rolledBack int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.committed, r.rolledBack
}
