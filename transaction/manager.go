package transaction

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"time"

	"github.com/sharedcode/rop"
)

// ErrNoTransaction is returned by operations that need a current transaction in the
// context and found none.
var ErrNoTransaction = errors.New("no active transaction in context")

// Manager begins and ends transactions over one backend client. It hands out a tracked
// client that records mutations into the call chain's current transaction, keeps the
// registry of active transactions and applies the end-of-transaction policy, commit on
// success, rollback on error.
type Manager struct {
	client          rop.Client
	tracked         *TrackedClient
	registry        *Registry
	rollbackMaxTime time.Duration
}

// NewManager constructs a Manager over client. registry can be nil, a private one is
// created. rollbackMaxTime caps compensation time per transaction, it defaults to 15
// minutes if 0 is specified and has a max of 1 hour.
func NewManager(client rop.Client, registry *Registry, rollbackMaxTime time.Duration) *Manager {
	if rollbackMaxTime <= 0 {
		rollbackMaxTime = time.Duration(15 * time.Minute)
	}
	if rollbackMaxTime > time.Duration(1*time.Hour) {
		rollbackMaxTime = time.Duration(1 * time.Hour)
	}
	if registry == nil {
		registry = NewRegistry()
	}
	m := &Manager{
		client:          client,
		registry:        registry,
		rollbackMaxTime: rollbackMaxTime,
	}
	m.tracked = NewTrackedClient(client)
	return m
}

// Client returns the tracked client. Mutations issued through it while a transaction is
// current in the context are recorded for compensation; outside a transaction it passes
// calls straight through.
func (m *Manager) Client() rop.Client {
	return m.tracked
}

// Registry returns the manager's registry of active transactions.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// SetValidator installs a validator on the tracked client. Pass nil to remove it.
func (m *Manager) SetValidator(v Validator) {
	m.tracked.SetValidator(v)
}

type txOptions struct {
	id           rop.UUID
	parent       *Transaction
	parentSet    bool
	autoCommit   bool
	autoRollback bool
	maxTime      time.Duration
	metadata     map[string]any
}

// TxOption customizes one transaction at Begin time.
type TxOption func(*txOptions)

// WithID fixes the transaction's ID instead of generating one.
func WithID(id rop.UUID) TxOption {
	return func(o *txOptions) {
		o.id = id
	}
}

// WithParent nests the transaction under p regardless of the context's current
// transaction. WithParent(nil) forces a root transaction.
func WithParent(p *Transaction) TxOption {
	return func(o *txOptions) {
		o.parent = p
		o.parentSet = true
	}
}

// WithAutoCommit controls whether End commits when the body returned no error.
// Defaults to true.
func WithAutoCommit(on bool) TxOption {
	return func(o *txOptions) {
		o.autoCommit = on
	}
}

// WithAutoRollback controls whether End rolls back when the body returned an error.
// Defaults to true.
func WithAutoRollback(on bool) TxOption {
	return func(o *txOptions) {
		o.autoRollback = on
	}
}

// WithMaxTime overrides the manager's compensation time cap for this transaction. Same
// normalization as NewManager, 0 means the manager default.
func WithMaxTime(d time.Duration) TxOption {
	return func(o *txOptions) {
		o.maxTime = d
	}
}

// WithMetadata seeds the transaction's metadata. Entries overlay any snapshot
// inherited from the parent.
func WithMetadata(md map[string]any) TxOption {
	return func(o *txOptions) {
		o.metadata = md
	}
}

// Begin starts a transaction and returns it together with a context that carries it as
// the call chain's current transaction. If the context already carries an active
// transaction the new one nests under it, unless WithParent overrides that. A nested
// transaction starts with a snapshot of its parent's metadata.
func (m *Manager) Begin(ctx context.Context, opts ...TxOption) (*Transaction, context.Context, error) {
	o := txOptions{
		autoCommit:   true,
		autoRollback: true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	parent := o.parent
	if !o.parentSet {
		parent = FromContext(ctx)
	}
	if parent != nil && parent.State() != StateActive {
		return nil, ctx, &StateError{Op: "begin nested transaction under parent", State: parent.State()}
	}

	id := o.id
	if id.IsNil() {
		id = rop.NewUUID()
	}
	maxTime := o.maxTime
	if maxTime <= 0 {
		maxTime = m.rollbackMaxTime
	}
	if maxTime > time.Duration(1*time.Hour) {
		maxTime = time.Duration(1 * time.Hour)
	}

	var metadata map[string]any
	if parent != nil {
		metadata = parent.metadataSnapshot()
	} else {
		metadata = map[string]any{}
	}
	for k, v := range o.metadata {
		metadata[k] = v
	}

	t := newTransaction(id, parent, m.client, maxTime, metadata)
	t.autoCommit = o.autoCommit
	t.autoRollback = o.autoRollback
	if err := m.registry.Register(t); err != nil {
		return nil, ctx, err
	}
	log.Debug(fmt.Sprintf("transaction %s began, parent=%v", t.id, parent != nil))
	return t, ContextWithTransaction(ctx, t), nil
}

// End finishes a transaction begun with Begin and removes it from the registry.
// bodyErr is the outcome of the work done inside the transaction:
//   - bodyErr nil and auto-commit on, the transaction is committed; if the commit
//     fails it is rolled back and both errors are reported.
//   - bodyErr nil and auto-commit off, an uncommitted transaction is rolled back,
//     ending without an explicit Commit discards the work.
//   - bodyErr non-nil and auto-rollback on, the transaction is rolled back and bodyErr
//     is returned, with any rollback error attached.
//   - bodyErr non-nil and auto-rollback off, the transaction stays active and
//     registered so the caller can recover it, e.g. via a savepoint; call End again
//     when done.
//
// A transaction already committed or rolled back by hand is just unregistered.
func (m *Manager) End(ctx context.Context, t *Transaction, bodyErr error) error {
	if t == nil {
		return bodyErr
	}
	if t.State() != StateActive {
		m.registry.Unregister(t)
		return bodyErr
	}

	if bodyErr == nil {
		if !t.autoCommit {
			err := t.Rollback(ctx)
			m.registry.Unregister(t)
			return err
		}
		if cerr := t.Commit(ctx); cerr != nil {
			if rerr := t.Rollback(ctx); rerr != nil {
				m.registry.Unregister(t)
				return fmt.Errorf("%w, rollback error: %v", cerr, rerr)
			}
			m.registry.Unregister(t)
			return cerr
		}
		m.registry.Unregister(t)
		return nil
	}

	if !t.autoRollback {
		return bodyErr
	}
	if rerr := t.Rollback(ctx); rerr != nil {
		m.registry.Unregister(t)
		return fmt.Errorf("%w, rollback error: %v", bodyErr, rerr)
	}
	m.registry.Unregister(t)
	return bodyErr
}

// Atomic runs fn inside its own transaction. fn receives a context carrying the
// transaction and the manager's tracked client, so every mutation it performs is
// recorded. The transaction is committed if fn returns nil and rolled back if it
// returns an error or panics; a panic is re-raised after the rollback.
func (m *Manager) Atomic(ctx context.Context, fn func(ctx context.Context, client rop.Client) error, opts ...TxOption) error {
	t, tctx, err := m.Begin(ctx, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			if rerr := t.Rollback(tctx); rerr != nil {
				log.Error(fmt.Sprintf("rollback after panic in transaction %s failed: %v", t.id, rerr))
			}
			m.registry.Unregister(t)
			panic(r)
		}
	}()
	return m.End(tctx, t, fn(tctx, m.tracked))
}

// Transactional wraps fn so each call runs in its own transaction via Atomic.
func (m *Manager) Transactional(fn func(ctx context.Context, client rop.Client) error, opts ...TxOption) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return m.Atomic(ctx, fn, opts...)
	}
}

// SavepointScope is the handle WithSavepoint passes to its body. Through it the body
// can undo its own work midway and keep going, or release the checkpoint early so the
// work is kept no matter how the scope exits.
type SavepointScope struct {
	t    *Transaction
	sp   *Savepoint
	done bool
}

// Name returns the scope's savepoint name.
func (s *SavepointScope) Name() string {
	return s.sp.name
}

// Rollback undoes the work recorded since the scope began, then checkpoints again at
// the same position so the body can continue; a later failure only undoes the newer
// work. A rollback releases the underlying savepoint, re-creating it under the same
// name is what keeps the scope armed.
func (s *SavepointScope) Rollback(ctx context.Context) error {
	if s.done {
		return &SavepointError{Name: s.sp.name, Reason: "scope is finished"}
	}
	if err := s.t.RollbackToSavepoint(ctx, s.sp); err != nil {
		return err
	}
	sp, err := s.t.CreateSavepoint(s.sp.name)
	if err != nil {
		s.done = true
		return err
	}
	s.sp = sp
	return nil
}

// Release drops the checkpoint without undoing anything; the scope's work stays even
// if the body returns an error afterwards.
func (s *SavepointScope) Release() error {
	if s.done {
		return &SavepointError{Name: s.sp.name, Reason: "scope is finished"}
	}
	s.done = true
	return s.t.ReleaseSavepoint(s.sp)
}

// WithSavepoint runs fn under a savepoint on the context's current transaction. If fn
// returns an error or panics, work done inside it is rolled back to the savepoint and
// the transaction stays usable; on success the savepoint is released. The scope handle
// lets fn roll back midway and keep going, or release early and keep its work. Returns
// ErrNoTransaction when the context carries no transaction.
func (m *Manager) WithSavepoint(ctx context.Context, name string, fn func(ctx context.Context, scope *SavepointScope) error) error {
	t := FromContext(ctx)
	if t == nil {
		return ErrNoTransaction
	}
	sp, err := t.CreateSavepoint(name)
	if err != nil {
		return err
	}
	scope := &SavepointScope{t: t, sp: sp}
	defer func() {
		if r := recover(); r != nil {
			if !scope.done {
				if rerr := t.RollbackToSavepoint(ctx, scope.sp); rerr != nil {
					log.Error(fmt.Sprintf("savepoint %q rollback after panic failed: %v", name, rerr))
				}
			}
			panic(r)
		}
	}()
	if ferr := fn(ctx, scope); ferr != nil {
		if scope.done {
			return ferr
		}
		if rerr := t.RollbackToSavepoint(ctx, scope.sp); rerr != nil {
			return fmt.Errorf("%w, savepoint rollback error: %v", ferr, rerr)
		}
		return ferr
	}
	if scope.done {
		return nil
	}
	scope.done = true
	return t.ReleaseSavepoint(scope.sp)
}

// Current returns the context's current transaction, or nil.
func (m *Manager) Current(ctx context.Context) *Transaction {
	return FromContext(ctx)
}

// RollbackAll rolls back every active transaction in the registry, e.g. at shutdown.
// Keeps going on failures and returns the last one.
func (m *Manager) RollbackAll(ctx context.Context) error {
	var lastErr error
	for _, t := range m.registry.Active() {
		err := t.Rollback(ctx)
		var se *StateError
		if err != nil && !errors.As(err, &se) {
			lastErr = err
			log.Error(fmt.Sprintf("rollback of transaction %s failed: %v", t.id, err))
		}
		m.registry.Unregister(t)
	}
	return lastErr
}

// Stats is a point-in-time census of the manager's transactions.
type Stats struct {
	Active     int   `json:"active"`
	Committed  int64 `json:"committed"`
	RolledBack int64 `json:"rolled_back"`
}

func (m *Manager) Stats() Stats {
	committed, rolledBack := m.registry.Counts()
	return Stats{
		Active:     m.registry.ActiveCount(),
		Committed:  committed,
		RolledBack: rolledBack,
	}
}
