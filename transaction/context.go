package transaction

import "context"

// ContextKey is the type used for values this package stores in a context.Context.
type ContextKey string

// CurrentTransactionKey holds the call chain's current transaction. Manager.Begin
// returns a context with this set; the tracked client and the batch executor read it.
const CurrentTransactionKey ContextKey = "rop_current_transaction"

// ContextWithTransaction returns a context whose call chain runs inside t. Code that
// holds the returned context sees t via FromContext; sibling goroutines holding the
// original context do not.
func ContextWithTransaction(ctx context.Context, t *Transaction) context.Context {
	return context.WithValue(ctx, CurrentTransactionKey, t)
}

// FromContext returns the call chain's current transaction, or nil if there is none.
func FromContext(ctx context.Context) *Transaction {
	if ctx == nil {
		return nil
	}
	t, _ := ctx.Value(CurrentTransactionKey).(*Transaction)
	return t
}

// detachTransaction shadows any current transaction so downstream client calls are not
// recorded. Used while compensations run.
func detachTransaction(ctx context.Context) context.Context {
	return context.WithValue(ctx, CurrentTransactionKey, (*Transaction)(nil))
}
