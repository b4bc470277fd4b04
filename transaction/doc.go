// Package transaction implements ROP's client-side transaction/savepoint engine.
// It emulates atomic, rollback-capable operation groups on top of a server that commits
// each RPC call independently and immediately: every mutating call is recorded as a
// compensatable Operation in the transaction's log, and Rollback replays inverse calls
// in reverse chronological order (delete what was created, restore what was updated,
// re-create what was deleted). Savepoints are named cursors into the log allowing a
// suffix of the recorded work to be undone while keeping the rest.
//
// The engine's contract is best-effort compensation, not classical ACID. Rollback is
// continue-on-error: every remaining compensation is still attempted after one fails,
// the transaction always reaches a terminal state, and the aggregated RollbackError
// enumerates exactly which operations could not be reversed.
//
// The Manager facade owns scoped acquisition (Atomic), per-call-chain current-transaction
// tracking via context.Context values, auto commit/rollback policy and the registry of
// live transactions. TrackedClient is the interceptor that turns plain rop.Client calls
// into recorded operations, capturing original data before updates and deletes execute.
package transaction
