package transaction

import (
	"context"
	"errors"
	"testing"

	"github.com/sharedcode/rop"
)

func Test_Savepoint_RollbackTo(t *testing.T) {
	m, mc := newTestManager()
	trans, tctx, _ := m.Begin(ctx)
	client := m.Client()

	keepID, _ := client.Create(tctx, "widget", rop.Record{"name": "keep"})
	sp, err := trans.CreateSavepoint("before-batch")
	if err != nil {
		t.Fatalf("CreateSavepoint error: %v", err)
	}
	client.Create(tctx, "widget", rop.Record{"name": "extra1"})
	client.Create(tctx, "widget", rop.Record{"name": "extra2"})

	if err := trans.RollbackToSavepoint(tctx, sp); err != nil {
		t.Fatalf("RollbackToSavepoint error: %v", err)
	}
	if trans.State() != StateActive {
		t.Fatalf("transaction must stay active, state: %v", trans.State())
	}
	if mc.Count("widget") != 1 || mc.Record("widget", keepID) == nil {
		t.Fatalf("operations before the savepoint were disturbed, count=%d", mc.Count("widget"))
	}
	if got := len(trans.Operations()); got != 1 {
		t.Fatalf("log not truncated, %d operation(s)", got)
	}

	// The transaction continues normally after the partial rollback.
	lateID, err := client.Create(tctx, "widget", rop.Record{"name": "late"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := m.End(tctx, trans, nil); err != nil {
		t.Fatalf("End error: %v", err)
	}
	if mc.Count("widget") != 2 || mc.Record("widget", lateID) == nil {
		t.Fatalf("final state mismatch, count=%d", mc.Count("widget"))
	}
}

func Test_Savepoint_ReleaseKeepsOperations(t *testing.T) {
	m, mc := newTestManager()
	trans, tctx, _ := m.Begin(ctx)
	client := m.Client()

	client.Create(tctx, "widget", rop.Record{"name": "a"})
	sp, _ := trans.CreateSavepoint("mid")
	client.Create(tctx, "widget", rop.Record{"name": "b"})

	if err := trans.ReleaseSavepoint(sp); err != nil {
		t.Fatalf("ReleaseSavepoint error: %v", err)
	}
	if got := len(trans.Operations()); got != 2 {
		t.Fatalf("release must not touch the log, %d operation(s)", got)
	}

	var spe *SavepointError
	if err := trans.ReleaseSavepoint(sp); !errors.As(err, &spe) {
		t.Fatalf("expected SavepointError on double release, got: %v", err)
	}
	if err := trans.RollbackToSavepoint(tctx, sp); !errors.As(err, &spe) {
		t.Fatalf("expected SavepointError on rollback to released savepoint, got: %v", err)
	}

	// A full rollback undoes operations straddling the released savepoint.
	if err := trans.Rollback(tctx); err != nil {
		t.Fatalf("Rollback error: %v", err)
	}
	if mc.Count("widget") != 0 {
		t.Fatalf("expected empty model, count=%d", mc.Count("widget"))
	}
}

func Test_Savepoint_Names(t *testing.T) {
	m, _ := newTestManager()
	trans, tctx, _ := m.Begin(ctx)

	if _, err := trans.CreateSavepoint(""); err == nil {
		t.Fatalf("expected error on empty name")
	}
	sp, err := trans.CreateSavepoint("phase")
	if err != nil {
		t.Fatalf("CreateSavepoint error: %v", err)
	}
	var spe *SavepointError
	if _, err := trans.CreateSavepoint("phase"); !errors.As(err, &spe) {
		t.Fatalf("expected SavepointError on duplicate name, got: %v", err)
	}
	if err := trans.ReleaseSavepoint(sp); err != nil {
		t.Fatalf("ReleaseSavepoint error: %v", err)
	}
	// Released names are reusable.
	if _, err := trans.CreateSavepoint("phase"); err != nil {
		t.Fatalf("expected released name to be reusable, got: %v", err)
	}
	_ = trans.Rollback(tctx)
}

func Test_Savepoint_RollbackReleasesThroughCursor(t *testing.T) {
	m, mc := newTestManager()
	trans, tctx, _ := m.Begin(ctx)
	client := m.Client()

	earlier, _ := trans.CreateSavepoint("earlier")
	// Same cursor as "earlier": no operations in between.
	target, _ := trans.CreateSavepoint("target")
	client.Create(tctx, "widget", rop.Record{"name": "a"})
	later, _ := trans.CreateSavepoint("later")
	client.Create(tctx, "widget", rop.Record{"name": "b"})

	if err := trans.RollbackToSavepoint(tctx, target); err != nil {
		t.Fatalf("RollbackToSavepoint error: %v", err)
	}
	if mc.Count("widget") != 0 {
		t.Fatalf("expected the creates undone, count=%d", mc.Count("widget"))
	}
	// The rollback passes through the target and invalidates every checkpoint at or
	// past its cursor, the earlier one sharing its cursor included.
	if !target.Released() {
		t.Fatalf("target savepoint must be released once a rollback passes through it")
	}
	if !later.Released() || !earlier.Released() {
		t.Fatalf("release mismatch: later=%v earlier=%v", later.Released(), earlier.Released())
	}
	if got := len(trans.Savepoints()); got != 0 {
		t.Fatalf("savepoint list mismatch: %d live", got)
	}

	var spe *SavepointError
	if err := trans.RollbackToSavepoint(tctx, target); !errors.As(err, &spe) {
		t.Fatalf("expected SavepointError on rollback to a released savepoint, got: %v", err)
	}
	// The name is reusable; a fresh savepoint checkpoints again.
	if _, err := trans.CreateSavepoint("target"); err != nil {
		t.Fatalf("CreateSavepoint error: %v", err)
	}
	_ = trans.Rollback(tctx)
}

func Test_Savepoint_ForeignAndNil(t *testing.T) {
	m, _ := newTestManager()
	trans1, tctx1, _ := m.Begin(ctx)
	trans2, _, _ := m.Begin(ctx, WithParent(nil))

	sp, _ := trans2.CreateSavepoint("other")
	var spe *SavepointError
	if err := trans1.RollbackToSavepoint(tctx1, sp); !errors.As(err, &spe) {
		t.Fatalf("expected SavepointError for foreign savepoint, got: %v", err)
	}
	if err := trans1.RollbackToSavepoint(tctx1, nil); !errors.As(err, &spe) {
		t.Fatalf("expected SavepointError for nil savepoint, got: %v", err)
	}
	_ = trans1.Rollback(tctx1)
	_ = trans2.Rollback(ctx)
}

func Test_Savepoint_OnTerminal(t *testing.T) {
	m, _ := newTestManager()
	trans, tctx, _ := m.Begin(ctx)
	sp, _ := trans.CreateSavepoint("pre")
	if err := trans.Commit(tctx); err != nil {
		t.Fatalf("Commit error: %v", err)
	}
	var se *StateError
	if _, err := trans.CreateSavepoint("post"); !errors.As(err, &se) {
		t.Fatalf("expected StateError, got: %v", err)
	}
	if err := trans.RollbackToSavepoint(tctx, sp); !errors.As(err, &se) {
		t.Fatalf("expected StateError, got: %v", err)
	}
	if !sp.Released() {
		t.Fatalf("commit must release savepoints")
	}
}

func Test_WithSavepoint_Manager(t *testing.T) {
	m, mc := newTestManager()

	err := m.Atomic(ctx, func(tctx context.Context, client rop.Client) error {
		if _, err := client.Create(tctx, "order", rop.Record{"name": "base"}); err != nil {
			return err
		}
		sperr := m.WithSavepoint(tctx, "risky", func(tctx context.Context, _ *SavepointScope) error {
			client.Create(tctx, "order", rop.Record{"name": "doomed"})
			return errInduced
		})
		if !errors.Is(sperr, errInduced) {
			t.Fatalf("WithSavepoint must return the body error, got: %v", sperr)
		}
		_, err := client.Create(tctx, "order", rop.Record{"name": "after"})
		return err
	})
	if err != nil {
		t.Fatalf("Atomic error: %v", err)
	}
	if mc.Count("order") != 2 {
		t.Fatalf("expected the savepoint scope undone, count=%d", mc.Count("order"))
	}

	// Success path releases the savepoint and keeps the work.
	err = m.Atomic(ctx, func(tctx context.Context, client rop.Client) error {
		return m.WithSavepoint(tctx, "safe", func(tctx context.Context, _ *SavepointScope) error {
			_, err := client.Create(tctx, "order", rop.Record{"name": "kept"})
			return err
		})
	})
	if err != nil {
		t.Fatalf("Atomic error: %v", err)
	}
	if mc.Count("order") != 3 {
		t.Fatalf("expected savepoint work kept, count=%d", mc.Count("order"))
	}

	if err := m.WithSavepoint(ctx, "orphan", func(context.Context, *SavepointScope) error { return nil }); !errors.Is(err, ErrNoTransaction) {
		t.Fatalf("expected ErrNoTransaction, got: %v", err)
	}
}

func Test_WithSavepoint_ScopeRollbackAndContinue(t *testing.T) {
	m, mc := newTestManager()

	err := m.Atomic(ctx, func(tctx context.Context, client rop.Client) error {
		if _, err := client.Create(tctx, "order", rop.Record{"name": "base"}); err != nil {
			return err
		}
		return m.WithSavepoint(tctx, "attempt", func(tctx context.Context, scope *SavepointScope) error {
			client.Create(tctx, "order", rop.Record{"name": "first try"})
			if err := scope.Rollback(tctx); err != nil {
				return err
			}
			if mc.Count("order") != 1 {
				t.Fatalf("first try not undone, count=%d", mc.Count("order"))
			}
			// The scope keeps protecting work done after the mid-scope rollback.
			_, err := client.Create(tctx, "order", rop.Record{"name": "second try"})
			return err
		})
	})
	if err != nil {
		t.Fatalf("Atomic error: %v", err)
	}
	if mc.Count("order") != 2 {
		t.Fatalf("expected base and second try kept, count=%d", mc.Count("order"))
	}
}

func Test_WithSavepoint_ScopeReleaseKeepsWork(t *testing.T) {
	m, mc := newTestManager()

	err := m.Atomic(ctx, func(tctx context.Context, client rop.Client) error {
		sperr := m.WithSavepoint(tctx, "keep", func(tctx context.Context, scope *SavepointScope) error {
			if _, err := client.Create(tctx, "order", rop.Record{"name": "kept"}); err != nil {
				return err
			}
			if err := scope.Release(); err != nil {
				return err
			}
			// The release already sealed the scope's work; later scope calls fail.
			var spe *SavepointError
			if err := scope.Rollback(tctx); !errors.As(err, &spe) {
				t.Fatalf("expected SavepointError on a finished scope, got: %v", err)
			}
			return errInduced
		})
		if !errors.Is(sperr, errInduced) {
			t.Fatalf("WithSavepoint must return the body error, got: %v", sperr)
		}
		if mc.Count("order") != 1 {
			t.Fatalf("released scope's work must survive the body error, count=%d", mc.Count("order"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Atomic error: %v", err)
	}
	if mc.Count("order") != 1 {
		t.Fatalf("expected the record kept after commit, count=%d", mc.Count("order"))
	}
}
