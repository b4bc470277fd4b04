package transaction

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sharedcode/rop"
)

func Test_Tracked_PassthroughOutsideTransaction(t *testing.T) {
	m, mc := newTestManager()
	client := m.Client()

	id, err := client.Create(ctx, "widget", rop.Record{"name": "w"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := client.Write(ctx, "widget", []int64{id}, rop.Record{"name": "w2"}); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if err := client.Delete(ctx, "widget", []int64{id}); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	// No transaction, no original-data capture reads.
	if got := mc.CallCount("read"); got != 0 {
		t.Fatalf("unexpected capture reads: %d", got)
	}
}

func Test_Tracked_CaptureReadsOnlyInsideTransaction(t *testing.T) {
	m, mc := newTestManager()
	id := mc.Seed("widget", rop.Record{"name": "w"})

	trans, tctx, _ := m.Begin(ctx)
	if err := m.Client().Write(tctx, "widget", []int64{id}, rop.Record{"name": "w2"}); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if got := mc.CallCount("read"); got != 1 {
		t.Fatalf("capture read count mismatch: %d", got)
	}
	ops := trans.Operations()
	if len(ops) != 1 || ops[0].Type != OperationUpdate {
		t.Fatalf("operation mismatch: %+v", ops)
	}
	if ops[0].OriginalData[0]["name"] != "w" {
		t.Fatalf("original data mismatch: %v", ops[0].OriginalData[0])
	}
	_ = trans.Rollback(tctx)
}

func Test_Tracked_CaptureFailure_AbortsMutation(t *testing.T) {
	m, mc := newTestManager()
	id := mc.Seed("widget", rop.Record{"name": "orig"})

	trans, tctx, _ := m.Begin(ctx)
	client := m.Client()

	mc.FailOn("read", errInduced)
	err := client.Write(tctx, "widget", []int64{id}, rop.Record{"name": "changed"})
	mc.FailOn("read", nil)
	if !errors.Is(err, errInduced) {
		t.Fatalf("expected the capture error, got: %v", err)
	}
	if got := mc.Record("widget", id)["name"]; got != "orig" {
		t.Fatalf("mutation ran despite failed capture: %v", got)
	}
	if len(trans.Operations()) != 0 {
		t.Fatalf("operation recorded despite failed capture")
	}

	// A record that 'can't be read back 'can't be restored either: refuse the delete.
	if err := client.Delete(tctx, "widget", []int64{id, 999}); err == nil {
		t.Fatalf("expected missing-original error")
	}
	if mc.Record("widget", id) == nil {
		t.Fatalf("delete ran despite missing original")
	}
	_ = trans.Rollback(tctx)
}

func Test_Tracked_RecordsPerID(t *testing.T) {
	m, mc := newTestManager()
	id1 := mc.Seed("widget", rop.Record{"name": "a"})
	id2 := mc.Seed("widget", rop.Record{"name": "b"})

	trans, tctx, _ := m.Begin(ctx)
	client := m.Client()
	if err := client.Write(tctx, "widget", []int64{id1, id2}, rop.Record{"qty": 9}); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if err := client.Delete(tctx, "widget", []int64{id1, id2}); err != nil {
		t.Fatalf("Delete error: %v", err)
	}

	ops := trans.Operations()
	if len(ops) != 4 {
		t.Fatalf("expected one operation per record, got %d", len(ops))
	}
	for _, op := range ops {
		if len(op.RecordIDs) != 1 || len(op.OriginalData) != 1 {
			t.Fatalf("per-record operation mismatch: %+v", op)
		}
	}
	if ops[0].OriginalData[0]["name"] != "a" || ops[1].OriginalData[0]["name"] != "b" {
		t.Fatalf("per-record originals mismatch")
	}
	_ = trans.Rollback(tctx)
}

func Test_Tracked_CreateBulk(t *testing.T) {
	m, mc := newTestManager()
	trans, tctx, _ := m.Begin(ctx)
	client := m.Client()

	ids, err := client.CreateBulk(tctx, "widget", []rop.Record{
		{"name": "a"}, {"name": "b"}, {"name": "c"},
	})
	if err != nil {
		t.Fatalf("CreateBulk error: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("ids count mismatch: %d", len(ids))
	}
	ops := trans.Operations()
	if len(ops) != 1 || len(ops[0].CreatedIDs) != 3 {
		t.Fatalf("bulk create must record one operation: %+v", ops)
	}

	if err := trans.Rollback(tctx); err != nil {
		t.Fatalf("Rollback error: %v", err)
	}
	if mc.Count("widget") != 0 {
		t.Fatalf("bulk create not compensated, count=%d", mc.Count("widget"))
	}
	// Single batched delete, not one per record.
	var deletes int
	for _, call := range mc.Calls() {
		if call.Method == "delete" {
			deletes++
			if len(call.IDs) != 3 {
				t.Fatalf("expected a batched delete, got ids %v", call.IDs)
			}
		}
	}
	if deletes != 1 {
		t.Fatalf("delete call count mismatch: %d", deletes)
	}
}

type rejectEmptyName struct{}

func (rejectEmptyName) Validate(model string, rec rop.Record) error {
	if name, ok := rec["name"]; ok && name == "" {
		return rop.Error{Code: rop.ValidationFailure, Err: fmt.Errorf("%s: name 'can't be empty", model)}
	}
	return nil
}

func Test_Tracked_Validator(t *testing.T) {
	m, mc := newTestManager()
	m.SetValidator(rejectEmptyName{})
	trans, tctx, _ := m.Begin(ctx)
	client := m.Client()

	_, err := client.Create(tctx, "widget", rop.Record{"name": ""})
	var rerr rop.Error
	if !errors.As(err, &rerr) || rerr.Code != rop.ValidationFailure {
		t.Fatalf("expected a validation failure, got: %v", err)
	}
	if mc.Count("widget") != 0 {
		t.Fatalf("rejected payload reached the server")
	}
	if len(trans.Operations()) != 0 {
		t.Fatalf("rejected payload was recorded")
	}

	if _, err := client.Create(tctx, "widget", rop.Record{"name": "ok"}); err != nil {
		t.Fatalf("valid payload rejected: %v", err)
	}

	m.SetValidator(nil)
	if _, err := client.Create(tctx, "widget", rop.Record{"name": ""}); err != nil {
		t.Fatalf("validator removal did not take: %v", err)
	}
	_ = trans.Rollback(tctx)
}

func Test_Tracked_ExecuteRecordsCustom(t *testing.T) {
	m, _ := newTestManager()
	trans, tctx, _ := m.Begin(ctx)
	tracked := m.Client().(*TrackedClient)

	if _, err := tracked.Execute(tctx, "account.move", "action_post", []int64{11}, rop.Record{"force": true}); err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	ops := trans.Operations()
	if len(ops) != 1 || ops[0].Type != OperationCustom {
		t.Fatalf("custom operation not recorded: %+v", ops)
	}
	if ops[0].CallContext["method"] != "action_post" {
		t.Fatalf("call context mismatch: %v", ops[0].CallContext)
	}
	if ops[0].RecordIDs[0] != 11 {
		t.Fatalf("record IDs mismatch: %v", ops[0].RecordIDs)
	}

	// Outside a transaction nothing is recorded.
	if _, err := tracked.Execute(ctx, "account.move", "action_post", []int64{11}, nil); err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if got := len(trans.Operations()); got != 1 {
		t.Fatalf("operation count changed: %d", got)
	}
	_ = trans.Rollback(tctx)
}
