package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sharedcode/rop"
)

var ctx = context.Background()

// fakeServer answers the JSON-RPC endpoint the way the business server does: numeric
// uid from authenticate, execute_kw dispatch, faults in the error member.
type fakeServer struct {
	mu        sync.Mutex
	authCalls int
	denyAuth  bool
	nextFault *rpcFault
	execLog   []execCall
}

type execCall struct {
	model  string
	method string
	args   []any
	kwargs map[string]any
}

func (f *fakeServer) injectFault(fault *rpcFault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextFault = fault
}

func (f *fakeServer) authCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authCalls
}

func (f *fakeServer) calls() []execCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]execCall, len(f.execLog))
	copy(out, f.execLog)
	return out
}

func (f *fakeServer) lastCall() execCall {
	calls := f.calls()
	if len(calls) == 0 {
		return execCall{}
	}
	return calls[len(calls)-1]
}

func (f *fakeServer) handler(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	reply := func(result any) {
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}
	replyFault := func(fault *rpcFault) {
		json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": fault})
	}

	switch req.Params.Service {
	case "common":
		switch req.Params.Method {
		case "authenticate":
			f.mu.Lock()
			f.authCalls++
			deny := f.denyAuth
			f.mu.Unlock()
			if deny {
				reply(false)
				return
			}
			reply(7)
		case "version":
			reply(map[string]any{"server_version": "17.0", "protocol_version": 1})
		default:
			replyFault(&rpcFault{Code: 404, Message: "unknown method"})
		}
	case "object":
		f.mu.Lock()
		fault := f.nextFault
		f.nextFault = nil
		f.mu.Unlock()
		if fault != nil {
			replyFault(fault)
			return
		}

		// args: db, uid, password, model, method, args [, kwargs]
		model, _ := req.Params.Args[3].(string)
		method, _ := req.Params.Args[4].(string)
		callArgs, _ := req.Params.Args[5].([]any)
		var kwargs map[string]any
		if len(req.Params.Args) > 6 {
			kwargs, _ = req.Params.Args[6].(map[string]any)
		}
		f.mu.Lock()
		f.execLog = append(f.execLog, execCall{model: model, method: method, args: callArgs, kwargs: kwargs})
		f.mu.Unlock()

		switch method {
		case "create":
			if list, ok := callArgs[0].([]any); ok {
				ids := make([]any, len(list))
				for i := range list {
					ids[i] = i + 1
				}
				reply(ids)
				return
			}
			reply(42)
		case "read", "search_read":
			reply([]map[string]any{{"id": 1, "name": "alpha"}, {"id": 2, "name": "beta"}})
		case "write", "unlink":
			reply(true)
		case "search":
			reply([]int64{1, 2, 3})
		default:
			reply(map[string]any{"invoked": method})
		}
	default:
		replyFault(&rpcFault{Code: 404, Message: "unknown service"})
	}
}

func newFakeServer(t *testing.T) (*fakeServer, *Client) {
	t.Helper()
	f := &fakeServer{}
	ts := httptest.NewServer(http.HandlerFunc(f.handler))
	t.Cleanup(ts.Close)
	client, err := NewClient(Options{
		URL:         ts.URL,
		Database:    "main",
		Username:    "svc",
		Password:    "secret",
		Timeout:     5 * time.Second,
		MaxSessions: 2,
	})
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return f, client
}

func Test_Login_LazyAndCached(t *testing.T) {
	f, client := newFakeServer(t)
	if _, err := client.Create(ctx, "res.partner", rop.Record{"name": "a"}); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := client.Create(ctx, "res.partner", rop.Record{"name": "b"}); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if got := f.authCount(); got != 1 {
		t.Fatalf("authenticate call count mismatch: %d", got)
	}
}

func Test_Login_BadCredentials(t *testing.T) {
	f, client := newFakeServer(t)
	f.denyAuth = true
	_, err := client.Create(ctx, "res.partner", rop.Record{"name": "a"})
	var e rop.Error
	if !errors.As(err, &e) || e.Code != rop.AccessDenied {
		t.Fatalf("expected AccessDenied, got: %v", err)
	}
}

func Test_WireShapes(t *testing.T) {
	f, client := newFakeServer(t)

	id, err := client.Create(ctx, "res.partner", rop.Record{"name": "a"})
	if err != nil || id != 42 {
		t.Fatalf("Create mismatch: id=%d err=%v", id, err)
	}
	if call := f.lastCall(); call.method != "create" || call.model != "res.partner" {
		t.Fatalf("create call mismatch: %+v", call)
	}

	ids, err := client.CreateBulk(ctx, "res.partner", []rop.Record{{"name": "a"}, {"name": "b"}})
	if err != nil || len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("CreateBulk mismatch: ids=%v err=%v", ids, err)
	}

	recs, err := client.Read(ctx, "res.partner", []int64{1, 2}, []string{"name"})
	if err != nil || len(recs) != 2 || recs[0]["name"] != "alpha" {
		t.Fatalf("Read mismatch: recs=%v err=%v", recs, err)
	}
	if call := f.lastCall(); call.kwargs["fields"] == nil {
		t.Fatalf("read kwargs missing fields: %+v", call.kwargs)
	}

	if err := client.Write(ctx, "res.partner", []int64{1}, rop.Record{"name": "z"}); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if call := f.lastCall(); call.method != "write" || len(call.args) != 2 {
		t.Fatalf("write call mismatch: %+v", call)
	}

	if err := client.Delete(ctx, "res.partner", []int64{1}); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if call := f.lastCall(); call.method != "unlink" {
		t.Fatalf("delete call mismatch: %+v", call)
	}

	found, err := client.Search(ctx, "res.partner", []any{[]any{"name", "like", "a"}}, rop.SearchOptions{Limit: 10, Order: "name asc"})
	if err != nil || len(found) != 3 {
		t.Fatalf("Search mismatch: ids=%v err=%v", found, err)
	}
	if call := f.lastCall(); call.kwargs["limit"] == nil || call.kwargs["order"] == nil || call.kwargs["offset"] != nil {
		t.Fatalf("search kwargs mismatch: %+v", call.kwargs)
	}

	res, err := client.Execute(ctx, "sale.order", "action_confirm", []int64{5}, nil)
	if err != nil {
		t.Fatalf("Execute error: %v", err)
	}
	if m, ok := res.(map[string]any); !ok || m["invoked"] != "action_confirm" {
		t.Fatalf("Execute result mismatch: %v", res)
	}
}

func Test_FaultMapping_Integration(t *testing.T) {
	f, client := newFakeServer(t)
	f.injectFault(&rpcFault{
		Code:    200,
		Message: "Odoo Server Error",
		Data:    faultData{Name: "odoo.exceptions.ValidationError", Message: "name is required"},
	})
	_, err := client.Create(ctx, "res.partner", rop.Record{})
	var e rop.Error
	if !errors.As(err, &e) || e.Code != rop.ValidationFailure {
		t.Fatalf("expected ValidationFailure, got: %v", err)
	}
	if e.UserData != "odoo.exceptions.ValidationError" {
		t.Fatalf("user data mismatch: %v", e.UserData)
	}
}

func Test_ClassifyFault(t *testing.T) {
	cases := []struct {
		fault rpcFault
		want  rop.ErrorCode
	}{
		{rpcFault{Data: faultData{Name: "odoo.exceptions.ValidationError"}}, rop.ValidationFailure},
		{rpcFault{Data: faultData{Name: "odoo.exceptions.UserError"}}, rop.ValidationFailure},
		{rpcFault{Data: faultData{Name: "odoo.exceptions.AccessError"}}, rop.AccessDenied},
		{rpcFault{Data: faultData{Name: "odoo.http.SessionExpired"}}, rop.SessionExpired},
		{rpcFault{Data: faultData{Name: "builtins.TypeError", Message: "deadlock detected"}}, rop.DeadlockDetected},
		{rpcFault{Message: "could not serialize access due to concurrent update"}, rop.DeadlockDetected},
		{rpcFault{Data: faultData{Debug: "psycopg2 serialization failure while locking"}}, rop.DeadlockDetected},
		{rpcFault{Message: "boom"}, rop.TransportFailure},
	}
	for i, tc := range cases {
		if got := classifyFault(&tc.fault); got != tc.want {
			t.Fatalf("case %d: got %v, want %v", i, got, tc.want)
		}
	}
}

func Test_SessionExpired_ReauthenticatesOnce(t *testing.T) {
	f, client := newFakeServer(t)
	// Prime the cached uid.
	if _, err := client.Create(ctx, "res.partner", rop.Record{"name": "a"}); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	f.injectFault(&rpcFault{Code: 100, Message: "Session expired", Data: faultData{Name: "odoo.http.SessionExpired"}})

	id, err := client.Create(ctx, "res.partner", rop.Record{"name": "b"})
	if err != nil || id != 42 {
		t.Fatalf("retry after re-auth failed: id=%d err=%v", id, err)
	}
	if got := f.authCount(); got != 2 {
		t.Fatalf("expected a second authenticate, got %d", got)
	}
}

func Test_TransientFault_RetriesRead(t *testing.T) {
	f, client := newFakeServer(t)
	f.injectFault(&rpcFault{Message: "could not serialize access due to concurrent update"})

	recs, err := client.Read(ctx, "res.partner", []int64{1}, nil)
	if err != nil || len(recs) != 2 {
		t.Fatalf("expected the read retried past the transient fault: recs=%v err=%v", recs, err)
	}
}

func Test_ValidationFault_NotRetried(t *testing.T) {
	f, client := newFakeServer(t)
	// Prime auth so the fault hits the read itself.
	if err := client.Write(ctx, "res.partner", []int64{1}, rop.Record{"name": "z"}); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	before := len(f.calls())
	f.injectFault(&rpcFault{Data: faultData{Name: "odoo.exceptions.AccessError"}})
	if _, err := client.Read(ctx, "res.partner", []int64{1}, nil); err == nil {
		t.Fatalf("expected the access fault surfaced")
	}
	// Permanent faults go out once, no retry attempts.
	if got := len(f.calls()) - before; got != 0 {
		t.Fatalf("expected no retried read to reach the server, got %d calls", got)
	}
}

func Test_Ping(t *testing.T) {
	f, client := newFakeServer(t)
	if err := client.Ping(ctx); err != nil {
		t.Fatalf("Ping error: %v", err)
	}
	if got := f.authCount(); got != 0 {
		t.Fatalf("ping must not authenticate, auth calls: %d", got)
	}
}

func Test_Close_StopsCalls(t *testing.T) {
	_, client := newFakeServer(t)
	if err := client.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if _, err := client.Create(ctx, "res.partner", rop.Record{"name": "a"}); err == nil {
		t.Fatalf("expected an error after Close")
	}
}
