package jsonrpc

import (
	"fmt"
	"strings"

	"github.com/sharedcode/rop"
)

// rpcFault is the error member of a JSON-RPC response envelope.
type rpcFault struct {
	Code    int       `json:"code"`
	Message string    `json:"message"`
	Data    faultData `json:"data"`
}

// faultData carries the server-side exception details.
type faultData struct {
	Name      string `json:"name"`
	Debug     string `json:"debug"`
	Message   string `json:"message"`
	Arguments []any  `json:"arguments"`
}

func (f *rpcFault) text() string {
	if f.Data.Message != "" {
		return f.Data.Message
	}
	return f.Message
}

// mapFault converts a server fault into a coded rop.Error so callers can classify
// without string matching. UserData carries the server's exception class name.
func mapFault(f *rpcFault) error {
	code := classifyFault(f)
	return rop.Error{
		Code:     code,
		Err:      fmt.Errorf("server fault %s: %s", f.Data.Name, f.text()),
		UserData: f.Data.Name,
	}
}

// classifyFault keys off the exception class name first and falls back to well-known
// database failure phrases. Unrecognized faults are transport failures, the safe
// retryable default.
func classifyFault(f *rpcFault) rop.ErrorCode {
	name := f.Data.Name
	switch {
	case strings.HasSuffix(name, ".ValidationError"), strings.HasSuffix(name, ".UserError"),
		strings.HasSuffix(name, ".MissingError"):
		return rop.ValidationFailure
	case strings.HasSuffix(name, ".AccessError"), strings.HasSuffix(name, ".AccessDenied"):
		return rop.AccessDenied
	case strings.HasSuffix(name, ".SessionExpired"), strings.Contains(name, "SessionExpired"):
		return rop.SessionExpired
	}

	text := strings.ToLower(f.text() + " " + f.Data.Debug)
	switch {
	case strings.Contains(text, "could not serialize"),
		strings.Contains(text, "serialization failure"),
		strings.Contains(text, "deadlock detected"),
		strings.Contains(text, "concurrency failure"):
		// The server aborted the statement under concurrent load; retrying the whole
		// transaction is the documented remedy.
		return rop.DeadlockDetected
	case strings.Contains(text, "access denied"), strings.Contains(text, "access rights"):
		return rop.AccessDenied
	}
	return rop.TransportFailure
}
