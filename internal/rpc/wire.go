package rpc

import (
	"encoding/json"
	"fmt"
)

// Errno-style codes carried in error responses.
const (
	CodeAccess    = "EACCES"
	CodeInvalid   = "EINVAL"
	CodeNoMethod  = "ENOMETHOD"
	CodeFault     = "EFAULT"
	CodeRateLimit = "EAGAIN"
)

// Error is an RPC error as sent on the wire.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Request is one call. Params are positional.
type Request struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params,omitempty"`
}

// Response answers the request with the same ID.
type Response struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// EventMessage is pushed to connections with a matching subscription.
type EventMessage struct {
	Msg        string `json:"msg"`
	Collection string `json:"collection"`
	Kind       string `json:"kind"`
	Fields     any    `json:"fields"`
}

// decodeParams unmarshals positional params into dst. Missing trailing
// params leave their destination untouched; JSON null does the same.
func decodeParams(params []json.RawMessage, dst ...any) error {
	if len(params) > len(dst) {
		return errorf(CodeInvalid, "expected at most %d params, got %d", len(dst), len(params))
	}
	for i, raw := range params {
		if err := json.Unmarshal(raw, dst[i]); err != nil {
			return errorf(CodeInvalid, "param %d: %v", i, err)
		}
	}
	return nil
}

// requireParams is decodeParams for calls with n mandatory params.
func requireParams(params []json.RawMessage, n int, dst ...any) error {
	if len(params) < n {
		return errorf(CodeInvalid, "expected at least %d params, got %d", n, len(params))
	}
	return decodeParams(params, dst...)
}
