package errors

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess       Code = 0
	CodeInternal      Code = 1
	CodeUsage         Code = 2
	CodeAuth          Code = 10
	CodeRateLimited   Code = 11
	CodeUnavailable   Code = 12
	CodeUnsupported   Code = 13
	CodeStale         Code = 14
	CodePartialStrict Code = 15
	CodeBlocked       Code = 16
	// CodeConfig marks a registry gap (missing address or ABI) rather than bad user input.
	CodeConfig       Code = 17
	CodeInsufficient Code = 18
	CodeSimulation   Code = 19
)

// Error is a typed error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
	// Details holds caller-facing context (protocol, chain, account). It never alters Message.
	Details map[string]string
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// WithDetails returns err annotated with key/value context. Typed errors keep
// their code and message; untyped errors become CodeInternal.
func WithDetails(err error, kv ...string) error {
	if err == nil {
		return nil
	}
	base, ok := As(err)
	if !ok {
		base = &Error{Code: CodeInternal, Message: err.Error()}
	}
	out := *base
	out.Details = make(map[string]string, len(base.Details)+len(kv)/2)
	for k, v := range base.Details {
		out.Details[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] == "" {
			continue
		}
		out.Details[kv[i]] = kv[i+1]
	}
	return &out
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}
