package apperr

import (
	"errors"
	"fmt"
)

// Code classifies a failure so both surfaces (REST and websocket) can report it the same way.
type Code string

const (
	CodeUnauthenticated  Code = "unauthenticated"
	CodeNotAMember       Code = "not_a_member"
	CodeForbidden        Code = "forbidden"
	CodeInvalidInput     Code = "invalid_input"
	CodeNotFound         Code = "not_found"
	CodeStoreUnavailable Code = "store_unavailable"
	CodeRateLimited      Code = "rate_limited"
	CodeInternal         Code = "internal"
)

var (
	ErrUnauthenticated  = &Error{Code: CodeUnauthenticated, Msg: "authentication required"}
	ErrNotAMember       = &Error{Code: CodeNotAMember, Msg: "not a member of this conversation"}
	ErrForbidden        = &Error{Code: CodeForbidden, Msg: "forbidden"}
	ErrInvalidInput     = &Error{Code: CodeInvalidInput, Msg: "invalid input"}
	ErrNotFound         = &Error{Code: CodeNotFound, Msg: "not found"}
	ErrStoreUnavailable = &Error{Code: CodeStoreUnavailable, Msg: "store unavailable"}
	ErrRateLimited      = &Error{Code: CodeRateLimited, Msg: "rate limit exceeded"}
)

type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code, so a wrapped or re-messaged error still compares equal to its sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

func Wrap(code Code, msg string, err error) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

func Invalid(msg string) *Error   { return New(CodeInvalidInput, msg) }
func Forbidden(msg string) *Error { return New(CodeForbidden, msg) }
func NotFound(msg string) *Error  { return New(CodeNotFound, msg) }

func Unavailable(err error) *Error {
	return Wrap(CodeStoreUnavailable, "store unavailable", err)
}

// CodeOf returns the classification of err, or CodeInternal when err carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Message returns a caller-safe message for err. Internal failures are not echoed.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != CodeInternal {
		return e.Msg
	}
	return "internal error"
}
