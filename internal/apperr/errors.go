// Package apperr defines the classified errors surfaced by the render pipeline.
// Every failure that reaches a job record or an API response carries one of
// the codes below together with a human-readable message.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Code is a stable error classification.
type Code string

const (
	CodeConfiguration     Code = "CONFIGURATION_ERROR"
	CodeMissingAsset      Code = "MISSING_ASSET"
	CodeInvalidDuration   Code = "INVALID_DURATION"
	CodeInsufficientInput Code = "INSUFFICIENT_INPUT"
	CodeEncodingFailed    Code = "ENCODING_FAILED"
	CodeRemoteRender      Code = "REMOTE_RENDER_ERROR"
	CodePollTimeout       Code = "POLL_TIMEOUT"
	CodeCancelled         Code = "CANCELLED"
	CodeUpstream          Code = "UPSTREAM_ERROR"
	CodeNotFound          Code = "NOT_FOUND"
	CodeInternal          Code = "INTERNAL_ERROR"
)

// Sentinels for errors.Is checks. Matching is by code only.
var (
	ErrConfiguration     = &Error{Code: CodeConfiguration}
	ErrMissingAsset      = &Error{Code: CodeMissingAsset}
	ErrInvalidDuration   = &Error{Code: CodeInvalidDuration}
	ErrInsufficientInput = &Error{Code: CodeInsufficientInput}
	ErrEncodingFailed    = &Error{Code: CodeEncodingFailed}
	ErrRemoteRender      = &Error{Code: CodeRemoteRender}
	ErrPollTimeout       = &Error{Code: CodePollTimeout}
	ErrCancelled         = &Error{Code: CodeCancelled}
	ErrUpstream          = &Error{Code: CodeUpstream}
	ErrNotFound          = &Error{Code: CodeNotFound}
)

// Error is a classified error with optional operation context.
type Error struct {
	// Code is the classification.
	Code Code
	// Op is the operation that failed (e.g. "assembly.validate").
	Op string
	// Message is the human-readable detail.
	Message string
	// Err is the underlying cause, if any.
	Err error
	// Fields carries structured context such as exit codes or beat indexes.
	Fields map[string]any
}

func (e *Error) Error() string {
	var b strings.Builder

	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}

	b.WriteString("[")
	b.WriteString(string(e.Code))
	b.WriteString("]")

	if e.Message != "" {
		b.WriteString(" ")
		b.WriteString(e.Message)
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithField attaches a context field and returns the same error.
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// Detail is the message without op or code, used for persisted job errors.
func (e *Error) Detail() string {
	if e.Err != nil && e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

// New creates an error with the given code.
func New(code Code, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under code. A nil err returns nil.
func Wrap(err error, code Code, op, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Message: message, Err: err}
}

// EncodingFailed reports a non-zero encoder exit.
func EncodingFailed(op string, exitCode int, stderrTail string) *Error {
	e := Newf(CodeEncodingFailed, op, "encoder exited with code %d", exitCode)
	e.WithField("exit_code", exitCode)
	e.WithField("stderr_tail", stderrTail)
	return e
}

// Cancelled reports a run aborted by its caller.
func Cancelled(op string, cause error) *Error {
	return &Error{Code: CodeCancelled, Op: op, Message: "run cancelled", Err: cause}
}

// FromContext converts a done context into a Cancelled error, or returns nil.
func FromContext(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return Cancelled(op, err)
	}
	return nil
}

// CodeOf returns the code of the first *Error in err's chain.
// Bare context cancellation maps to CodeCancelled; anything else is CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancelled
	}
	return CodeInternal
}

// IsCode reports whether err's chain carries code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// Message returns the human-readable detail of err without its code prefix.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Detail()
	}
	return err.Error()
}

// HTTPStatus maps a code onto a response status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeConfiguration, CodeMissingAsset, CodeInvalidDuration, CodeInsufficientInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodePollTimeout:
		return http.StatusGatewayTimeout
	case CodeRemoteRender, CodeUpstream:
		return http.StatusBadGateway
	case CodeCancelled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}
