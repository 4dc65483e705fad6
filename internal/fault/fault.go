// ABOUTME: Caller-facing error taxonomy shared by the coordinator and transport
// ABOUTME: Classifies failures so the HTTP layer can map them to status codes

package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers. The transport layer maps kinds to
// HTTP status codes; the coordinator never exposes raw store errors.
type Kind int

const (
	// KindInternal is the default for unclassified failures (store I/O etc).
	KindInternal Kind = iota
	// KindNotFound means the referenced conversation/message/participant is absent.
	KindNotFound
	// KindInvalidArgument means the input was malformed (empty content, bad status).
	KindInvalidArgument
	// KindConflict means a uniqueness or state-transition race was lost.
	KindConflict
	// KindPermissionDenied means the caller may not act on this conversation.
	KindPermissionDenied
)

// String returns the snake_case name used in logs and API error payloads.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindConflict:
		return "conflict"
	case KindPermissionDenied:
		return "permission_denied"
	default:
		return "internal"
	}
}

// Error is a classified error with a human-readable message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error from a format string.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error while preserving it for errors.Is/As.
func Wrap(kind Kind, err error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// NotFound creates a KindNotFound error.
func NotFound(format string, args ...any) error {
	return New(KindNotFound, format, args...)
}

// InvalidArgument creates a KindInvalidArgument error.
func InvalidArgument(format string, args ...any) error {
	return New(KindInvalidArgument, format, args...)
}

// Conflict creates a KindConflict error.
func Conflict(format string, args ...any) error {
	return New(KindConflict, format, args...)
}

// PermissionDenied creates a KindPermissionDenied error.
func PermissionDenied(format string, args ...any) error {
	return New(KindPermissionDenied, format, args...)
}

// Internal wraps an unexpected failure.
func Internal(err error, format string, args ...any) error {
	return Wrap(KindInternal, err, format, args...)
}

// KindOf extracts the Kind from an error chain. Unclassified errors
// (including nil-safe misuse) report KindInternal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// Message returns the human-readable message without the kind prefix or the
// wrapped cause, suitable for API responses.
func Message(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Msg
	}
	return "internal error"
}
