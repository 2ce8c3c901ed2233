// Package orgerr defines the error taxonomy shared by the hierarchy, history and
// assignment packages.
package orgerr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// Kind classifies an error for callers deciding how to react to it.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindDepthExceeded       Kind = "depth_exceeded"
	KindCycleDetected       Kind = "cycle_detected"
	KindInvalidInterval     Kind = "invalid_interval"
	KindInvalidArgument     Kind = "invalid_argument"
	KindInternalConsistency Kind = "internal_consistency"
)

// Error is a typed failure raised synchronously by the core. Two errors are
// considered equal by errors.Is when their codes match.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	MemberIDs []snowflake.ID
	Err       error
}

// New declares a sentinel error.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if len(e.MemberIDs) > 0 {
		ids := make([]string, 0, len(e.MemberIDs))
		for _, id := range e.MemberIDs {
			ids = append(ids, id.String())
		}
		msg = fmt.Sprintf("%s [%s]", msg, strings.Join(ids, ","))
	}
	if e.Err == nil {
		return msg
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on code so wrapped copies of a sentinel still satisfy errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// WithMembers returns a copy carrying the offending member ids.
func (e *Error) WithMembers(ids []snowflake.ID) *Error {
	cp := *e
	cp.MemberIDs = append([]snowflake.ID(nil), ids...)
	return &cp
}

// Wrap returns a copy carrying the underlying cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

// Withf returns a copy with a formatted message.
func (e *Error) Withf(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// KindOf reports the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// MembersOf returns the offending member ids attached to err.
func MembersOf(err error) []snowflake.ID {
	var e *Error
	if errors.As(err, &e) {
		return e.MemberIDs
	}
	return nil
}

// HTTPStatus maps a kind to the status an outer HTTP layer conventionally uses.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindDepthExceeded, KindCycleDetected, KindInvalidInterval:
		return http.StatusUnprocessableEntity
	case KindInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var (
	ErrInvalidOrganization = New(KindInvalidArgument, "invalid_organization", "organization scope is required")
	ErrAffectedRows        = New(KindInternalConsistency, "affected_rows_mismatch", "affected row count does not match expectation")
)
