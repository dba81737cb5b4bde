package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/courier/internal/convid"
	"github.com/matheus3301/courier/internal/store"
)

// Kind classifies failures of public operations.
type Kind string

const (
	KindUnauthenticated Kind = "UNAUTHENTICATED"
	KindForbidden       Kind = "FORBIDDEN"
	KindValidation      Kind = "VALIDATION"
	KindNotFound        Kind = "NOT_FOUND"
	KindUnavailable     Kind = "UNAVAILABLE"
	KindConflict        Kind = "CONFLICT"
	KindInternal        Kind = "INTERNAL"
)

// Error is returned by every Service operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Op == "" && e.Err == nil:
		return "messaging: " + string(e.Kind)
	case e.Err == nil:
		return fmt.Sprintf("messaging: %s: %s", e.Op, e.Kind)
	default:
		return fmt.Sprintf("messaging: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error of the same kind, so
// errors.Is(err, &Error{Kind: KindNotFound}) works regardless of Op and cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Retryable reports whether the caller may retry the operation.
func (e *Error) Retryable() bool { return e != nil && e.Kind == KindUnavailable }

// KindOf returns the kind of err, KindInternal for foreign errors and ""
// for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return KindInternal
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// classify maps lower layer errors onto the public taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var me *Error
	if errors.As(err, &me) {
		return err
	}
	switch {
	case errors.Is(err, store.ErrEmptyContent),
		errors.Is(err, store.ErrContentTooLong),
		errors.Is(err, convid.ErrInvalidID),
		errors.Is(err, convid.ErrSelfConversation),
		errors.Is(err, convid.ErrMalformed):
		return newError(KindValidation, op, err)
	case errors.Is(err, store.ErrConversationNotFound):
		return newError(KindNotFound, op, err)
	case errors.Is(err, store.ErrNotParticipant):
		return newError(KindForbidden, op, err)
	case errors.Is(err, context.Canceled), store.IsTransient(err):
		return newError(KindUnavailable, op, err)
	}
	return newError(KindInternal, op, err)
}
