package economy

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindUnauthorized         Kind = "unauthorized"
	KindInsufficientResource Kind = "insufficient_resource"
	KindCapacityViolation    Kind = "capacity_violation"
	KindInvalidState         Kind = "invalid_state"
)

// Failure is a user-displayable refusal. The transaction that produced it was rolled back.
// Any error returned by Service that is not a *Failure is fatal for the caller.
type Failure struct {
	Kind   Kind
	Reason string
}

func (f *Failure) Error() string {
	if f.Reason == "" {
		return string(f.Kind)
	}
	return f.Reason
}

// Is matches the kind sentinels below, so errors.Is(err, ErrNotFound) holds for any
// not-found failure regardless of its reason.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	if !ok {
		return false
	}
	return t.Kind == f.Kind && (t.Reason == "" || t.Reason == f.Reason)
}

var (
	ErrNotFound             = &Failure{Kind: KindNotFound}
	ErrUnauthorized         = &Failure{Kind: KindUnauthorized}
	ErrInsufficientResource = &Failure{Kind: KindInsufficientResource}
	ErrCapacityViolation    = &Failure{Kind: KindCapacityViolation}
	ErrInvalidState         = &Failure{Kind: KindInvalidState}
)

func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

func failf(kind Kind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) *Failure {
	return failf(KindNotFound, format, args...)
}

func unauthorized(format string, args ...any) *Failure {
	return failf(KindUnauthorized, format, args...)
}

func insufficient(format string, args ...any) *Failure {
	return failf(KindInsufficientResource, format, args...)
}

func capacityViolation(format string, args ...any) *Failure {
	return failf(KindCapacityViolation, format, args...)
}

func invalidState(format string, args ...any) *Failure {
	return failf(KindInvalidState, format, args...)
}
