package studio

import (
	"errors"
	"fmt"
)

var (
	ErrValidation             = errors.New("validation error")
	ErrNotFound               = errors.New("not found")
	ErrDispatchRejected       = errors.New("dispatch rejected")
	ErrPredecessorNotReady    = errors.New("previous unit has not finished generating")
	ErrWebhookAuth            = errors.New("webhook authentication failed")
	ErrUnknownCorrelation     = errors.New("unknown correlation id")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrEmptySet               = errors.New("no approved units to compile")
	ErrCompilation            = errors.New("compilation failed")
)

// StateError is an operation refused because of the unit's current status.
type StateError struct {
	UnitID  string
	Status  UnitStatus
	Action  string
	Allowed []UnitStatus
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s unit %s in status %s (allowed: %v)", e.Action, e.UnitID, e.Status, e.Allowed)
}

func (e *StateError) Unwrap() error {
	return ErrInvalidStateTransition
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}
