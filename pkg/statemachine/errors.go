package statemachine

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidMachine    = errors.New("invalid state machine definition")
	ErrNilEntity         = errors.New("entity cannot be nil")
	ErrStorageNil        = errors.New("storage cannot be nil")
	ErrRegistryNil       = errors.New("registry cannot be nil")
	ErrEngineNil         = errors.New("engine cannot be nil")
	ErrUnknownEntityType = errors.New("entity type is not registered")
	ErrUnknownField      = errors.New("no state machine registered for field")
	ErrNoLoader          = errors.New("no loader registered for entity type")
	ErrDuplicateGenesis  = errors.New("genesis record already exists for field")
	ErrAlreadyApplied    = errors.New("pending transition already applied")
	ErrPendingNotFound   = errors.New("pending transition not found")
	ErrLockNotAcquired   = errors.New("failed to acquire transition lock")
)

// ErrTransitionNotAllowed indicates the rule table holds no edge for the requested move.
type ErrTransitionNotAllowed struct {
	From       string
	To         string
	EntityType string
}

func (e *ErrTransitionNotAllowed) Error() string {
	return fmt.Sprintf("transition from '%s' to '%s' is not allowed for %s", e.From, e.To, e.EntityType)
}

func NewErrTransitionNotAllowed(from, to, entityType string) *ErrTransitionNotAllowed {
	return &ErrTransitionNotAllowed{
		From:       from,
		To:         to,
		EntityType: entityType,
	}
}

// ErrValidationFailed indicates the machine's validator rejected the transition.
type ErrValidationFailed struct {
	From string
	To   string
	Err  error
}

func (e *ErrValidationFailed) Error() string {
	return fmt.Sprintf("transition from '%s' to '%s' failed validation: %v", e.From, e.To, e.Err)
}

func (e *ErrValidationFailed) Unwrap() error {
	return e.Err
}

func NewErrValidationFailed(from, to string, err error) *ErrValidationFailed {
	return &ErrValidationFailed{
		From: from,
		To:   to,
		Err:  err,
	}
}

// ErrInvalidStartingState indicates a pending transition's recorded source state
// no longer matches the entity's live state.
type ErrInvalidStartingState struct {
	Expected string
	Actual   string
}

func (e *ErrInvalidStartingState) Error() string {
	return fmt.Sprintf("expected starting state '%s', entity is in '%s'", e.Expected, e.Actual)
}

func NewErrInvalidStartingState(expected, actual string) *ErrInvalidStartingState {
	return &ErrInvalidStartingState{
		Expected: expected,
		Actual:   actual,
	}
}

func IsTransitionNotAllowedError(err error) bool {
	var e *ErrTransitionNotAllowed
	return errors.As(err, &e)
}

func IsValidationFailedError(err error) bool {
	var e *ErrValidationFailed
	return errors.As(err, &e)
}

func IsInvalidStartingStateError(err error) bool {
	var e *ErrInvalidStartingState
	return errors.As(err, &e)
}
