package service

import (
	"errors"
	"fmt"

	"github.com/wimi-app/wimi/internal/recurrence"
)

var (
	ErrInput      = errors.New("invalid input")
	ErrSelection  = errors.New("not enough endorsers")
	ErrScheduling = errors.New("scheduling failed")
	ErrConflict   = errors.New("conflicting update")
)

// InputError rejects a request before anything is written.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InputError) Is(target error) bool {
	return target == ErrInput
}

type SelectionError struct {
	Available int
	Required  int
}

func (e *SelectionError) Error() string {
	return fmt.Sprintf("need %d mutual connections to request endorsement, have %d", e.Required, e.Available)
}

func (e *SelectionError) Is(target error) bool {
	return target == ErrSelection
}

// SchedulingError means the job scheduler could not take a participant's
// jobs after retrying. The previous job set is kept.
type SchedulingError struct {
	ChallengeID string
	UserID      string
	Err         error
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("failed to schedule jobs for challenge %s user %s: %v", e.ChallengeID, e.UserID, e.Err)
}

func (e *SchedulingError) Is(target error) bool {
	return target == ErrScheduling
}

func (e *SchedulingError) Unwrap() error {
	return e.Err
}

// ConflictError rejects a write that contradicts a terminal state already
// stored.
type ConflictError struct {
	Entity string
	ID     string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Reason)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// asInputError converts recurrence validation failures into InputError and
// passes anything else through.
func asInputError(err error) error {
	var ruleErr *recurrence.RuleError
	if errors.As(err, &ruleErr) {
		return &InputError{Field: ruleErr.Field, Reason: ruleErr.Reason}
	}
	return err
}
