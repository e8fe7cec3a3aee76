package core

import "fmt"

// userTransitions lists the status changes a user may request. Completion is
// reached only by execution past the end date.
var userTransitions = map[Status][]Status{
	StatusActive: {StatusPaused, StatusCancelled},
	StatusPaused: {StatusActive, StatusCancelled},
}

// IsTerminal reports whether no further executions or edits are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) CanTransitionTo(to Status) bool {
	if s == to {
		return true
	}
	for _, allowed := range userTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrScheduleClosed for terminal schedules and
// ErrInvalidStatusTransition for any other disallowed change.
func ValidateTransition(from, to Status) error {
	if from.IsTerminal() {
		return fmt.Errorf("%w: status is %s", ErrScheduleClosed, from)
	}
	if !to.Valid() || !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, from, to)
	}
	return nil
}
