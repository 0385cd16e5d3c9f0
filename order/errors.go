package order

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound signals that no order exists for the given identifier.
	ErrNotFound = errors.New("order: not found")
	// ErrProductUnavailable signals the product is missing or already sold.
	ErrProductUnavailable = errors.New("order: product unavailable")
)

// InvalidTransitionError reports an action attempted from a state that does
// not permit it, including where the order could legally go next. It is also
// returned when a compare-and-swap write loses a race and the status has
// moved under the caller.
type InvalidTransitionError struct {
	OrderID string
	Current Status
	Action  Action
	Allowed []Status
}

func (e *InvalidTransitionError) Error() string {
	if len(e.Allowed) == 0 {
		return fmt.Sprintf("order %s: cannot %s while %s (terminal state)", e.OrderID, e.Action, e.Current)
	}
	next := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		next[i] = string(s)
	}
	return fmt.Sprintf("order %s: cannot %s while %s; allowed next states: %s",
		e.OrderID, e.Action, e.Current, strings.Join(next, ", "))
}

// ForbiddenError reports a caller who is not the actor a transition is gated
// on. It is a permission failure, not a state failure.
type ForbiddenError struct {
	OrderID  string
	ActorID  string
	Action   Action
	Requires string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("order %s: %s requires %s; caller %s is not permitted",
		e.OrderID, e.Action, e.Requires, e.ActorID)
}

// ValidationError reports a missing or malformed field on a transition
// request. Nothing is written when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("order: invalid %s: %s", e.Field, e.Reason)
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var e *InvalidTransitionError
	return errors.As(err, &e)
}

// IsForbidden reports whether err is a ForbiddenError.
func IsForbidden(err error) bool {
	var e *ForbiddenError
	return errors.As(err, &e)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}
