package registration

import "fmt"

// State is the lifecycle position of one (user, event) pair.
type State string

const (
	StateUnregistered State = "unregistered"
	StateActive       State = "active"
	StateCancelled    State = "cancelled"
)

// TransitionError names the precondition a transition violated.
type TransitionError struct {
	From   State
	Action string
	Reason string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s from %s: %s", e.Action, e.From, e.Reason)
}

func (e *TransitionError) Is(target error) bool {
	switch target {
	case ErrAlreadyRegistered:
		return e.Reason == reasonAlreadyRegistered
	case ErrNotFound:
		return e.Reason == reasonNotRegistered
	}
	return false
}

const (
	reasonAlreadyRegistered = "already_registered"
	reasonNotRegistered     = "not_registered"
)

// StateOf derives the state from the latest row for the pair (nil = no row).
func StateOf(r *Registration) State {
	switch {
	case r == nil:
		return StateUnregistered
	case r.Cancelled:
		return StateCancelled
	default:
		return StateActive
	}
}

// Register validates unregistered|cancelled -> active.
func (s State) Register() error {
	if s == StateActive {
		return &TransitionError{From: s, Action: "register", Reason: reasonAlreadyRegistered}
	}
	return nil
}

// Cancel validates active -> cancelled.
func (s State) Cancel() error {
	if s != StateActive {
		return &TransitionError{From: s, Action: "cancel", Reason: reasonNotRegistered}
	}
	return nil
}
