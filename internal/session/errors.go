package session

import "errors"

var (
	// ErrInvalidSessionTransition is returned when an operation is not allowed from
	// the session's current status. The session is left untouched.
	ErrInvalidSessionTransition = errors.New("invalid session transition")

	// ErrUnknownResponseLabel is returned when a label does not match any response
	// branch of the current step.
	ErrUnknownResponseLabel = errors.New("unknown response label")

	// ErrUnknownStep is returned when the session points at a step the flow no longer has.
	ErrUnknownStep = errors.New("unknown step")

	// ErrSessionNotFound is returned when no session exists for an id.
	ErrSessionNotFound = errors.New("session not found")
)
