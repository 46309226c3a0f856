package flow

import "errors"

var (
	// ErrFlowNotFound is returned when no definition exists for an id.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrInvalidFlow wraps every structural validation failure.
	ErrInvalidFlow = errors.New("invalid flow")
)
