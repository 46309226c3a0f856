package engine

import "errors"

var (
	// ErrConcurrentUpdate is returned when a session changed between load and
	// write. The operation had no effect and may be retried.
	ErrConcurrentUpdate = errors.New("engine: concurrent session update")

	// ErrLockTimeout is returned when the per-session lock could not be acquired.
	ErrLockTimeout = errors.New("engine: session lock timeout")
)
