// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across store/repo/service layers.
var (
	// ErrNotInitialized indicates store access before Initialize completed.
	ErrNotInitialized = errors.New("store not initialized")

	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotPaired indicates the terminal has no complete pairing record.
	ErrNotPaired = errors.New("terminal not paired")

	// ErrInvalidTransition indicates a status change the queue state machine
	// does not allow (e.g. retry on a non-failed operation).
	ErrInvalidTransition = errors.New("invalid status transition")
)
