package timer

import "errors"

var (
	// ErrNoTimerConfigured rejects startTimer for a challenge with no timer
	// length. Nothing is written.
	ErrNoTimerConfigured = errors.New("challenge has no timer configured")

	// ErrTimerNotFound means the referenced timer does not exist. Surfaced to
	// explicit client calls; scheduled callbacks treat it as a recoverable
	// race and drop silently.
	ErrTimerNotFound = errors.New("timer not found")

	// ErrInsufficientPoints rejects an extension the player can no longer
	// afford. No state is mutated.
	ErrInsufficientPoints = errors.New("insufficient points to extend timer")

	// ErrPermissionDenied rejects a cross-user operation without the override
	// capability.
	ErrPermissionDenied = errors.New("not permitted to operate another user's timer")
)
