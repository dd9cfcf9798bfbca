package errs

import "errors"

var (
	// ErrInvalidEventName is returned when an event is recorded without a name
	ErrInvalidEventName = errors.New("invalid event name")

	// ErrUnserializablePayload is returned when an event payload cannot be encoded
	ErrUnserializablePayload = errors.New("event payload is not serializable")

	// ErrUnhandledEvent is returned in strict mode when no handler is registered for an event
	ErrUnhandledEvent = errors.New("no handler registered for event")

	// ErrApplyFailed is returned when an event handler rejects a recorded event
	ErrApplyFailed = errors.New("event handler failed")

	// ErrReplayOrderViolation is returned when replayed records are not strictly ascending
	ErrReplayOrderViolation = errors.New("replay order violation")

	// ErrReplayGap is returned when replayed versions are not contiguous
	ErrReplayGap = errors.New("replay version gap")

	// ErrConcurrentModification is returned when a version conflict occurs
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrPersistenceFailure is returned when the storage engine fails
	ErrPersistenceFailure = errors.New("persistence failure")

	// ErrDeliveryFailed is returned when one or more listeners failed to handle an event
	ErrDeliveryFailed = errors.New("event delivery failed")

	// ErrInvalidListener is returned when a listener cannot be registered
	ErrInvalidListener = errors.New("invalid listener")

	// ErrListenerStopped is returned when an event is offered to a stopped listener
	ErrListenerStopped = errors.New("listener stopped")

	// ErrListenerNotRunning is returned when stopping a listener that was never started
	ErrListenerNotRunning = errors.New("listener not running")

	// ErrListenerAlreadyRunning is returned when starting a listener twice
	ErrListenerAlreadyRunning = errors.New("listener already running")
)
