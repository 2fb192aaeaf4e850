package rf

import "errors"

// Error taxonomy for the control plane. Callers classify with errors.Is;
// all exported errors from this module wrap one of these sentinels.
var (
	// ErrNotFound means the card, uid, or handle is unknown.
	ErrNotFound = errors.New("not found")

	// ErrCardInUse means another process or session owns the card.
	ErrCardInUse = errors.New("card in use")

	// ErrBusy means the resource already holds the requested state,
	// e.g. starting a handle that is already streaming.
	ErrBusy = errors.New("busy")

	// ErrConflict means a requested handle cannot coexist with another
	// active handle on the same card.
	ErrConflict = errors.New("handle conflict")

	// ErrNotSupported means the capability is absent on this platform or
	// firmware.
	ErrNotSupported = errors.New("not supported")

	// ErrWrongState means the operation is invalid for the current state
	// machine position.
	ErrWrongState = errors.New("wrong state")

	// ErrWrongMode means the operation is invalid for the configured mode,
	// e.g. querying hop state in standard tune mode.
	ErrWrongMode = errors.New("wrong mode")

	// ErrQueueFull is the expected backpressure signal from asynchronous
	// transmit; the caller should back off and retry.
	ErrQueueFull = errors.New("transmit queue full")

	// ErrHardware means a register or link transaction failed.
	ErrHardware = errors.New("hardware fault")

	// ErrTimeout means a bounded wait expired.
	ErrTimeout = errors.New("timeout")

	// ErrLinkDown means a register operation was attempted between
	// LinkDown and a successful LinkUp.
	ErrLinkDown = errors.New("transport link down")

	// ErrVerifyMismatch means a write-and-verify read back a different value.
	ErrVerifyMismatch = errors.New("register verify mismatch")

	// ErrAlreadyRegistered means a custom transport backend of that kind
	// is already registered.
	ErrAlreadyRegistered = errors.New("backend already registered")

	// ErrNotRegistered means no transport backend of that kind is registered.
	ErrNotRegistered = errors.New("backend not registered")

	// ErrNotStreaming means the handle has no active stream.
	ErrNotStreaming = errors.New("not streaming")

	// ErrLateTimestamp means a timestamped transmit block arrived after
	// its scheduled time and was dropped.
	ErrLateTimestamp = errors.New("late timestamp")
)

// Retryable reports whether err is a normal, recoverable condition the
// caller is expected to retry after a delay (backpressure and timeouts)
// rather than a fault.
func Retryable(err error) bool {
	return errors.Is(err, ErrQueueFull) || errors.Is(err, ErrTimeout)
}
