package calls

import "errors"

var (
	// ErrValidation rejects input before any state change.
	ErrValidation = errors.New("validation failed")

	// ErrSessionActive is returned by Start while another session is outstanding.
	ErrSessionActive = errors.New("a call session is already active")

	// ErrNoActiveSession is returned by operations that need a live session.
	ErrNoActiveSession = errors.New("no active call session")

	// ErrInvalidTransition is returned when an operation is not valid from the current state.
	ErrInvalidTransition = errors.New("invalid call state transition")

	// ErrNetwork wraps remote store and CRM transport failures.
	ErrNetwork = errors.New("network request failed")

	// ErrNotFound is returned when the remote store no longer knows a record id.
	ErrNotFound = errors.New("record not found")

	// ErrStorage wraps local persisted-store failures (for example a quota error).
	ErrStorage = errors.New("local storage failed")
)
