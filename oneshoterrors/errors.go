package oneshoterrors

import "errors"

// Any non-nil error handed to a completion handler means the wait failed; its Error() is the human-readable
// description.
var (
	ErrCancelled  = errors.New("operation cancelled")
	ErrTimeout    = errors.New("operation timed out")
	ErrTimerArmed = errors.New("timer already armed")
	ErrNoDeadline = errors.New("timer has no expiry set")
	ErrClosed     = errors.New("io closed")
)
