package oneshot

// WaitCallback is the completion handler of an asynchronous wait. It is invoked exactly once, with a nil error if
// the wait completed, or with the reason it did not.
type WaitCallback func(error)

// AsyncWaiter is the interface that wraps the AsyncWait and Cancel methods.
type AsyncWaiter interface {
	// AsyncWait waits asynchronously for the expiry to elapse.
	//
	// This call does not block. The provided completion handler is called, in the goroutine running the IO, in
	// the following cases:
	//  - the expiry elapsed, in which case the error is nil
	//  - the wait has been cancelled, in which case the error is oneshoterrors.ErrCancelled
	//
	// A non-nil error returned by AsyncWait means the wait was not started and the handler will not be called.
	AsyncWait(cb WaitCallback) error

	// Cancel cancels an outstanding wait. Its completion handler is posted to the IO with
	// oneshoterrors.ErrCancelled.
	Cancel() error
}

type TimerState uint8

const (
	StateIdle      TimerState = iota // constructed, never waited on
	StateArmed                       // waiting for the expiry
	StateFired                       // expiry elapsed, handler running
	StateCancelled                   // cancelled, handler not yet completed
	StateDone                        // handler completed; the timer can be waited on again
	StateClosed
)

func (s TimerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateFired:
		return "fired"
	case StateCancelled:
		return "cancelled"
	case StateDone:
		return "done"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
