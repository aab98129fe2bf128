package oneshot

import (
	"time"

	"github.com/pkg/errors"
	"github.com/talostrading/oneshot/internal"
	"github.com/talostrading/oneshot/oneshoterrors"
	"go.uber.org/zap"
)

var _ AsyncWaiter = &Timer{}

// Timer is a one-shot timer bound to an IO. Its expiry is measured against the monotonic clock.
//
// A Timer must only be used from the goroutine running its IO.
type Timer struct {
	ioc *IO
	it  internal.ITimer

	expiry time.Time
	cb     WaitCallback
	state  TimerState
}

func NewTimer(ioc *IO) (*Timer, error) {
	if ioc.Closed() {
		return nil, oneshoterrors.ErrClosed
	}

	it, err := internal.NewTimer(ioc.poller)
	if err != nil {
		return nil, errors.WithMessage(err, "create timer")
	}

	return &Timer{
		ioc:   ioc,
		it:    it,
		state: StateIdle,
	}, nil
}

// ExpiresAfter sets the expiry of the timer to now plus dur. It does not arm the timer, see AsyncWait.
func (t *Timer) ExpiresAfter(dur time.Duration) error {
	return t.ExpiresAt(time.Now().Add(dur))
}

// ExpiresAt sets the expiry of the timer. It does not arm the timer, see AsyncWait.
func (t *Timer) ExpiresAt(at time.Time) error {
	switch t.state {
	case StateClosed:
		return oneshoterrors.ErrCancelled
	case StateArmed:
		return oneshoterrors.ErrTimerArmed
	}

	t.expiry = at
	return nil
}

func (t *Timer) Expiry() time.Time {
	return t.expiry
}

// AsyncWait arms the timer such that cb is called once the expiry elapses. An expiry which already elapsed makes the
// timer fire on the next poll of the IO.
func (t *Timer) AsyncWait(cb WaitCallback) error {
	switch t.state {
	case StateClosed:
		return oneshoterrors.ErrCancelled
	case StateArmed:
		return oneshoterrors.ErrTimerArmed
	}

	if t.expiry.IsZero() {
		return oneshoterrors.ErrNoDeadline
	}

	if t.ioc.Closed() {
		return oneshoterrors.ErrClosed
	}

	dur := time.Until(t.expiry)
	if err := t.it.Set(dur, t.onFire); err != nil {
		return errors.WithMessage(err, "arm timer")
	}

	t.cb = cb
	t.state = StateArmed
	t.ioc.pendingTimers[t] = struct{}{}

	t.ioc.log.Debug("timer armed", zap.Duration("after", dur), zap.Time("expiry", t.expiry))
	return nil
}

// Cancel cancels an outstanding wait. The completion handler is posted to the IO with oneshoterrors.ErrCancelled
// and the kernel timer is disarmed, so the handler never sees the expiry. Cancel is a no-op if the timer is not
// armed.
func (t *Timer) Cancel() error {
	if t.state != StateArmed {
		return nil
	}

	err := t.it.Unset()
	cb := t.detach(StateCancelled)

	t.ioc.log.Debug("timer cancelled", zap.Time("expiry", t.expiry))

	if perr := t.ioc.Post(func() { t.deliver(cb, oneshoterrors.ErrCancelled) }); perr != nil {
		// Nobody will run the IO anymore, resolve the wait here.
		t.deliver(cb, oneshoterrors.ErrCancelled)
	}

	if err != nil {
		return errors.WithMessage(err, "disarm timer")
	}
	return nil
}

// Armed returns true if the timer waits for its expiry.
func (t *Timer) Armed() bool {
	return t.state == StateArmed
}

func (t *Timer) State() TimerState {
	return t.state
}

// Close cancels any outstanding wait and releases the timer. Closing a closed timer is a no-op.
func (t *Timer) Close() error {
	if t.state == StateClosed {
		return nil
	}

	err := t.Cancel()
	if cerr := t.it.Close(); err == nil && cerr != nil {
		err = errors.WithMessage(cerr, "close timer")
	}

	t.state = StateClosed
	return err
}

func (t *Timer) onFire() {
	if t.ioc.hist != nil {
		t.ioc.hist.Record(time.Since(t.expiry))
	}

	t.ioc.log.Debug("timer fired", zap.Duration("lateness", time.Since(t.expiry)))

	t.deliver(t.detach(StateFired), nil)
}

// abort resolves an armed timer right away, in the calling goroutine.
func (t *Timer) abort(err error) {
	if t.state != StateArmed {
		return
	}

	_ = t.it.Unset()
	t.deliver(t.detach(StateCancelled), err)
}

// detach moves the timer out of the armed state and hands back the completion handler of the wait, which the caller
// must deliver exactly once.
func (t *Timer) detach(state TimerState) WaitCallback {
	cb := t.cb
	t.cb = nil
	t.state = state
	delete(t.ioc.pendingTimers, t)
	return cb
}

func (t *Timer) deliver(cb WaitCallback, err error) {
	if cb != nil {
		cb(err)
	}

	// The handler might have armed the timer again or closed it.
	if t.state == StateFired || t.state == StateCancelled {
		t.state = StateDone
	}
}
