//go:build darwin || freebsd

package internal

import (
	"sync/atomic"
	"time"
)

var _ ITimer = &Timer{}

// timerIdents hands out EVFILT_TIMER identifiers. They live in their own namespace, separate from file descriptors.
var timerIdents int64

type Timer struct {
	poller *poller
	slot   Slot

	// expiry is when the current Set is due, measured against the monotonic clock.
	expiry time.Time
}

func NewTimer(p Poller) (*Timer, error) {
	t := &Timer{
		poller: p.(*poller),
	}
	t.slot.Fd = int(atomic.AddInt64(&timerIdents, 1))
	return t, nil
}

func (t *Timer) Set(dur time.Duration, cb func()) error {
	// Make sure there's not another timer setup on the same ident.
	if err := t.Unset(); err != nil {
		return err
	}

	if dur <= 0 {
		dur = time.Nanosecond
	}

	t.expiry = time.Now().Add(dur)
	t.slot.Set(ReadEvent, func(_ error) {
		// A stale event from before the timer was disarmed and set again in the same poll must not fire it early.
		if remaining := time.Until(t.expiry); remaining > 0 {
			if err := t.poller.SetTimer(&t.slot, remaining); err == nil {
				return
			}
		}
		cb()
	})
	return t.poller.SetTimer(&t.slot, dur)
}

func (t *Timer) Unset() error {
	return t.poller.DelRead(&t.slot)
}

func (t *Timer) Armed() bool {
	return t.slot.Events&PollerReadEvent == PollerReadEvent
}

func (t *Timer) Close() error {
	// There's no file descriptor to close as the ident has been chosen by us and not returned by the kernel.
	return t.Unset()
}
