//go:build linux

package internal

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

var _ ITimer = &Timer{}

type Timer struct {
	fd     int
	poller Poller
	slot   Slot

	// expirations is where the timerfd expiration counter is drained into.
	expirations [8]byte
}

func NewTimer(poller Poller) (*Timer, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("timerfd_create", err)
	}

	t := &Timer{
		fd:     fd,
		poller: poller,
	}
	t.slot.Fd = t.fd
	return t, nil
}

func (t *Timer) Set(dur time.Duration, cb func()) error {
	// First, make sure there's not another expiration setup on the same fd.
	if err := t.Unset(); err != nil {
		return err
	}

	// A zero it_value disarms a timerfd, so an elapsed deadline fires as soon as possible instead.
	if dur <= 0 {
		dur = time.Nanosecond
	}

	// Zero interval: the timer fires once.
	err := unix.TimerfdSettime(t.fd, 0, &unix.ItimerSpec{
		Value: unix.NsecToTimespec(dur.Nanoseconds()),
	}, nil)
	if err != nil {
		return os.NewSyscallError("timerfd_settime", err)
	}

	t.slot.Set(ReadEvent, func(_ error) {
		// A readiness event can outlive the wait it was reported for: the timer might have been disarmed and set
		// again by a handler dispatched earlier in the same poll. Only a counted expiration fires the timer.
		if !t.drain() {
			if err := t.poller.SetRead(&t.slot); err == nil {
				return
			}
		}
		cb()
	})
	if err := t.poller.SetRead(&t.slot); err != nil {
		_ = unix.TimerfdSettime(t.fd, 0, &unix.ItimerSpec{}, nil)
		return err
	}
	return nil
}

func (t *Timer) Unset() error {
	if !t.Armed() {
		return nil
	}

	err := unix.TimerfdSettime(t.fd, 0, &unix.ItimerSpec{}, nil)
	if err != nil {
		return os.NewSyscallError("timerfd_settime", err)
	}

	// The timer might have expired without the poller having dispatched it yet.
	t.drain()
	return t.poller.DelRead(&t.slot)
}

func (t *Timer) Armed() bool {
	return t.slot.Events&PollerReadEvent == PollerReadEvent
}

func (t *Timer) Close() error {
	err := t.Unset()
	if cerr := unix.Close(t.fd); err == nil && cerr != nil {
		err = os.NewSyscallError("close", cerr)
	}
	return err
}

// drain consumes the expiration counter, returning false if the timer has not expired since it was last drained.
func (t *Timer) drain() bool {
	n, err := unix.Read(t.fd, t.expirations[:])
	return err == nil && n == len(t.expirations)
}
