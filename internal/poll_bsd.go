//go:build darwin || freebsd

package internal

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

type PollerEvent int16

const (
	PollerReadEvent PollerEvent = 1 << iota
)

// wakerIdent identifies the EVFILT_USER event triggered by Post.
const wakerIdent = 0

var _ Poller = &poller{}

type kevKey struct {
	ident  int
	filter int
}

type poller struct {
	kq int

	eventlist []unix.Kevent_t

	// slots maps registrations back to their Slot and keeps every Slot with an in-flight operation reachable by
	// the garbage collector. filters remembers which filter a Slot was registered with.
	slots   map[kevKey]*Slot
	filters map[*Slot]int

	posted, dispatching []func()
	lck                 sync.Mutex

	pending int64
	closed  uint32
}

func NewPoller() (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	unix.CloseOnExec(kq)

	var ev unix.Kevent_t
	unix.SetKevent(&ev, wakerIdent, unix.EVFILT_USER, unix.EV_ADD|unix.EV_CLEAR)
	if _, err := unix.Kevent(kq, []unix.Kevent_t{ev}, nil, nil); err != nil {
		_ = unix.Close(kq)
		return nil, os.NewSyscallError("kevent_user_add", err)
	}

	return &poller{
		kq:        kq,
		eventlist: make([]unix.Kevent_t, 128),
		slots:     make(map[kevKey]*Slot),
		filters:   make(map[*Slot]int),
	}, nil
}

func (p *poller) Pending() int64 {
	return atomic.LoadInt64(&p.pending)
}

func (p *poller) Posted() int {
	p.lck.Lock()
	defer p.lck.Unlock()
	return len(p.posted)
}

func (p *poller) Close() error {
	if !atomic.CompareAndSwapUint32(&p.closed, 0, 1) {
		return io.EOF
	}

	// slots and filters are left alone: Poll may still be reading them and every use is guarded by Closed.
	atomic.StoreInt64(&p.pending, 0)

	return unix.Close(p.kq)
}

func (p *poller) Closed() bool {
	return atomic.LoadUint32(&p.closed) == 1
}

func (p *poller) Post(handler func()) error {
	if p.Closed() {
		return ErrClosed
	}

	p.lck.Lock()
	p.posted = append(p.posted, handler)
	atomic.AddInt64(&p.pending, 1)
	p.lck.Unlock()

	var ev unix.Kevent_t
	unix.SetKevent(&ev, wakerIdent, unix.EVFILT_USER, 0)
	ev.Fflags = unix.NOTE_TRIGGER
	_, err := unix.Kevent(p.kq, []unix.Kevent_t{ev}, nil, nil)
	return err
}

func (p *poller) Poll(timeoutMs int) (int, error) {
	if p.Closed() {
		return 0, ErrClosed
	}

	var timeout *unix.Timespec
	if timeoutMs >= 0 { // 0 does a poll
		ts := unix.NsecToTimespec(int64(timeoutMs) * int64(time.Millisecond))
		timeout = &ts
	}

	n, err := unix.Kevent(p.kq, nil, p.eventlist, timeout)
	if err != nil {
		return 0, err
	}

	if n == 0 && timeoutMs >= 0 {
		return 0, ErrTimeout
	}

	dispatched := 0
	for i := 0; i < n && !p.Closed(); i++ {
		event := &p.eventlist[i]

		if int(event.Filter) == unix.EVFILT_USER {
			dispatched += p.dispatch()
			continue
		}

		slot, ok := p.slots[kevKey{ident: int(event.Ident), filter: int(event.Filter)}]
		if !ok {
			continue
		}

		// Registered with EV_ONESHOT, so the kernel already dropped the event.
		p.forget(slot)
		slot.DispatchRead(nil)
		dispatched++
	}

	return dispatched, nil
}

func (p *poller) dispatch() int {
	p.lck.Lock()
	p.posted, p.dispatching = p.dispatching[:0], p.posted
	p.lck.Unlock()

	n := len(p.dispatching)
	for i, handler := range p.dispatching {
		p.dispatching[i] = nil
		handler()
		atomic.AddInt64(&p.pending, -1)
	}
	return n
}

func (p *poller) SetRead(slot *Slot) error {
	return p.set(slot, unix.EVFILT_READ, 0, 0)
}

// SetTimer registers a one-shot EVFILT_TIMER on the slot, firing after dur.
func (p *poller) SetTimer(slot *Slot, dur time.Duration) error {
	return p.set(slot, unix.EVFILT_TIMER, unix.NOTE_NSECONDS, dur.Nanoseconds())
}

func (p *poller) set(slot *Slot, filter int, fflags uint32, data int64) error {
	if p.Closed() {
		return ErrClosed
	}

	if slot.Events&PollerReadEvent == PollerReadEvent {
		return nil
	}

	var ev unix.Kevent_t
	unix.SetKevent(&ev, slot.Fd, filter, unix.EV_ADD|unix.EV_ENABLE|unix.EV_ONESHOT)
	ev.Fflags = fflags
	ev.Data = data

	if _, err := unix.Kevent(p.kq, []unix.Kevent_t{ev}, nil, nil); err != nil {
		return os.NewSyscallError("kevent_add", err)
	}

	slot.Events |= PollerReadEvent
	p.slots[kevKey{ident: slot.Fd, filter: filter}] = slot
	p.filters[slot] = filter
	atomic.AddInt64(&p.pending, 1)
	return nil
}

func (p *poller) DelRead(slot *Slot) error {
	if slot.Events&PollerReadEvent != PollerReadEvent {
		return nil
	}

	filter := p.filters[slot]
	p.forget(slot)
	if p.Closed() {
		return nil
	}

	var ev unix.Kevent_t
	unix.SetKevent(&ev, slot.Fd, filter, unix.EV_DELETE|unix.EV_DISABLE)
	if _, err := unix.Kevent(p.kq, []unix.Kevent_t{ev}, nil, nil); err != nil && err != unix.ENOENT {
		return os.NewSyscallError("kevent_delete", err)
	}
	return nil
}

func (p *poller) Del(slot *Slot) error {
	return p.DelRead(slot)
}

func (p *poller) forget(slot *Slot) {
	slot.Events &^= PollerReadEvent
	delete(p.slots, kevKey{ident: slot.Fd, filter: p.filters[slot]})
	delete(p.filters, slot)
	if !p.Closed() {
		atomic.AddInt64(&p.pending, -1)
	}
}
