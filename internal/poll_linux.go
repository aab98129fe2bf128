//go:build linux

package internal

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

type PollerEvent uint32

const (
	PollerReadEvent = PollerEvent(unix.EPOLLIN)
)

var _ Poller = &poller{}

type poller struct {
	// fd is the file descriptor returned by calling epoll_create1(0).
	fd int

	// events is filled by epoll_wait with the events which occurred.
	events []unix.EpollEvent

	// slots maps registered file descriptors to their Slot. The kernel only gives us back the fd, so this also keeps
	// every Slot with an in-flight operation reachable by the garbage collector.
	slots map[int]*Slot

	// waker is used to wake up the process when the client calls ioc.Post(...), thus dispatching the provided
	// handler. It is registered for reads with epoll.
	waker *EventFd

	// posted maintains the handlers set by the client to be executed in the poller's goroutine. Adding a handler
	// entails writing to the waker. dispatching is swapped with posted on every dispatch such that handlers can Post
	// while being executed.
	posted, dispatching []func()

	// lck synchronizes access to posted. This is needed because multiple goroutines can call ioc.Post(...) on the
	// same IO object.
	lck sync.Mutex

	// pending is the number of registered events plus posted handlers the poller needs to execute.
	pending int64

	// closed is 1 if Close has been called.
	closed uint32

	wakerBytes [8]byte
}

func NewPoller() (Poller, error) {
	epollFd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}

	waker, err := NewEventFd(true)
	if err != nil {
		_ = unix.Close(epollFd)
		return nil, err
	}

	p := &poller{
		fd:     epollFd,
		waker:  waker,
		events: make([]unix.EpollEvent, 128),
		slots:  make(map[int]*Slot),
	}

	// The waker is not accounted for in pending: it is always registered.
	waker.Slot().Events = PollerReadEvent
	if err := p.ctl(unix.EPOLL_CTL_ADD, waker.Slot()); err != nil {
		_ = waker.Close()
		_ = unix.Close(epollFd)
		return nil, err
	}

	return p, nil
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

	// slots is left alone: Poll may still be reading it and every use is guarded by Closed.
	atomic.StoreInt64(&p.pending, 0)

	_ = p.waker.Close()
	return unix.Close(p.fd)
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

	_, err := p.waker.Write(1)
	return err
}

func (p *poller) Poll(timeoutMs int) (int, error) {
	if p.Closed() {
		return 0, ErrClosed
	}

	n, err := unix.EpollWait(p.fd, p.events, timeoutMs)
	if err != nil {
		// EINTR is handed back untouched, the caller decides whether to retry.
		return 0, err
	}

	if n == 0 && timeoutMs >= 0 {
		return 0, ErrTimeout
	}

	dispatched := 0
	for i := 0; i < n && !p.Closed(); i++ {
		fd := int(p.events[i].Fd)

		if fd == p.waker.Fd() {
			dispatched += p.dispatch()
			continue
		}

		slot, ok := p.slots[fd]
		if !ok || slot.Events&PollerReadEvent != PollerReadEvent {
			continue
		}

		// Registrations are one-shot: the handler is free to register the slot again.
		if err := p.DelRead(slot); err != nil {
			slot.DispatchRead(err)
		} else {
			slot.DispatchRead(nil)
		}
		dispatched++
	}

	return dispatched, nil
}

func (p *poller) dispatch() int {
	for {
		if _, err := p.waker.Read(p.wakerBytes[:]); err != nil {
			break
		}
	}

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
	if p.Closed() {
		return ErrClosed
	}

	if slot.Events&PollerReadEvent == PollerReadEvent {
		return nil
	}

	old := slot.Events
	slot.Events |= PollerReadEvent

	op := unix.EPOLL_CTL_MOD
	if old == 0 {
		op = unix.EPOLL_CTL_ADD
	}
	if err := p.ctl(op, slot); err != nil {
		slot.Events = old
		return err
	}

	p.slots[slot.Fd] = slot
	atomic.AddInt64(&p.pending, 1)
	return nil
}

func (p *poller) DelRead(slot *Slot) error {
	if slot.Events&PollerReadEvent != PollerReadEvent {
		return nil
	}

	slot.Events ^= PollerReadEvent

	// Close already zeroed pending and released the epoll instance.
	if p.Closed() {
		return nil
	}
	atomic.AddInt64(&p.pending, -1)

	if slot.Events != 0 {
		return p.ctl(unix.EPOLL_CTL_MOD, slot)
	}

	delete(p.slots, slot.Fd)
	return p.ctl(unix.EPOLL_CTL_DEL, slot)
}

func (p *poller) Del(slot *Slot) error {
	return p.DelRead(slot)
}

func (p *poller) ctl(op int, slot *Slot) error {
	var ev *unix.EpollEvent
	if op != unix.EPOLL_CTL_DEL {
		ev = &unix.EpollEvent{
			Events: uint32(slot.Events),
			Fd:     int32(slot.Fd),
		}
	}

	if err := unix.EpollCtl(p.fd, op, slot.Fd, ev); err != nil {
		switch op {
		case unix.EPOLL_CTL_ADD:
			return os.NewSyscallError("epoll_ctl_add", err)
		case unix.EPOLL_CTL_MOD:
			return os.NewSyscallError("epoll_ctl_mod", err)
		default:
			return os.NewSyscallError("epoll_ctl_del", err)
		}
	}
	return nil
}
