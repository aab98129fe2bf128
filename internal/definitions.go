package internal

import "time"

type EventType int8

const (
	ReadEvent EventType = iota
	MaxEvent
)

type Handler func(error)

type Slot struct {
	Fd int // A file descriptor (or synthetic identifier) which uniquely identifies a Slot. Callers must set it up at construction time.

	// Events registered with this Slot. Essentially a bitmask defined by the platform-specific Poller.
	// Every event from here has a corresponding Handler in Handlers.
	Events PollerEvent

	// Callbacks registered with this Slot. The poller dispatches the read callback when it receives an event that's
	// in Events. Registrations are one-shot: the slot is deregistered before its handler runs.
	Handlers [MaxEvent]Handler
}

func (s *Slot) Set(et EventType, h Handler) {
	s.Handlers[et] = h
}

func (s *Slot) DispatchRead(err error) {
	if h := s.Handlers[ReadEvent]; h != nil {
		h(err)
	}
}

type ITimer interface {
	// Set arms the timer to fire once after the given duration. The callback runs on the Poller's goroutine.
	Set(time.Duration, func()) error

	// Unset disarms the timer. The callback registered with Set is not invoked.
	Unset() error

	// Armed returns true if the timer has been Set and has neither fired nor been Unset.
	Armed() bool

	Close() error
}

type Poller interface {
	// Poll polls the status of the underlying events registered with SetRead, returning the number of events which
	// occurred.
	//
	// A call to Poll will block until either:
	//  - an event occurs
	//  - the call is interrupted by a signal handler; or
	//  - the timeout expires
	Poll(timeoutMs int) (n int, err error)

	// Pending returns the number of registered events and posted handlers which have not yet been dispatched.
	//
	// Pending is safe for concurrent use.
	Pending() int64

	// Post instructs the Poller to execute the provided handler in the Poller's goroutine in the next Poll call.
	//
	// Post is safe for concurrent use.
	Post(func()) error

	// Posted returns the number of handlers registered with Post.
	//
	// Posted is safe for concurrent use.
	Posted() int

	// SetRead registers interest in read events on the provided slot.
	SetRead(slot *Slot) error

	// DelRead deregisters interest in read events on the provided slot.
	DelRead(slot *Slot) error

	// Del deregisters interest in all events on the provided slot.
	Del(slot *Slot) error

	// Close closes the Poller. No calls to Poll should be made after Close.
	//
	// Close is safe for concurrent use.
	Close() error

	// Closed returns true if the Poller has been closed.
	//
	// Closed is safe for concurrent use.
	Closed() bool
}
