//go:build linux

package internal

import (
	"encoding/binary"
	"os"

	"golang.org/x/sys/unix"
)

type EventFd struct {
	fd   int
	slot Slot
}

func NewEventFd(nonBlocking bool) (*EventFd, error) {
	flags := unix.EFD_CLOEXEC
	if nonBlocking {
		flags |= unix.EFD_NONBLOCK
	}

	fd, err := unix.Eventfd(0, flags)
	if err != nil {
		return nil, os.NewSyscallError("eventfd", err)
	}
	e := &EventFd{
		fd: fd,
	}
	e.slot.Fd = e.fd
	return e, nil
}

func (e *EventFd) Write(x uint64) (int, error) {
	var b [8]byte
	binary.NativeEndian.PutUint64(b[:], x)
	return unix.Write(e.fd, b[:])
}

func (e *EventFd) Read(b []byte) (int, error) {
	return unix.Read(e.fd, b)
}

func (e *EventFd) Fd() int {
	return e.fd
}

func (e *EventFd) Slot() *Slot {
	return &e.slot
}

func (e *EventFd) Close() error {
	return unix.Close(e.fd)
}
