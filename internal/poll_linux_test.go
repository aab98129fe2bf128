//go:build linux

package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestPollerPost(t *testing.T) {
	p, err := NewPoller()
	require.Nil(t, err)
	defer p.Close()

	ran := 0
	for i := 0; i < 3; i++ {
		require.Nil(t, p.Post(func() { ran++ }))
	}
	assert.Equal(t, 3, p.Posted())
	assert.Equal(t, int64(3), p.Pending())

	n, err := p.Poll(-1)
	require.Nil(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, ran)
	assert.Equal(t, 0, p.Posted())
	assert.Equal(t, int64(0), p.Pending())

	// The waker is drained.
	_, err = p.Poll(0)
	assert.Equal(t, ErrTimeout, err)
}

func TestPollerTimer(t *testing.T) {
	p, err := NewPoller()
	require.Nil(t, err)
	defer p.Close()

	timer, err := NewTimer(p)
	require.Nil(t, err)
	defer timer.Close()

	fired := 0
	require.Nil(t, timer.Set(time.Millisecond, func() {
		if timer.Armed() {
			t.Fatal("timer should not be armed in its callback")
		}
		fired++
	}))
	assert.True(t, timer.Armed())
	assert.Equal(t, int64(1), p.Pending())

	n, err := p.Poll(1000)
	require.Nil(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, fired)
	assert.Equal(t, int64(0), p.Pending())

	// One-shot: nothing else is reported.
	_, err = p.Poll(5)
	assert.Equal(t, ErrTimeout, err)
	assert.Equal(t, 1, fired)
}

func TestPollerTimerUnset(t *testing.T) {
	p, err := NewPoller()
	require.Nil(t, err)
	defer p.Close()

	timer, err := NewTimer(p)
	require.Nil(t, err)
	defer timer.Close()

	require.Nil(t, timer.Set(time.Millisecond, func() {
		t.Fatal("timer should not fire")
	}))
	require.Nil(t, timer.Unset())
	assert.False(t, timer.Armed())
	assert.Equal(t, int64(0), p.Pending())

	_, err = p.Poll(10)
	assert.Equal(t, ErrTimeout, err)
}

func TestPollerTimerZeroDuration(t *testing.T) {
	p, err := NewPoller()
	require.Nil(t, err)
	defer p.Close()

	timer, err := NewTimer(p)
	require.Nil(t, err)
	defer timer.Close()

	fired := false
	require.Nil(t, timer.Set(0, func() { fired = true }))

	_, err = p.Poll(1000)
	require.Nil(t, err)
	assert.True(t, fired)
}

func TestPollerTimerResetInSameBatch(t *testing.T) {
	p, err := NewPoller()
	require.Nil(t, err)
	defer p.Close()

	timer, err := NewTimer(p)
	require.Nil(t, err)
	defer timer.Close()

	// The posted handler becomes ready before the timer expires, so both are reported by the same epoll_wait with the
	// handler first. It sets the timer again, leaving the timer's readiness event stale.
	require.Nil(t, p.Post(func() {
		require.Nil(t, timer.Unset())
		require.Nil(t, timer.Set(time.Hour, func() {
			t.Fatal("timer fired before its new deadline")
		}))
	}))
	require.Nil(t, timer.Set(time.Millisecond, func() {
		t.Fatal("timer fired after being unset")
	}))

	time.Sleep(20 * time.Millisecond)

	_, err = p.Poll(0)
	require.Nil(t, err)

	assert.True(t, timer.Armed())
	assert.Equal(t, int64(1), p.Pending())

	_, err = p.Poll(10)
	assert.Equal(t, ErrTimeout, err)
	assert.True(t, timer.Armed())
}

func TestPollerClose(t *testing.T) {
	p, err := NewPoller()
	require.Nil(t, err)

	require.Nil(t, p.Close())
	assert.True(t, p.Closed())
	assert.NotNil(t, p.Close())

	_, err = p.Poll(0)
	assert.Equal(t, ErrClosed, err)
	assert.Equal(t, ErrClosed, p.Post(func() {}))
	assert.Equal(t, ErrClosed, p.SetRead(&Slot{Fd: 0}))
}

func TestPollerCloseWhilePolling(t *testing.T) {
	p, err := NewPoller()
	require.Nil(t, err)

	timer, err := NewTimer(p)
	require.Nil(t, err)
	defer timer.Close()
	require.Nil(t, timer.Set(time.Hour, func() {}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, err := p.Poll(1); err == ErrClosed {
				return
			}
		}
	}()

	time.Sleep(5 * time.Millisecond)
	require.Nil(t, p.Close())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Poll did not return after Close")
	}
	assert.Equal(t, int64(0), p.Pending())
}

func BenchmarkEpollWait(b *testing.B) {
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		b.Fatal(err)
	}
	defer unix.Close(fd)
	events := make([]unix.EpollEvent, 128)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := unix.EpollWait(fd, events, 0); err != nil {
			b.Fatal(err)
		}
	}

	b.ReportAllocs()
}

func BenchmarkPollerPoll(b *testing.B) {
	p, err := NewPoller()
	if err != nil {
		b.Fatal(err)
	}
	defer p.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = p.Poll(0)
	}

	b.ReportAllocs()
}
