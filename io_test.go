package oneshot

import (
	"io"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talostrading/oneshot/oneshoterrors"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestPost(t *testing.T) {
	ioc := MustIO()
	defer ioc.Close()

	xs := []bool{false, false, false}

	for i := 0; i < len(xs); i++ {
		// We need to copy i otherwise xs[i] will panic because i == len(xs)
		// when the loop is done.
		j := i
		ioc.Post(func() {
			xs[j] = true
		})
	}

	if p := ioc.Pending(); p != 3 {
		t.Fatalf("not accounting for pending operations correctly expected=%d given=%d", 3, p)
	}

	ioc.RunPending()

	for i, x := range xs {
		if !x {
			t.Fatalf("handler %d not set", i)
		}
	}

	if p := ioc.Pending(); p != 0 {
		t.Fatalf("not accounting for pending operations correctly expected=%d given=%d", 0, p)
	}
}

func TestPostFromHandler(t *testing.T) {
	ioc := MustIO()
	defer ioc.Close()

	var order []int
	ioc.Post(func() {
		order = append(order, 1)
		ioc.Post(func() {
			order = append(order, 2)
		})
	})

	require.Nil(t, ioc.Run())
	assert.Equal(t, []int{1, 2}, order)
}

func TestPostConcurrent(t *testing.T) {
	ioc := MustIO()
	defer ioc.Close()

	const n = 64

	// Not synchronized: handlers must all run in the goroutine calling Run.
	ran := 0

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			assert.Nil(t, ioc.Post(func() { ran++ }))
		}()
	}
	wg.Wait()

	require.Nil(t, ioc.Run())
	assert.Equal(t, n, ran)
}

func TestRunWithoutWork(t *testing.T) {
	ioc := MustIO()
	defer ioc.Close()

	done := make(chan error, 1)
	go func() {
		done <- ioc.Run()
	}()

	select {
	case err := <-done:
		assert.Nil(t, err)
	case <-time.After(time.Second):
		t.Fatal("run should return as there is no pending work")
	}
}

func TestEmptyPoll(t *testing.T) {
	ioc := MustIO()
	defer ioc.Close()

	if err := ioc.Poll(); err != oneshoterrors.ErrTimeout {
		t.Fatalf("expected timeout as not operations are scheduled")
	}
}

func TestRunOneFor(t *testing.T) {
	ioc := MustIO()
	defer ioc.Close()

	start := time.Now()

	expected := 5 * time.Millisecond
	if err := ioc.RunOneFor(expected); err != oneshoterrors.ErrTimeout {
		t.Fatalf("expected timeout as no operations are scheduled received=%v", err)
	}

	end := time.Now()

	if given := end.Sub(start); given.Milliseconds() < expected.Milliseconds() {
		t.Fatalf("invalid timeout ioc.RunOneFor(...) expected=%v given=%v", expected, given)
	}
}

func TestClose(t *testing.T) {
	ioc := MustIO()

	dropped := false
	require.Nil(t, ioc.Post(func() { dropped = true }))

	require.Nil(t, ioc.Close())
	assert.True(t, ioc.Closed())
	assert.Equal(t, io.EOF, ioc.Close())

	assert.Equal(t, oneshoterrors.ErrClosed, ioc.Post(func() {}))
	assert.Equal(t, oneshoterrors.ErrClosed, ioc.PollOne())
	assert.Nil(t, ioc.Run())
	assert.False(t, dropped)
}

func TestLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)

	ioc := MustIO(WithLogger(zap.New(core)))

	timer, err := NewTimer(ioc)
	require.Nil(t, err)
	require.Nil(t, timer.ExpiresAfter(time.Millisecond))
	require.Nil(t, timer.AsyncWait(func(error) {}))
	require.Nil(t, ioc.Run())
	require.Nil(t, ioc.Close())

	for _, msg := range []string{"io created", "timer armed", "timer fired", "io out of work", "io closing"} {
		assert.Equal(t, 1, logs.FilterMessage(msg).Len(), msg)
	}
}

func BenchmarkPollOne(b *testing.B) {
	ioc := MustIO()
	defer ioc.Close()

	runtime.GOMAXPROCS(1)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for i := 0; i < b.N; i++ {
		ioc.PollOne()
	}
}

func BenchmarkPost(b *testing.B) {
	ioc := MustIO()
	defer ioc.Close()

	fn := func() {}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		ioc.Post(fn)
		ioc.RunOne()
	}
}
