package oneshot

import (
	"io"
	"os"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/talostrading/oneshot/internal"
	"github.com/talostrading/oneshot/oneshoterrors"
	"github.com/talostrading/oneshot/util"
	"go.uber.org/zap"
)

// IO is the event processing loop. Every asynchronous operation is bound to an IO and its completion handler runs
// in the goroutine calling one of the Run or Poll methods.
type IO struct {
	poller internal.Poller

	log  *zap.Logger
	hist *util.LatencyHist

	// pendingTimers keeps armed timers reachable while they are in-flight, in case the Timer goes out of scope, and
	// lets Close resolve them.
	pendingTimers map[*Timer]struct{}

	closed uint32
}

func NewIO(opts ...Option) (*IO, error) {
	poller, err := internal.NewPoller()
	if err != nil {
		return nil, errors.WithMessage(err, "create poller")
	}

	ioc := &IO{
		poller:        poller,
		log:           zap.NewNop(),
		pendingTimers: make(map[*Timer]struct{}),
	}

	for _, opt := range opts {
		switch opt.Type() {
		case TypeLogger:
			if l := opt.Value().(*zap.Logger); l != nil {
				ioc.log = l
			}
		case TypeLatencyHist:
			ioc.hist = opt.Value().(*util.LatencyHist)
		}
	}

	ioc.log.Debug("io created")
	return ioc, nil
}

func MustIO(opts ...Option) *IO {
	ioc, err := NewIO(opts...)
	if err != nil {
		panic(err)
	}
	return ioc
}

// Run runs the event processing loop until there is no more pending work, that is until every armed timer has
// fired or has been cancelled and every posted handler has been executed.
//
// note: this blocks the calling goroutine while there is pending work. It returns immediately if there is none.
func (ioc *IO) Run() error {
	ioc.log.Debug("io run", zap.Int64("pending", ioc.Pending()))

	for ioc.Pending() > 0 {
		if err := ioc.RunOne(); err != nil && err != internal.ErrTimeout {
			return err
		}
	}

	ioc.log.Debug("io out of work")
	return nil
}

// RunPending runs the event processing loop to execute all the pending handlers
//
// note: subsequent handlers scheduled to run on a successful completion of the
// pending operation will not be executed.
func (ioc *IO) RunPending() error {
	for n := ioc.Pending(); n > 0 && ioc.Pending() > 0; {
		dispatched, err := ioc.poll(-1)
		if err != nil && err != internal.ErrTimeout {
			return err
		}
		n -= int64(dispatched)
	}
	return nil
}

// RunOne runs the event processing loop to execute at least one handler
// note: this blocks the calling goroutine until one event is ready to process
func (ioc *IO) RunOne() error {
	_, err := ioc.poll(-1)
	return err
}

// RunOneFor runs the event processing loop for at most the specified duration to execute at least one handler.
// oneshoterrors.ErrTimeout is returned if no handler was ready in time.
func (ioc *IO) RunOneFor(dur time.Duration) error {
	ms := int(dur.Milliseconds())
	if ms <= 0 && dur > 0 {
		ms = 1
	}
	_, err := ioc.poll(ms)
	return err
}

// Poll runs the event processing loop to execute ready handlers
// note: this will return immediately in case there is no event to process
func (ioc *IO) Poll() error {
	for {
		if err := ioc.PollOne(); err != nil {
			return err
		}
	}
}

// PollOne runs the event processing loop to execute ready handlers
// note: this will return immediately in case there is no event to process
func (ioc *IO) PollOne() error {
	_, err := ioc.poll(0)
	return err
}

func (ioc *IO) poll(timeoutMs int) (int, error) {
	n, err := ioc.poller.Poll(timeoutMs)
	if err != nil {
		if err == syscall.EINTR {
			if timeoutMs >= 0 {
				return 0, internal.ErrTimeout
			}

			runtime.Gosched()
			return 0, nil
		}

		if err == internal.ErrTimeout || err == internal.ErrClosed {
			return 0, err
		}

		return 0, os.NewSyscallError("poll_wait", err)
	}

	return n, nil
}

// Post schedules the provided handler to be run immediately by the event
// processing loop in its own goroutine. It is safe to call this concurrently.
func (ioc *IO) Post(handler func()) error {
	return ioc.poller.Post(handler)
}

// Pending returns the number of armed timers and posted handlers which have not completed yet. It is safe to call
// this concurrently.
func (ioc *IO) Pending() int64 {
	return ioc.poller.Pending()
}

func (ioc *IO) Closed() bool {
	return atomic.LoadUint32(&ioc.closed) == 1
}

// Close closes the IO. Timers still armed are resolved right away, in the calling goroutine, with
// oneshoterrors.ErrCancelled. Posted handlers which did not run yet are dropped.
func (ioc *IO) Close() error {
	if !atomic.CompareAndSwapUint32(&ioc.closed, 0, 1) {
		return io.EOF
	}

	ioc.log.Debug("io closing", zap.Int("armed_timers", len(ioc.pendingTimers)))

	for t := range ioc.pendingTimers {
		t.abort(oneshoterrors.ErrCancelled)
	}

	return ioc.poller.Close()
}
