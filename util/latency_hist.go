package util

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

type LatencyHistOpts struct {
	Name string

	// Unit is the resolution samples are recorded at, i.e. time.Microsecond records microseconds.
	Unit time.Duration

	// Min and Max bound the recorded values, in Unit. Values outside the bounds are clamped.
	Min, Max int64

	// Precision is the number of significant value digits kept by the histogram, between 1 and 5.
	Precision int
}

func DefaultLatencyHistOpts(name string) LatencyHistOpts {
	return LatencyHistOpts{
		Name:      name,
		Unit:      time.Microsecond,
		Min:       1,
		Max:       int64(time.Minute / time.Microsecond),
		Precision: 3,
	}
}

// LatencyHist records how late events happen with respect to when they were due. It is not safe for concurrent use.
type LatencyHist struct {
	opts LatencyHistOpts
	hdr  *hdrhistogram.Histogram
}

func NewLatencyHist(opts LatencyHistOpts) *LatencyHist {
	if opts.Unit <= 0 {
		opts.Unit = time.Nanosecond
	}
	if opts.Min < 1 {
		opts.Min = 1
	}
	if opts.Max <= opts.Min {
		opts.Max = opts.Min + 1
	}
	return &LatencyHist{
		opts: opts,
		hdr:  hdrhistogram.New(opts.Min, opts.Max, opts.Precision),
	}
}

// Record records d, clamped to [0, Max] units. Early events (negative d) count as on time.
func (h *LatencyHist) Record(d time.Duration) {
	v := int64(d / h.opts.Unit)
	if v < 0 {
		v = 0
	}
	if v > h.opts.Max {
		v = h.opts.Max
	}
	_ = h.hdr.RecordValue(v)
}

func (h *LatencyHist) Count() int64 {
	return h.hdr.TotalCount()
}

func (h *LatencyHist) Min() time.Duration {
	return time.Duration(h.hdr.Min()) * h.opts.Unit
}

func (h *LatencyHist) Max() time.Duration {
	return time.Duration(h.hdr.Max()) * h.opts.Unit
}

func (h *LatencyHist) Mean() time.Duration {
	return time.Duration(h.hdr.Mean() * float64(h.opts.Unit))
}

func (h *LatencyHist) Percentile(p float64) time.Duration {
	return time.Duration(h.hdr.ValueAtPercentile(p)) * h.opts.Unit
}

func (h *LatencyHist) Reset() {
	h.hdr.Reset()
}

// Report writes a summary of the recorded samples to w.
func (h *LatencyHist) Report(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 2, 2, 2, byte(' '), 0)

	fmt.Fprintf(tw, "%s latency report samples=%d\n", h.opts.Name, h.Count())
	if h.Count() == 0 {
		return tw.Flush()
	}

	fmt.Fprintf(tw, "min/avg/max\t%v/%v/%v\n", h.Min(), h.Mean(), h.Max())
	for _, p := range []float64{50, 90, 99} {
		fmt.Fprintf(tw, "p%g\t%v\n", p, h.Percentile(p))
	}
	return tw.Flush()
}
