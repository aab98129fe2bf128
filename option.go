package oneshot

import (
	"github.com/talostrading/oneshot/util"
	"go.uber.org/zap"
)

type OptionType uint8

const (
	TypeLogger OptionType = iota
	TypeLatencyHist
)

type Option interface {
	Type() OptionType
	Value() interface{}
}

type optionLogger struct {
	v *zap.Logger
}

func (o *optionLogger) Type() OptionType {
	return TypeLogger
}

func (o *optionLogger) Value() interface{} {
	return o.v
}

// WithLogger makes the IO log its lifecycle and timer events to the given logger. By default nothing is logged.
func WithLogger(v *zap.Logger) Option {
	return &optionLogger{
		v: v,
	}
}

type optionLatencyHist struct {
	v *util.LatencyHist
}

func (o *optionLatencyHist) Type() OptionType {
	return TypeLatencyHist
}

func (o *optionLatencyHist) Value() interface{} {
	return o.v
}

// WithLatencyHist makes every timer bound to the IO record, when it fires, how late it is with respect to its
// expiry.
func WithLatencyHist(v *util.LatencyHist) Option {
	return &optionLatencyHist{
		v: v,
	}
}
