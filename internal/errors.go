package internal

import "github.com/talostrading/oneshot/oneshoterrors"

var (
	ErrTimeout = oneshoterrors.ErrTimeout
	ErrClosed  = oneshoterrors.ErrClosed
)
