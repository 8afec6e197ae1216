package queue

import "errors"

// Sentinel errors returned by SubmitAutoFinish.
var (
	ErrClosed = errors.New("queue closed")
	ErrFull   = errors.New("queue full")
)
