package engine

import "errors"

// Sentinel kinds for engine errors. Invalid transitions are not errors:
// they come back as a Result with Applied false.
var (
	ErrNotFound         = errors.New("score record not found")
	ErrTransient        = errors.New("score update contended, retry later")
	ErrStoreUnavailable = errors.New("score store unavailable")
	ErrInvalidArgument  = errors.New("invalid argument")
)
