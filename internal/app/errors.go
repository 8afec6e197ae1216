package service

import "errors"

// Sentinel errors for service-level failures.
var (
	ErrNotStarted      = errors.New("service not started")
	ErrCommandInFlight = errors.New("command with this idempotency key is still being applied")
)
