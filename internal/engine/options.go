package engine

import (
	"time"

	"github.com/okian/wodboard/pkg/logger"
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithClock replaces the wall clock, mostly useful in tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithMaxRetries bounds the attempts after a version conflict.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithRetryBase sets the first backoff interval.
func WithRetryBase(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.retryBase = d
		}
	}
}

// WithPublisher sets where committed snapshots go.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.pub = p
		}
	}
}

// WithLogger sets a custom logger for the engine.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}
