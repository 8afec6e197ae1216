package worker

import (
	"time"

	"github.com/okian/wodboard/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(l logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithAlerter escalates jobs that exhausted their retries.
func WithAlerter(a Alerter) Option {
	return func(w *InMemoryWorker) {
		if a != nil {
			w.alerter = a
		}
	}
}

// WithMaxRetries bounds the attempts beyond the first.
func WithMaxRetries(n int) Option {
	return func(w *InMemoryWorker) {
		if n >= 0 {
			w.maxRetries = n
		}
	}
}

// WithRetryBase sets the first backoff interval.
func WithRetryBase(d time.Duration) Option {
	return func(w *InMemoryWorker) {
		if d > 0 {
			w.retryBase = d
		}
	}
}
