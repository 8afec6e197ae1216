package timer

import (
	"time"

	"github.com/okian/wodboard/pkg/logger"
)

// Option applies a configuration option to a Session or Coordinator.
type Option func(*config)

type config struct {
	tick time.Duration
	now  func() time.Time
	log  logger.Logger
}

func defaultConfig() config {
	return config{
		tick: defaultTick,
		now:  time.Now,
		log:  logger.Get().Named("timer"),
	}
}

// WithTick sets the refresh cadence.
func WithTick(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.tick = d
		}
	}
}

// WithClock replaces the wall clock, mostly useful in tests.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.log = l
		}
	}
}
