package service

import (
	"time"

	"github.com/okian/wodboard/internal/adapters/mq/worker"
	"github.com/okian/wodboard/internal/adapters/repository"
	"github.com/okian/wodboard/internal/config"
	"github.com/okian/wodboard/pkg/logger"
)

// Option configures a Service.
type Option func(*Service)

// WithConfig copies every tunable from cfg.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg == nil {
			return
		}
		s.driver = cfg.StoreDriver
		s.sqlitePath = cfg.SQLitePath
		s.postgresDSN = cfg.PostgresDSN
		s.maxRetries = cfg.MaxRetries
		s.retryBase = cfg.RetryBase()
		s.timerTick = cfg.TimerTick()
		s.queueSize = cfg.QueueSize
		s.workerCount = cfg.WorkerCount
		s.dedupeSize = cfg.DedupeSize
		s.busBuffer = cfg.BusBuffer
	}
}

// WithStore uses store instead of opening one from the driver settings.
// The service closes it on Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithWorkerCount sets the number of auto-finish workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize bounds pending auto-finish jobs.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize bounds remembered command IDs.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		s.dedupeSize = size
	}
}

// WithTimerTick sets how often running clocks are checked against their cap.
func WithTimerTick(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timerTick = d
		}
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAlerter escalates failed auto-finishes.
func WithAlerter(a worker.Alerter) Option {
	return func(s *Service) {
		if a != nil {
			s.alerter = a
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
