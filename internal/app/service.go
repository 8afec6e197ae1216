// Package service wires the store, engine, timers, auto-finish workers and
// leaderboard hub into one running scoring service.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/okian/wodboard/internal/adapters/mq/bus"
	"github.com/okian/wodboard/internal/adapters/mq/queue"
	"github.com/okian/wodboard/internal/adapters/mq/worker"
	"github.com/okian/wodboard/internal/adapters/repository"
	"github.com/okian/wodboard/internal/config"
	"github.com/okian/wodboard/internal/domain/dedupe"
	"github.com/okian/wodboard/internal/engine"
	"github.com/okian/wodboard/internal/leaderboard"
	"github.com/okian/wodboard/internal/timer"
	"github.com/okian/wodboard/pkg/logger"
	"github.com/okian/wodboard/pkg/metrics"
)

// Service owns every long-lived component.
type Service struct {
	mu sync.RWMutex

	store   repository.Store
	bus     *bus.Bus
	engine  *engine.Engine
	timers  *timer.Coordinator
	queue   *queue.InMemoryQueue
	pool    *worker.Pool
	deduper dedupe.Deduper
	hub     *leaderboard.Hub
	alerter worker.Alerter

	driver      string
	sqlitePath  string
	postgresDSN string
	maxRetries  int
	retryBase   time.Duration
	timerTick   time.Duration
	queueSize   int
	workerCount int
	dedupeSize  int
	busBuffer   int
	now         func() time.Time

	started bool
	logger  logger.Logger
}

// New creates a Service. Nothing runs until Start.
func New(opts ...Option) *Service {
	s := &Service{
		driver:      config.DriverMemory,
		maxRetries:  8,
		retryBase:   2 * time.Millisecond,
		timerTick:   100 * time.Millisecond,
		queueSize:   1024,
		workerCount: runtime.NumCPU(),
		dedupeSize:  50_000,
		busBuffer:   16,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens the store and starts the background components. Records left
// running by a previous process get their cap timers back.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.logger.Info(ctx, "starting scoring service...", logger.String("store", s.driver))

	if s.store == nil {
		store, err := s.openStore(ctx)
		if err != nil {
			return err
		}
		s.store = store
	}

	s.bus = bus.New(bus.WithBuffer(s.busBuffer))
	s.engine = engine.New(s.store,
		engine.WithPublisher(s.bus),
		engine.WithMaxRetries(s.maxRetries),
		engine.WithRetryBase(s.retryBase),
		engine.WithClock(s.now),
	)

	s.queue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	wopts := []worker.Option{}
	if s.alerter != nil {
		wopts = append(wopts, worker.WithAlerter(s.alerter))
	}
	s.pool = worker.NewPool(s.workerCount, s.queue, s.engine, wopts...)
	s.pool.Start(ctx)

	s.timers = timer.NewCoordinator(s.bus, s.engine, s.queue,
		timer.WithTick(s.timerTick),
		timer.WithClock(s.now),
	)
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.hub = leaderboard.NewHub(s.bus, s.engine)

	running, err := s.store.ListRunning(ctx)
	if err != nil {
		s.logger.Warn(ctx, "could not list running records", logger.Error(err))
	}
	for _, rec := range running {
		if err := s.timers.Watch(rec); err != nil {
			s.logger.Warn(ctx, "could not re-arm timer", logger.String("score_id", rec.ID()), logger.Error(err))
		}
	}

	s.started = true
	s.logger.Info(ctx, "scoring service started",
		logger.Int("workers", s.pool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Int("timersRearmed", len(running)),
	)
	return nil
}

func (s *Service) openStore(ctx context.Context) (repository.Store, error) {
	switch s.driver {
	case config.DriverSQLite:
		return repository.OpenSQLite(ctx, s.sqlitePath)
	case config.DriverPostgres:
		return repository.OpenPostgres(ctx, s.postgresDSN)
	case config.DriverMemory, "":
		return repository.NewMemoryStore(ctx), nil
	}
	return nil, fmt.Errorf("%w: unknown store driver %q", config.ErrInvalidConfig, s.driver)
}

// Stop stops timers first so no new jobs arrive, drains the auto-finish
// queue, then closes the fan-out and the store.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping scoring service...")

	var errs []error
	s.timers.Close()
	if err := s.pool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("worker pool: %w", err))
	}
	s.hub.Close()
	if err := s.bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("bus: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}

	s.started = false
	s.logger.Info(ctx, "scoring service stopped")
	return errors.Join(errs...)
}

// Engine returns the score engine. It is nil before Start.
func (s *Service) Engine() *engine.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// Hub returns the live leaderboard hub. It is nil before Start.
func (s *Service) Hub() *leaderboard.Hub {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hub
}

// Bus returns the change event bus. It is nil before Start.
func (s *Service) Bus() *bus.Bus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bus
}

// Execute runs one judge command. A non-empty key makes the command
// idempotent: a retry with the same key returns the first outcome with
// duplicate set and is not applied again. A record left running gets a
// cap timer.
func (s *Service) Execute(ctx context.Context, key string, fn func(context.Context, *engine.Engine) (engine.Result, error)) (res engine.Result, duplicate bool, err error) {
	eng, err := s.running()
	if err != nil {
		return engine.Result{}, false, err
	}
	res, duplicate, err = once(ctx, s.deduper, key, func() (engine.Result, error) { return fn(ctx, eng) })
	if err == nil && !duplicate {
		s.watch(ctx, res)
	}
	return res, duplicate, err
}

// ExecuteHeat is Execute for heat-wide commands.
func (s *Service) ExecuteHeat(ctx context.Context, key string, fn func(context.Context, *engine.Engine) (engine.HeatResult, error)) (res engine.HeatResult, duplicate bool, err error) {
	eng, err := s.running()
	if err != nil {
		return engine.HeatResult{}, false, err
	}
	res, duplicate, err = once(ctx, s.deduper, key, func() (engine.HeatResult, error) { return fn(ctx, eng) })
	if !duplicate {
		// Partial heats still arm the records that did start.
		for _, r := range res.Results {
			s.watch(ctx, r)
		}
	}
	return res, duplicate, err
}

func (s *Service) running() (*engine.Engine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.engine, nil
}

func (s *Service) watch(ctx context.Context, res engine.Result) {
	if res.Record == nil {
		return
	}
	if err := s.timers.Watch(res.Record); err != nil {
		s.logger.Warn(ctx, "could not arm timer", logger.String("score_id", res.Record.ID()), logger.Error(err))
	}
}

func once[T any](ctx context.Context, d dedupe.Deduper, key string, fn func() (T, error)) (T, bool, error) {
	var zero T
	if key == "" {
		v, err := fn()
		return v, false, err
	}
	if d.SeenAndRecord(ctx, key) {
		metrics.RecordCommandDuplicate()
		prev, done := d.Outcome(ctx, key)
		if !done {
			return zero, true, ErrCommandInFlight
		}
		v, _ := prev.(T)
		return v, true, nil
	}
	v, err := fn()
	if err != nil {
		d.Unrecord(ctx, key)
		return v, false, err
	}
	d.Complete(ctx, key, v)
	return v, false, nil
}

// Stats reports component sizes for the operator endpoint.
func (s *Service) Stats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":     s.started,
		"store":       s.driver,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
	}
	if !s.started {
		return stats
	}
	if n, err := s.store.Count(ctx); err == nil {
		stats["records"] = n
		metrics.UpdateRecordsTotal(n)
	}
	stats["queueLength"] = s.queue.Len(ctx)
	stats["timers"] = s.timers.Active()
	stats["boards"] = s.hub.Active()
	stats["commandsRemembered"] = s.deduper.Size()
	return stats
}
