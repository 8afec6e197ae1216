// Package worker finishes records whose cap elapsed. Jobs come off the
// queue; each is retried with backoff and escalated when it keeps failing.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/okian/wodboard/internal/adapters/mq/queue"
	"github.com/okian/wodboard/internal/engine"
	"github.com/okian/wodboard/pkg/logger"
	"github.com/okian/wodboard/pkg/metrics"
)

// JudgeID marks writes made by the cap timer rather than a person.
const JudgeID = "system:auto-finish"

const (
	defaultMaxRetries  = 5
	defaultRetryBase   = 50 * time.Millisecond
	maxRetryInterval   = 2 * time.Second
	poolShutdownWindow = 30 * time.Second
)

// Finisher finishes one record if its cap is still reached when the
// write happens.
type Finisher interface {
	AutoFinish(ctx context.Context, id string, judgeID string) (engine.Result, error)
}

// Alerter is told about jobs that gave up.
type Alerter interface {
	Alert(ctx context.Context, err error, tags map[string]string)
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

type nopAlerter struct{}

func (nopAlerter) Alert(context.Context, error, map[string]string) {}

// InMemoryWorker processes auto-finish jobs.
type InMemoryWorker struct {
	queue      Queue
	finisher   Finisher
	alerter    Alerter
	name       string
	maxRetries int
	retryBase  time.Duration

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker.
func NewInMemoryWorker(q Queue, finisher Finisher, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:      q,
		finisher:   finisher,
		alerter:    nopAlerter{},
		name:       "worker",
		maxRetries: defaultMaxRetries,
		retryBase:  defaultRetryBase,
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run processes jobs until ctx is cancelled, Shutdown is called or the
// queue is drained after Close.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			_ = w.Process(ctx, job)
		}
	}
}

// Shutdown stops the worker after the job in hand.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	close(w.shutdown)
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Process finishes the job's record at its cap. The job only says the cap
// was seen; the finisher re-checks it, so a record paused or finished in
// the meantime is a no-op, not a failure.
func (w *InMemoryWorker) Process(ctx context.Context, job queue.Job) error {
	start := time.Now()
	defer func() {
		metrics.RecordJobLatency(float64(time.Since(start).Milliseconds()))
	}()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.retryBase
	b.MaxInterval = maxRetryInterval
	b.MaxElapsedTime = 0

	var res engine.Result
	op := func() error {
		var err error
		res, err = w.finisher.AutoFinish(ctx, job.ScoreID, JudgeID)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, engine.ErrNotFound), errors.Is(err, engine.ErrInvalidArgument):
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		w.logger.Debug(ctx, "auto-finish retry",
			logger.String("score_id", job.ScoreID),
			logger.Duration("next", next),
			logger.Error(err))
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(w.maxRetries)), ctx), notify)
	if err != nil {
		metrics.RecordAutoFinish("failed")
		metrics.RecordJobFailure()
		metrics.RecordErrorByComponent("worker", "auto_finish")
		w.logger.Error(ctx, "auto-finish failed",
			logger.String("score_id", job.ScoreID),
			logger.String("job_id", job.ID),
			logger.Int64("cap_ms", job.CapMs),
			logger.Error(err))
		w.alerter.Alert(ctx, fmt.Errorf("auto-finish %s: %w", job.ScoreID, err), map[string]string{
			"component": "auto-finish",
			"score_id":  job.ScoreID,
			"job_id":    job.ID,
		})
		return err
	}

	if res.Applied {
		metrics.RecordAutoFinish("applied")
		w.logger.Info(ctx, "record finished at cap",
			logger.String("score_id", job.ScoreID),
			logger.Int64("cap_ms", job.CapMs))
	} else {
		metrics.RecordAutoFinish("noop")
	}
	return nil
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates workerCount workers. A count below one scales with the CPUs.
func NewPool(workerCount int, q Queue, finisher Finisher, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}
	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		p.workers[i] = NewInMemoryWorker(q, finisher, wopts...)
	}
	return p
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	metrics.UpdateWorkerCount(len(p.workers))
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Shutdown closes the queue and waits for the workers to drain it.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, poolShutdownWindow)
	defer cancel()

	var errs []error
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			errs = append(errs, fmt.Errorf("worker %d: %w", i, ctx.Err()))
		}
	}
	metrics.UpdateWorkerCount(0)
	return errors.Join(errs...)
}
