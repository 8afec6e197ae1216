// Package engine applies judge commands to score records.
//
// Every operation is one optimistic transaction: read the record, decide,
// recompute the rank key, and swap it in only if nobody wrote in between.
// Conflicts are retried with exponential backoff. Operations that do not
// apply to the record's state (anything after finish or DNF, starting a
// running clock) are silent no-ops so late or repeated commands are safe.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/okian/wodboard/internal/adapters/mq/bus"
	"github.com/okian/wodboard/internal/adapters/repository"
	"github.com/okian/wodboard/internal/domain/model"
	"github.com/okian/wodboard/internal/domain/rankkey"
	"github.com/okian/wodboard/internal/timer"
	"github.com/okian/wodboard/pkg/logger"
	"github.com/okian/wodboard/pkg/metrics"
)

// Operation names, used in events, logs and metrics.
const (
	OpEnsure = "ensure"
	OpReps   = "reps"
	OpNoReps = "noreps"
	OpLoad   = "load"
	OpStart  = "start"
	OpStop   = "stop"
	OpFinish = "finish"
	OpDNF    = "dnf"

	OpAutoFinish = "auto_finish"
)

const (
	defaultMaxRetries = 8
	defaultRetryBase  = 2 * time.Millisecond
	maxRetryInterval  = 250 * time.Millisecond
)

// Publisher receives every committed snapshot.
type Publisher interface {
	Publish(ctx context.Context, ev bus.Event) error
}

// Result is the outcome of one command. Record is the committed state,
// or the unchanged state when Applied is false.
type Result struct {
	Record  *model.ScoreRecord `json:"record"`
	Applied bool               `json:"applied"`
}

// Engine runs score transactions against a store.
type Engine struct {
	store      repository.Store
	pub        Publisher
	now        func() time.Time
	maxRetries int
	retryBase  time.Duration
	log        logger.Logger
}

// New creates an Engine over store.
func New(store repository.Store, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		now:        time.Now,
		maxRetries: defaultMaxRetries,
		retryBase:  defaultRetryBase,
		log:        logger.Get().Named("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now returns the engine clock in epoch milliseconds.
func (e *Engine) Now() int64 { return e.now().UnixMilli() }

// EnsureParams describes a record to create.
type EnsureParams struct {
	Identity    model.Identity
	WorkoutName string
	TeamName    string
	ScoringMode model.ScoringMode
	CapSeconds  *int64
	JudgeID     string
}

// Ensure creates the record if it does not exist. An existing record is
// returned untouched with Applied false.
func (e *Engine) Ensure(ctx context.Context, p EnsureParams) (Result, error) {
	if err := p.Identity.Validate(); err != nil {
		return Result{}, fmt.Errorf("%s: %w: %w", OpEnsure, ErrInvalidArgument, err)
	}
	if !p.ScoringMode.Valid() {
		return Result{}, fmt.Errorf("%s: %w: scoring mode %q", OpEnsure, ErrInvalidArgument, p.ScoringMode)
	}
	if p.CapSeconds != nil && *p.CapSeconds < 0 {
		return Result{}, fmt.Errorf("%s: %w: negative cap", OpEnsure, ErrInvalidArgument)
	}

	ctx = context.WithoutCancel(ctx)
	now := e.Now()
	rec := &model.ScoreRecord{
		Identity:       p.Identity,
		WorkoutName:    p.WorkoutName,
		TeamName:       p.TeamName,
		ScoringMode:    p.ScoringMode,
		Status:         model.StatusNotStarted,
		Attempts:       []model.Attempt{},
		CapSeconds:     p.CapSeconds,
		JudgeID:        p.JudgeID,
		CreatedAtEpoch: now,
		UpdatedAtEpoch: now,
		Version:        1,
	}
	rankkey.Apply(rec)

	stored, created, err := e.store.Create(ctx, rec)
	if err != nil {
		metrics.RecordMutation(OpEnsure, "error")
		return Result{}, fmt.Errorf("%s: %w", OpEnsure, storeError(err))
	}
	if !created {
		metrics.RecordMutation(OpEnsure, "noop")
		return Result{Record: stored}, nil
	}
	metrics.RecordMutation(OpEnsure, "applied")
	e.publish(ctx, OpEnsure, stored)
	return Result{Record: stored, Applied: true}, nil
}

// Get returns the current record.
func (e *Engine) Get(ctx context.Context, id string) (*model.ScoreRecord, error) {
	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, storeError(err))
	}
	return rec, nil
}

// Rank returns the 1-based position of a record within its workout.
func (e *Engine) Rank(ctx context.Context, id string) (int, error) {
	n, err := e.store.Rank(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("rank %s: %w", id, storeError(err))
	}
	return n, nil
}

// ListWorkout returns the workout's records in rank order.
func (e *Engine) ListWorkout(ctx context.Context, workoutID string) ([]*model.ScoreRecord, error) {
	recs, err := e.store.ListByWorkout(ctx, workoutID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", workoutID, storeError(err))
	}
	return recs, nil
}

// IncrementReps adds delta reps. Non-positive deltas and terminal records
// are no-ops, which keeps reps monotone.
func (e *Engine) IncrementReps(ctx context.Context, id string, delta int64, judgeID string) (Result, error) {
	return e.mutate(ctx, OpReps, id, judgeID, func(r *model.ScoreRecord, _ int64) bool {
		if r.Status.Terminal() || delta <= 0 {
			return false
		}
		r.Reps += delta
		return true
	})
}

// IncrementNoReps adds delta no-reps under the same rules as IncrementReps.
func (e *Engine) IncrementNoReps(ctx context.Context, id string, delta int64, judgeID string) (Result, error) {
	return e.mutate(ctx, OpNoReps, id, judgeID, func(r *model.ScoreRecord, _ int64) bool {
		if r.Status.Terminal() || delta <= 0 {
			return false
		}
		r.NoReps += delta
		return true
	})
}

// AddLoadAttempt logs a lift. Successful lifts raise maxLoadKg, never lower it.
func (e *Engine) AddLoadAttempt(ctx context.Context, id string, loadKg float64, success bool, judgeID string) (Result, error) {
	if math.IsNaN(loadKg) || math.IsInf(loadKg, 0) || loadKg < 0 {
		return Result{}, fmt.Errorf("%s %s: %w: load %v", OpLoad, id, ErrInvalidArgument, loadKg)
	}
	return e.mutate(ctx, OpLoad, id, judgeID, func(r *model.ScoreRecord, now int64) bool {
		if r.Status.Terminal() {
			return false
		}
		r.Attempts = append(r.Attempts, model.Attempt{At: now, LoadKg: loadKg, Success: success})
		if success && (r.MaxLoadKg == nil || loadKg > *r.MaxLoadKg) {
			r.MaxLoadKg = model.Float64Ptr(loadKg)
		}
		return true
	})
}

// Start runs the clock. startedAt, when set, is the shared epoch of a mass
// start. Resuming a paused record shifts startedAt back by the time already
// on the clock, so elapsed time continues instead of resetting.
func (e *Engine) Start(ctx context.Context, id string, startedAt *int64, judgeID string) (Result, error) {
	return e.mutate(ctx, OpStart, id, judgeID, func(r *model.ScoreRecord, now int64) bool {
		if r.Status == model.StatusRunning || r.Status.Terminal() {
			return false
		}
		at := now
		if startedAt != nil {
			at = *startedAt
		}
		if r.Status == model.StatusPaused && r.FinalTimeMs != nil {
			at = timer.ResumeStartedAt(r.FinalTimeMs, at)
			r.FinalTimeMs = nil
		}
		r.StartedAt = model.Int64Ptr(at)
		r.Status = model.StatusRunning
		return true
	})
}

// Stop pauses the clock and stores the elapsed time as a provisional
// finalTimeMs. A paused record still ranks as unfinished.
func (e *Engine) Stop(ctx context.Context, id string, judgeID string) (Result, error) {
	return e.mutate(ctx, OpStop, id, judgeID, func(r *model.ScoreRecord, now int64) bool {
		if r.Status == model.StatusPaused || r.Status.Terminal() {
			return false
		}
		if r.Status == model.StatusRunning && r.StartedAt != nil {
			r.FinalTimeMs = model.Int64Ptr(clampElapsed(now-*r.StartedAt, 0))
		}
		r.Status = model.StatusPaused
		return true
	})
}

// Finish closes the record. In time mode the time is elapsedMs when given
// and non-negative, else the running clock, else the paused clock. It is
// clamped to the cap. Other modes carry no time.
func (e *Engine) Finish(ctx context.Context, id string, elapsedMs *int64, judgeID string) (Result, error) {
	return e.mutate(ctx, OpFinish, id, judgeID, func(r *model.ScoreRecord, now int64) bool {
		if r.Status.Terminal() {
			return false
		}
		if r.ScoringMode == model.ModeTime {
			switch {
			case elapsedMs != nil && *elapsedMs >= 0:
				r.FinalTimeMs = model.Int64Ptr(*elapsedMs)
			case r.Status == model.StatusRunning && r.StartedAt != nil:
				r.FinalTimeMs = model.Int64Ptr(now - *r.StartedAt)
			}
			if r.FinalTimeMs != nil {
				r.FinalTimeMs = model.Int64Ptr(clampElapsed(*r.FinalTimeMs, r.CapMs()))
			}
		} else {
			r.FinalTimeMs = nil
		}
		r.Status = model.StatusFinished
		return true
	})
}

// AutoFinish finishes a record whose running clock has used its whole cap,
// with the cap as its time. The check is made against the committed state,
// so a record paused, finished or restarted since the cap was observed is
// left alone.
func (e *Engine) AutoFinish(ctx context.Context, id string, judgeID string) (Result, error) {
	return e.mutate(ctx, OpAutoFinish, id, judgeID, func(r *model.ScoreRecord, now int64) bool {
		if !timer.CapReached(r, now) {
			return false
		}
		r.FinalTimeMs = nil
		if r.ScoringMode == model.ModeTime {
			r.FinalTimeMs = model.Int64Ptr(r.CapMs())
		}
		r.Status = model.StatusFinished
		return true
	})
}

// MarkDNF ends the record without a result. It keeps ranking by reps.
func (e *Engine) MarkDNF(ctx context.Context, id string, judgeID string) (Result, error) {
	return e.mutate(ctx, OpDNF, id, judgeID, func(r *model.ScoreRecord, _ int64) bool {
		if r.Status.Terminal() {
			return false
		}
		r.Status = model.StatusDNF
		r.FinalTimeMs = nil
		return true
	})
}

// clampElapsed keeps a time within [0, capMs]; capMs 0 means no cap.
func clampElapsed(ms, capMs int64) int64 {
	if ms < 0 {
		return 0
	}
	if capMs > 0 && ms > capMs {
		return capMs
	}
	return ms
}

// mutate runs one read-decide-swap transaction with conflict retries.
// apply reports whether the command changes the record.
func (e *Engine) mutate(ctx context.Context, op, id, judgeID string, apply func(r *model.ScoreRecord, now int64) bool) (Result, error) {
	// Once started, a transaction runs to completion; only the caller's
	// wait is cancellable.
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	defer func() {
		metrics.RecordTransactionLatency(op, float64(time.Since(start).Microseconds())/1000)
	}()

	var res Result
	attempt := func() error {
		cur, err := e.store.Get(ctx, id)
		if err != nil {
			return backoff.Permanent(storeError(err))
		}
		now := e.Now()
		next := cur.Clone()
		if !apply(&next, now) {
			res = Result{Record: cur}
			return nil
		}
		next.UpdatedAtEpoch = max(now, cur.UpdatedAtEpoch)
		next.Version = cur.Version + 1
		if judgeID != "" {
			next.JudgeID = judgeID
		}
		rankkey.Apply(&next)

		err = e.store.CompareAndSwap(ctx, &next, cur.Version)
		if errors.Is(err, repository.ErrConflict) {
			metrics.RecordConflict(op)
			return err
		}
		if err != nil {
			return backoff.Permanent(storeError(err))
		}
		res = Result{Record: &next, Applied: true}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.retryBase
	policy.MaxInterval = maxRetryInterval
	policy.MaxElapsedTime = 0
	notify := func(err error, wait time.Duration) {
		metrics.RecordRetry()
		e.log.Debug(ctx, "retrying score transaction",
			logger.String("op", op), logger.String("score_id", id),
			logger.Duration("wait", wait), logger.Error(err))
	}

	err := backoff.RetryNotify(attempt, backoff.WithMaxRetries(policy, uint64(e.maxRetries)), notify)
	switch {
	case errors.Is(err, repository.ErrConflict):
		metrics.RecordMutation(op, "error")
		metrics.RecordErrorByComponent("engine", "transient")
		e.log.Warn(ctx, "score transaction gave up after conflicts",
			logger.String("op", op), logger.String("score_id", id), logger.Int("retries", e.maxRetries))
		return Result{}, fmt.Errorf("%s %s: %w", op, id, ErrTransient)
	case err != nil:
		metrics.RecordMutation(op, "error")
		if errors.Is(err, ErrStoreUnavailable) {
			metrics.RecordErrorByComponent("engine", "store_unavailable")
			e.log.Error(ctx, "score transaction failed",
				logger.String("op", op), logger.String("score_id", id), logger.Error(err))
		}
		return Result{}, fmt.Errorf("%s %s: %w", op, id, err)
	}

	if !res.Applied {
		metrics.RecordMutation(op, "noop")
		return res, nil
	}
	metrics.RecordMutation(op, "applied")
	e.publish(ctx, op, res.Record)
	return res, nil
}

func (e *Engine) publish(ctx context.Context, op string, rec *model.ScoreRecord) {
	if e.pub == nil {
		return
	}
	if err := e.pub.Publish(ctx, bus.NewEvent(op, rec)); err != nil {
		// The write is committed; subscribers resync from the store.
		e.log.Warn(ctx, "publish failed", logger.String("op", op),
			logger.String("score_id", rec.ID()), logger.Error(err))
	}
}

// storeError maps repository errors onto the engine taxonomy.
func storeError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrConflict):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
}
