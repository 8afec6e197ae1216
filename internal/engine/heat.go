package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/wodboard/internal/domain/model"
	"github.com/okian/wodboard/pkg/logger"
)

// HeatResult reports a heat-wide command per record.
type HeatResult struct {
	Epoch   int64    `json:"epoch"`
	Results []Result `json:"results"`
}

// StartHeat starts every record of the workout in category on one shared
// epoch (at, or now). Records already running or terminal are skipped by
// Start's own guards.
func (e *Engine) StartHeat(ctx context.Context, workoutID string, category model.Category, at *int64, judgeID string) (HeatResult, error) {
	epoch := e.Now()
	if at != nil {
		epoch = *at
	}
	return e.eachInHeat(ctx, workoutID, category, epoch, func(rec *model.ScoreRecord) (Result, error) {
		return e.Start(ctx, rec.ID(), &epoch, judgeID)
	})
}

// FinishHeat finishes every record of the workout in category at one
// instant. Running records get at - startedAt, capped; paused records keep
// their clock.
func (e *Engine) FinishHeat(ctx context.Context, workoutID string, category model.Category, at *int64, judgeID string) (HeatResult, error) {
	epoch := e.Now()
	if at != nil {
		epoch = *at
	}
	return e.eachInHeat(ctx, workoutID, category, epoch, func(rec *model.ScoreRecord) (Result, error) {
		var elapsed *int64
		if rec.Status == model.StatusRunning && rec.StartedAt != nil {
			elapsed = model.Int64Ptr(max(0, epoch-*rec.StartedAt))
		}
		return e.Finish(ctx, rec.ID(), elapsed, judgeID)
	})
}

func (e *Engine) eachInHeat(ctx context.Context, workoutID string, category model.Category, epoch int64, fn func(*model.ScoreRecord) (Result, error)) (HeatResult, error) {
	if workoutID == "" || category == "" {
		return HeatResult{}, fmt.Errorf("heat: %w: workout and category are required", ErrInvalidArgument)
	}
	recs, err := e.ListWorkout(ctx, workoutID)
	if err != nil {
		return HeatResult{}, err
	}

	out := HeatResult{Epoch: epoch, Results: make([]Result, 0, len(recs))}
	var errs []error
	for _, rec := range recs {
		if rec.Category != category {
			continue
		}
		res, err := fn(rec)
		if err != nil {
			e.log.Error(ctx, "heat command failed", logger.String("score_id", rec.ID()), logger.Error(err))
			errs = append(errs, err)
			continue
		}
		out.Results = append(out.Results, res)
	}
	return out, errors.Join(errs...)
}
