package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/okian/wodboard/internal/domain/model"
	"github.com/okian/wodboard/internal/engine"
	"github.com/okian/wodboard/pkg/logger"
)

type heatRequest struct {
	WorkoutID string         `json:"workoutId"`
	Category  model.Category `json:"category"`
	At        *int64         `json:"at,omitempty"`
}

type heatResponse struct {
	engine.HeatResult
	Duplicate bool           `json:"duplicate"`
	Error     *errorResponse `json:"error,omitempty"`
}

func (s *Server) handleStartHeat(w http.ResponseWriter, r *http.Request) {
	s.heat(w, r, "api.start_heat", (*engine.Engine).StartHeat)
}

func (s *Server) handleFinishHeat(w http.ResponseWriter, r *http.Request) {
	s.heat(w, r, "api.finish_heat", (*engine.Engine).FinishHeat)
}

type heatFunc func(e *engine.Engine, ctx context.Context, workoutID string, category model.Category, at *int64, judgeID string) (engine.HeatResult, error)

func (s *Server) heat(w http.ResponseWriter, r *http.Request, op string, fn heatFunc) {
	var req heatRequest
	if err := decode(r, op, &req); err != nil {
		s.fail(w, r, op, err)
		return
	}
	if req.WorkoutID == "" {
		s.fail(w, r, op, badRequest(op, errors.New("workoutId is required")))
		return
	}
	judge := judgeOf(r)
	res, dup, err := s.deps.ExecuteHeat(r.Context(), commandKey(r), func(ctx context.Context, e *engine.Engine) (engine.HeatResult, error) {
		return fn(e, ctx, req.WorkoutID, req.Category, req.At, judge)
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, heatResponse{HeatResult: res, Duplicate: dup})
	case res.Epoch != 0 || len(res.Results) > 0:
		// Some records committed; report them with the failure.
		status, code := statusOf(err)
		s.log.Error(r.Context(), "heat partly failed",
			logger.String("op", op), logger.String("workout_id", req.WorkoutID),
			logger.Int("committed", len(res.Results)), logger.Error(err))
		writeJSON(w, status, heatResponse{
			HeatResult: res,
			Error:      &errorResponse{Code: code, Message: err.Error()},
		})
	default:
		s.fail(w, r, op, err)
	}
}
