package api

import (
	"context"
	"errors"
	"net/http"

	service "github.com/okian/wodboard/internal/app"
	"github.com/okian/wodboard/internal/domain/model"
	"github.com/okian/wodboard/internal/engine"
	"github.com/okian/wodboard/internal/timer"
)

type ensureRequest struct {
	Workout    model.Workout  `json:"workout"`
	Team       model.Team     `json:"team"`
	Category   model.Category `json:"category"`
	CapSeconds *int64         `json:"capSeconds,omitempty"`
}

type commandResponse struct {
	Record    *model.ScoreRecord `json:"record"`
	Applied   bool               `json:"applied"`
	Duplicate bool               `json:"duplicate"`
}

type scoreResponse struct {
	Record    *model.ScoreRecord `json:"record"`
	Rank      int                `json:"rank"`
	DisplayMs int64              `json:"displayMs"`
}

type deltaRequest struct {
	Delta *int64 `json:"delta,omitempty"`
}

type loadRequest struct {
	LoadKg  *float64 `json:"loadKg"`
	Success bool     `json:"success"`
}

type startRequest struct {
	StartedAt *int64 `json:"startedAt,omitempty"`
}

type finishRequest struct {
	ElapsedMs *int64 `json:"elapsedMs,omitempty"`
}

// handleEnsure handles POST /scores. The category comes from the body, then
// the team, then the workout; the cap from the body or the workout blocks.
func (s *Server) handleEnsure(w http.ResponseWriter, r *http.Request) {
	const op = "api.ensure"
	var req ensureRequest
	if err := decode(r, op, &req); err != nil {
		s.fail(w, r, op, err)
		return
	}
	category := req.Category
	if category == "" {
		category = req.Team.Category
	}
	if category == "" {
		category = req.Workout.Category
	}
	capSeconds := req.CapSeconds
	if capSeconds == nil {
		capSeconds = req.Workout.CapSeconds()
	}
	if !req.Workout.ScoringMode.Valid() {
		s.fail(w, r, op, badRequest(op, errors.New("workout.scoringMode must be time, reps or load")))
		return
	}
	params := engine.EnsureParams{
		Identity:    model.Identity{WorkoutID: req.Workout.ID, TeamID: req.Team.ID, Category: category},
		WorkoutName: req.Workout.Name,
		TeamName:    req.Team.Name,
		ScoringMode: req.Workout.ScoringMode,
		CapSeconds:  capSeconds,
		JudgeID:     judgeOf(r),
	}
	res, dup, err := s.deps.Execute(r.Context(), commandKey(r), func(ctx context.Context, e *engine.Engine) (engine.Result, error) {
		return e.Ensure(ctx, params)
	})
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	status := http.StatusOK
	if res.Applied && !dup {
		status = http.StatusCreated
	}
	writeJSON(w, status, commandResponse{Record: res.Record, Applied: res.Applied, Duplicate: dup})
}

// handleGetScore handles GET /scores/{id}.
func (s *Server) handleGetScore(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_score"
	eng := s.deps.Engine()
	if eng == nil {
		s.fail(w, r, op, service.ErrNotStarted)
		return
	}
	id := r.PathValue("id")
	rec, err := eng.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	rank, err := eng.Rank(r.Context(), id)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, scoreResponse{Record: rec, Rank: rank, DisplayMs: timer.Display(rec, eng.Now())})
}

func (s *Server) handleReps(w http.ResponseWriter, r *http.Request) {
	s.handleDelta(w, r, "api.reps", (*engine.Engine).IncrementReps)
}

func (s *Server) handleNoReps(w http.ResponseWriter, r *http.Request) {
	s.handleDelta(w, r, "api.noreps", (*engine.Engine).IncrementNoReps)
}

type deltaFunc func(e *engine.Engine, ctx context.Context, id string, delta int64, judgeID string) (engine.Result, error)

// handleDelta serves rep and no-rep increments. The delta defaults to 1.
func (s *Server) handleDelta(w http.ResponseWriter, r *http.Request, op string, fn deltaFunc) {
	var req deltaRequest
	if err := decode(r, op, &req); err != nil {
		s.fail(w, r, op, err)
		return
	}
	delta := int64(1)
	if req.Delta != nil {
		delta = *req.Delta
	}
	id, judge := r.PathValue("id"), judgeOf(r)
	s.command(w, r, op, func(ctx context.Context, e *engine.Engine) (engine.Result, error) {
		return fn(e, ctx, id, delta, judge)
	})
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	const op = "api.load"
	var req loadRequest
	if err := decode(r, op, &req); err != nil {
		s.fail(w, r, op, err)
		return
	}
	if req.LoadKg == nil {
		s.fail(w, r, op, badRequest(op, errors.New("loadKg is required")))
		return
	}
	id, judge := r.PathValue("id"), judgeOf(r)
	s.command(w, r, op, func(ctx context.Context, e *engine.Engine) (engine.Result, error) {
		return e.AddLoadAttempt(ctx, id, *req.LoadKg, req.Success, judge)
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	const op = "api.start"
	var req startRequest
	if err := decode(r, op, &req); err != nil {
		s.fail(w, r, op, err)
		return
	}
	id, judge := r.PathValue("id"), judgeOf(r)
	s.command(w, r, op, func(ctx context.Context, e *engine.Engine) (engine.Result, error) {
		return e.Start(ctx, id, req.StartedAt, judge)
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id, judge := r.PathValue("id"), judgeOf(r)
	s.command(w, r, "api.stop", func(ctx context.Context, e *engine.Engine) (engine.Result, error) {
		return e.Stop(ctx, id, judge)
	})
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	const op = "api.finish"
	var req finishRequest
	if err := decode(r, op, &req); err != nil {
		s.fail(w, r, op, err)
		return
	}
	id, judge := r.PathValue("id"), judgeOf(r)
	s.command(w, r, op, func(ctx context.Context, e *engine.Engine) (engine.Result, error) {
		return e.Finish(ctx, id, req.ElapsedMs, judge)
	})
}

func (s *Server) handleDNF(w http.ResponseWriter, r *http.Request) {
	id, judge := r.PathValue("id"), judgeOf(r)
	s.command(w, r, "api.dnf", func(ctx context.Context, e *engine.Engine) (engine.Result, error) {
		return e.MarkDNF(ctx, id, judge)
	})
}

// command runs fn through the service and writes the acknowledgement.
// Invalid transitions still answer 200 with applied false.
func (s *Server) command(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, *engine.Engine) (engine.Result, error)) {
	res, dup, err := s.deps.Execute(r.Context(), commandKey(r), fn)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, commandResponse{Record: res.Record, Applied: res.Applied, Duplicate: dup})
}
