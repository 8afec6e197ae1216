// Package api exposes the scoring engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/okian/wodboard/internal/domain/model"
	"github.com/okian/wodboard/internal/engine"
	"github.com/okian/wodboard/internal/leaderboard"
	"github.com/okian/wodboard/pkg/logger"
)

const (
	headerJudge       = "X-Judge-ID"
	headerIdempotency = "Idempotency-Key"
	maxBodyBytes      = 1 << 20
)

// Dependencies is what the handlers need from the running service.
type Dependencies interface {
	Execute(ctx context.Context, key string, fn func(context.Context, *engine.Engine) (engine.Result, error)) (engine.Result, bool, error)
	ExecuteHeat(ctx context.Context, key string, fn func(context.Context, *engine.Engine) (engine.HeatResult, error)) (engine.HeatResult, bool, error)
	Engine() *engine.Engine
	Hub() *leaderboard.Hub
	Stats(ctx context.Context) map[string]any
}

// Server wires HTTP routes for the scoring API.
type Server struct {
	deps    Dependencies
	alerter Alerter
	log     logger.Logger
}

// NewServer creates a new API server. alerter may be nil.
func NewServer(deps Dependencies, alerter Alerter) *Server {
	return &Server{deps: deps, alerter: alerter, log: logger.Get().Named("api")}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	handle := func(pattern, endpoint string, h http.HandlerFunc) {
		mux.Handle(pattern, RecoverMiddleware(MetricsMiddleware(h, endpoint), s.alerter))
	}

	handle("GET /healthz", "healthz", s.handleHealth)
	handle("GET /stats", "stats", s.handleStats)

	handle("POST /scores", "scores_ensure", s.handleEnsure)
	handle("GET /scores/{id}", "scores_get", s.handleGetScore)
	handle("POST /scores/{id}/reps", "scores_reps", s.handleReps)
	handle("POST /scores/{id}/noreps", "scores_noreps", s.handleNoReps)
	handle("POST /scores/{id}/load", "scores_load", s.handleLoad)
	handle("POST /scores/{id}/start", "scores_start", s.handleStart)
	handle("POST /scores/{id}/stop", "scores_stop", s.handleStop)
	handle("POST /scores/{id}/finish", "scores_finish", s.handleFinish)
	handle("POST /scores/{id}/dnf", "scores_dnf", s.handleDNF)

	handle("POST /heats/start", "heats_start", s.handleStartHeat)
	handle("POST /heats/finish", "heats_finish", s.handleFinishHeat)

	handle("GET /workouts/{id}/leaderboard", "leaderboard", s.handleLeaderboard)
	handle("GET /workouts/{id}/leaderboard/stream", "leaderboard_stream", s.handleLeaderboardStream)
	handle("GET /workouts/{id}/leaderboard.xlsx", "leaderboard_xlsx", s.handleLeaderboardXLSX)
	handle("GET /workouts/{id}/heat", "heat", s.handleHeat)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// fail maps err to a status and logs server-side failures.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.Error(r.Context(), "request failed",
			logger.String("op", op), logger.String("path", r.URL.Path), logger.Error(err))
	}
	writeError(w, status, code, err)
}

// decode reads an optional JSON body into v. An empty body leaves v as is.
func decode(r *http.Request, op string, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return badRequest(op, err)
	}
	return nil
}

// commandKey scopes an idempotency key to the route so the same key sent
// to two records means two commands.
func commandKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get(headerIdempotency))
	if key == "" {
		return ""
	}
	return fmt.Sprintf("%s %s %s", key, r.Method, r.URL.Path)
}

func judgeOf(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(headerJudge))
}

func categoryParam(r *http.Request) model.Category {
	return model.Category(strings.TrimSpace(r.URL.Query().Get("category")))
}
