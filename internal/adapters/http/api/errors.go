package api

import (
	"errors"
	"fmt"
	"net/http"

	service "github.com/okian/wodboard/internal/app"
	"github.com/okian/wodboard/internal/engine"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest = errors.New("bad request")
)

// badRequest wraps err as a client error for op.
func badRequest(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrBadRequest, err)
}

// statusOf maps the error taxonomy onto HTTP. Unknown errors are 500.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, engine.ErrInvalidArgument):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, service.ErrCommandInFlight):
		return http.StatusConflict, "in_flight"
	case errors.Is(err, engine.ErrTransient):
		return http.StatusServiceUnavailable, "contended"
	case errors.Is(err, service.ErrNotStarted):
		return http.StatusServiceUnavailable, "not_started"
	case errors.Is(err, engine.ErrStoreUnavailable):
		return http.StatusInternalServerError, "store_unavailable"
	}
	return http.StatusInternalServerError, "internal_error"
}
