package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/okian/wodboard/internal/adapters/export"
	service "github.com/okian/wodboard/internal/app"
	"github.com/okian/wodboard/internal/domain/model"
	"github.com/okian/wodboard/internal/domain/types"
	"github.com/okian/wodboard/internal/leaderboard"
	"github.com/okian/wodboard/pkg/logger"
)

const (
	formatText = "text"
	xlsxType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// handleLeaderboard handles GET /workouts/{id}/leaderboard?category=&limit=&format=.
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.leaderboard"
	hub := s.deps.Hub()
	if hub == nil {
		s.fail(w, r, op, service.ErrNotStarted)
		return
	}
	limit, err := limitParam(r, op)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	board, err := hub.Snapshot(r.Context(), r.PathValue("id"), categoryParam(r))
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	if limit > 0 && limit < len(board.Rows) {
		board.Rows = board.Rows[:limit]
	}
	if r.URL.Query().Get("format") == formatText {
		var buf bytes.Buffer
		if err := leaderboard.Render(&buf, board); err != nil {
			s.fail(w, r, op, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write(buf.Bytes())
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func limitParam(r *http.Request, op string) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, badRequest(op, fmt.Errorf("limit must be a positive integer, got %q", raw))
	}
	return n, nil
}

// handleLeaderboardStream pushes every new board as a server-sent event.
// The first event is the current board, so a reconnecting client resyncs
// without asking.
func (s *Server) handleLeaderboardStream(w http.ResponseWriter, r *http.Request) {
	const op = "api.leaderboard_stream"
	hub := s.deps.Hub()
	if hub == nil {
		s.fail(w, r, op, service.ErrNotStarted)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.fail(w, r, op, errors.New("streaming unsupported"))
		return
	}
	ctx := r.Context()
	boards, err := hub.Watch(ctx, r.PathValue("id"), categoryParam(r))
	if err != nil {
		s.fail(w, r, op, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case b, open := <-boards:
			if !open {
				return
			}
			if err := writeEvent(w, b); err != nil {
				s.log.Debug(ctx, "stream closed", logger.String("workout", b.WorkoutID), logger.Error(err))
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, b types.Board) error { //nolint:gocritic // hugeParam
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: board\ndata: %s\n\n", b.Seq, data)
	return err
}

// handleLeaderboardXLSX writes one sheet per category, or a single sheet
// when a category is requested.
func (s *Server) handleLeaderboardXLSX(w http.ResponseWriter, r *http.Request) {
	const op = "api.leaderboard_xlsx"
	hub := s.deps.Hub()
	if hub == nil {
		s.fail(w, r, op, service.ErrNotStarted)
		return
	}
	ctx := r.Context()
	workoutID := r.PathValue("id")

	categories := []model.Category{categoryParam(r)}
	if categories[0] == "" {
		all, err := hub.Snapshot(ctx, workoutID, "")
		if err != nil {
			s.fail(w, r, op, err)
			return
		}
		categories = categoriesOf(all)
	}

	sheets := make([]export.Sheet, 0, len(categories))
	for _, c := range categories {
		b, err := hub.Snapshot(ctx, workoutID, c)
		if err != nil {
			s.fail(w, r, op, err)
			return
		}
		sheets = append(sheets, export.Sheet{Title: string(c), Board: b})
	}

	var buf bytes.Buffer
	if err := export.WriteLeaderboards(&buf, sheets); err != nil {
		s.fail(w, r, op, err)
		return
	}
	w.Header().Set("Content-Type", xlsxType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", workoutID+".xlsx"))
	_, _ = w.Write(buf.Bytes())
}

// categoriesOf lists the categories present on b, sorted. An empty board
// still yields one empty category so the workbook has a sheet.
func categoriesOf(b types.Board) []model.Category { //nolint:gocritic // hugeParam
	seen := make(map[model.Category]bool)
	var out []model.Category
	for _, row := range b.Rows {
		if !seen[row.Category] {
			seen[row.Category] = true
			out = append(out, row.Category)
		}
	}
	if len(out) == 0 {
		return []model.Category{""}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// handleHeat handles GET /workouts/{id}/heat.
func (s *Server) handleHeat(w http.ResponseWriter, r *http.Request) {
	const op = "api.heat"
	hub := s.deps.Hub()
	if hub == nil {
		s.fail(w, r, op, service.ErrNotStarted)
		return
	}
	heat, err := hub.Heat(r.Context(), r.PathValue("id"), categoryParam(r))
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, heat)
}
