package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/okian/wodboard/internal/domain/model"
)

const scoreColumns = `id, workout_id, team_id, category, workout_name, team_name,
	scoring_mode, status, reps, no_reps, max_load_kg, attempts,
	started_at, final_time_ms, cap_seconds, rank_primary, rank_secondary,
	judge_id, created_at_epoch, updated_at_epoch, version`

const rankOrder = `ORDER BY rank_primary ASC, rank_secondary ASC, id ASC`

// SQLStore is a Store over database/sql. Queries are written with ?
// placeholders and rebound for the driver.
type SQLStore struct {
	db     *sql.DB
	driver string
	dollar bool
}

var _ Store = (*SQLStore)(nil)

// DB exposes the pool for health checks.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Driver returns the database/sql driver name.
func (s *SQLStore) Driver() string { return s.driver }

// rebind rewrites ? placeholders as $n for Postgres.
func (s *SQLStore) rebind(q string) string {
	if !s.dollar {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, id string) (*model.ScoreRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+scoreColumns+` FROM scores WHERE id = ?`), id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get "+id, err)
	}
	return rec, nil
}

// Create implements Store.
func (s *SQLStore) Create(ctx context.Context, rec *model.ScoreRecord) (*model.ScoreRecord, bool, error) {
	args, err := recordArgs(rec)
	if err != nil {
		return nil, false, err
	}
	q := `INSERT INTO scores (` + scoreColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`
	res, err := s.db.ExecContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, false, unavailable("create "+rec.ID(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, unavailable("create "+rec.ID(), err)
	}
	stored, err := s.Get(ctx, rec.ID())
	if err != nil {
		return nil, false, err
	}
	return stored, n == 1, nil
}

// CompareAndSwap implements Store with a single conditional UPDATE.
func (s *SQLStore) CompareAndSwap(ctx context.Context, rec *model.ScoreRecord, expected int64) error {
	args, err := recordArgs(rec)
	if err != nil {
		return err
	}
	q := `UPDATE scores SET
		workout_id = ?, team_id = ?, category = ?, workout_name = ?, team_name = ?,
		scoring_mode = ?, status = ?, reps = ?, no_reps = ?, max_load_kg = ?, attempts = ?,
		started_at = ?, final_time_ms = ?, cap_seconds = ?, rank_primary = ?, rank_secondary = ?,
		judge_id = ?, created_at_epoch = ?, updated_at_epoch = ?, version = ?
		WHERE id = ? AND version = ?`
	// args[0] is the id; the SET list takes the rest in column order.
	setArgs := append(args[1:len(args):len(args)], rec.ID(), expected)
	res, err := s.db.ExecContext(ctx, s.rebind(q), setArgs...)
	if err != nil {
		return unavailable("swap "+rec.ID(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("swap "+rec.ID(), err)
	}
	if n == 1 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM scores WHERE id = ?`), rec.ID()).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return unavailable("swap "+rec.ID(), err)
	}
	return ErrConflict
}

// ListByWorkout implements Store.
func (s *SQLStore) ListByWorkout(ctx context.Context, workoutID string) ([]*model.ScoreRecord, error) {
	return s.list(ctx, "list "+workoutID,
		`SELECT `+scoreColumns+` FROM scores WHERE workout_id = ? `+rankOrder, workoutID)
}

// ListRunning implements Store.
func (s *SQLStore) ListRunning(ctx context.Context) ([]*model.ScoreRecord, error) {
	return s.list(ctx, "list running",
		`SELECT `+scoreColumns+` FROM scores WHERE status = ?`, string(model.StatusRunning))
}

func (s *SQLStore) list(ctx context.Context, op, q string, args ...any) ([]*model.ScoreRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	out := []*model.ScoreRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, unavailable(op, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return out, nil
}

// Rank implements Store by counting the records of the same workout
// category ordered at or before id.
func (s *SQLStore) Rank(ctx context.Context, id string) (int, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	q := `SELECT COUNT(*) FROM scores WHERE workout_id = ? AND category = ? AND (
		rank_primary < ? OR (rank_primary = ? AND (
			rank_secondary < ? OR (rank_secondary = ? AND id <= ?))))`
	var n int
	err = s.db.QueryRowContext(ctx, s.rebind(q), rec.WorkoutID, string(rec.Category),
		rec.RankPrimary, rec.RankPrimary, rec.RankSecondary, rec.RankSecondary, id).Scan(&n)
	if err != nil {
		return 0, unavailable("rank "+id, err)
	}
	return n, nil
}

// DeleteWorkout implements Store.
func (s *SQLStore) DeleteWorkout(ctx context.Context, workoutID string) (int, error) {
	return s.exec(ctx, "delete workout "+workoutID, `DELETE FROM scores WHERE workout_id = ?`, workoutID)
}

// DeleteTeam implements Store.
func (s *SQLStore) DeleteTeam(ctx context.Context, teamID string) (int, error) {
	return s.exec(ctx, "delete team "+teamID, `DELETE FROM scores WHERE team_id = ?`, teamID)
}

func (s *SQLStore) exec(ctx context.Context, op, q string, args ...any) (int, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(q), args...)
	if err != nil {
		return 0, unavailable(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable(op, err)
	}
	return int(n), nil
}

// Count implements Store.
func (s *SQLStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scores`).Scan(&n); err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}

// Close closes the pool.
func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.ScoreRecord, error) {
	var (
		rec                           model.ScoreRecord
		category, mode, status        string
		attempts                      []byte
		maxLoad                       sql.NullFloat64
		startedAt, finalTime, capSecs sql.NullInt64
		id                            string
	)
	err := row.Scan(&id, &rec.WorkoutID, &rec.TeamID, &category, &rec.WorkoutName, &rec.TeamName,
		&mode, &status, &rec.Reps, &rec.NoReps, &maxLoad, &attempts,
		&startedAt, &finalTime, &capSecs, &rec.RankPrimary, &rec.RankSecondary,
		&rec.JudgeID, &rec.CreatedAtEpoch, &rec.UpdatedAtEpoch, &rec.Version)
	if err != nil {
		return nil, err
	}
	rec.Category = model.Category(category)
	rec.ScoringMode = model.ScoringMode(mode)
	rec.Status = model.Status(status)
	if maxLoad.Valid {
		rec.MaxLoadKg = model.Float64Ptr(maxLoad.Float64)
	}
	rec.StartedAt = nullableInt(startedAt)
	rec.FinalTimeMs = nullableInt(finalTime)
	rec.CapSeconds = nullableInt(capSecs)
	if len(attempts) > 0 {
		if err := json.Unmarshal(attempts, &rec.Attempts); err != nil {
			return nil, fmt.Errorf("decode attempts of %s: %w", id, err)
		}
	}
	return &rec, nil
}

// recordArgs returns the column values in scoreColumns order.
func recordArgs(rec *model.ScoreRecord) ([]any, error) {
	attempts := rec.Attempts
	if attempts == nil {
		attempts = []model.Attempt{}
	}
	encoded, err := json.Marshal(attempts)
	if err != nil {
		return nil, fmt.Errorf("encode attempts of %s: %w", rec.ID(), err)
	}
	var maxLoad sql.NullFloat64
	if rec.MaxLoadKg != nil {
		maxLoad = sql.NullFloat64{Float64: *rec.MaxLoadKg, Valid: true}
	}
	return []any{
		rec.ID(), rec.WorkoutID, rec.TeamID, string(rec.Category), rec.WorkoutName, rec.TeamName,
		string(rec.ScoringMode), string(rec.Status), rec.Reps, rec.NoReps, maxLoad, string(encoded),
		nullInt(rec.StartedAt), nullInt(rec.FinalTimeMs), nullInt(rec.CapSeconds),
		rec.RankPrimary, rec.RankSecondary,
		rec.JudgeID, rec.CreatedAtEpoch, rec.UpdatedAtEpoch, rec.Version,
	}, nil
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullableInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return model.Int64Ptr(v.Int64)
}
