// Package leaderboard turns score records into ranked view-models.
package leaderboard

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/okian/wodboard/internal/domain/model"
	"github.com/okian/wodboard/internal/domain/rankkey"
	"github.com/okian/wodboard/internal/domain/types"
)

const (
	maxPoints  = 100
	pointsStep = 5
	minPoints  = 5
)

// Points is the scoring policy: 100 for first, 5 less per place, never
// below 5.
func Points(rank int) int {
	return max(minPoints, maxPoints-(rank-1)*pointsStep)
}

// Project sorts recs by rank key and identity and builds the rows. When
// category is not empty only that category is ranked. recs is not modified.
func Project(recs []*model.ScoreRecord, category model.Category) []types.Row {
	ordered := make([]*model.ScoreRecord, 0, len(recs))
	for _, r := range recs {
		if category == "" || r.Category == category {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool { return rankkey.RecordLess(ordered[i], ordered[j]) })

	rows := make([]types.Row, len(ordered))
	for i, r := range ordered {
		rank := i + 1
		rows[i] = types.Row{
			Rank:        rank,
			ID:          r.ID(),
			TeamID:      r.TeamID,
			TeamName:    r.TeamName,
			Category:    r.Category,
			Points:      Points(rank),
			Detail:      Detail(r),
			Status:      r.Status,
			ScoringMode: r.ScoringMode,
			Reps:        r.Reps,
			NoReps:      r.NoReps,
			MaxLoadKg:   r.MaxLoadKg,
			FinalTimeMs: r.FinalTimeMs,
		}
	}
	return rows
}

// Detail is the secondary line of a row.
func Detail(r *model.ScoreRecord) string {
	dnf := ""
	if r.Status == model.StatusDNF {
		dnf = " • DNF"
	}
	switch r.ScoringMode {
	case model.ModeReps:
		return fmt.Sprintf("Reps: %d • No-reps: %d%s", r.Reps, r.NoReps, dnf)
	case model.ModeLoad:
		load := 0.0
		if r.MaxLoadKg != nil {
			load = *r.MaxLoadKg
		}
		return fmt.Sprintf("Max: %s kg • Reps: %d%s", strconv.FormatFloat(load, 'f', -1, 64), r.Reps, dnf)
	default:
		clock := "—"
		switch {
		case r.Status == model.StatusFinished && r.FinalTimeMs != nil:
			clock = Clock(*r.FinalTimeMs)
		case r.Status == model.StatusDNF:
			clock = "DNF"
		}
		return fmt.Sprintf("Time: %s • Reps: %d • No-reps: %d", clock, r.Reps, r.NoReps)
	}
}

// Clock formats milliseconds as mm:ss.cc. Minutes keep growing past 99.
func Clock(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	sec := ms / 1000
	return fmt.Sprintf("%02d:%02d.%02d", sec/60, sec%60, (ms%1000)/10)
}

// Diff pairs next with prev by identity. It fills PreviousRank on next and
// returns one Move per row of next.
func Diff(prev, next []types.Row) []types.Move {
	before := make(map[string]int, len(prev))
	for _, r := range prev {
		before[r.ID] = r.Rank
	}
	moves := make([]types.Move, len(next))
	for i := range next {
		p := before[next[i].ID]
		next[i].PreviousRank = p
		m := types.Move{ID: next[i].ID, PreviousRank: p, Rank: next[i].Rank}
		if p != 0 {
			m.Movement = p - next[i].Rank
		}
		moves[i] = m
	}
	return moves
}

// HeatStatus summarises the heat: running while any record runs (with the
// earliest start), finished once records are finished (with the longest
// time), scheduled otherwise.
func HeatStatus(workoutID string, category model.Category, recs []*model.ScoreRecord) types.Heat {
	h := types.Heat{WorkoutID: workoutID, Category: category, Status: types.HeatScheduled}
	var finishedMax *int64
	for _, r := range recs {
		if category != "" && r.Category != category {
			continue
		}
		switch {
		case r.Status == model.StatusRunning && r.StartedAt != nil:
			if h.StartedAt == nil || *r.StartedAt < *h.StartedAt {
				h.StartedAt = model.Int64Ptr(*r.StartedAt)
			}
			h.Status = types.HeatRunning
		case r.Status == model.StatusFinished && r.FinalTimeMs != nil:
			if finishedMax == nil || *r.FinalTimeMs > *finishedMax {
				finishedMax = model.Int64Ptr(*r.FinalTimeMs)
			}
		}
	}
	if h.Status != types.HeatRunning && finishedMax != nil {
		h.Status = types.HeatFinished
		h.FinalTimeMs = finishedMax
	}
	return h
}
