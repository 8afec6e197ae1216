package heatsim

import (
	"errors"
	"fmt"

	"github.com/okian/wodboard/internal/domain/types"
)

// Verify checks that every team on board ended where its plan says and
// that the rows are ordered by the expected rank keys. Ties may come in
// either order.
func Verify(p *Plan, board types.Board) error { //nolint:gocritic // hugeParam
	if len(board.Rows) != len(p.Teams) {
		return fmt.Errorf("%w: board has %d rows, heat has %d teams", ErrVerification, len(board.Rows), len(p.Teams))
	}
	byTeam := make(map[string]*TeamPlan, len(p.Teams))
	for i := range p.Teams {
		byTeam[p.Teams[i].TeamID] = &p.Teams[i]
	}

	var errs []error
	var prev int64
	for i, row := range board.Rows {
		team, ok := byTeam[row.TeamID]
		if !ok {
			errs = append(errs, fmt.Errorf("row %d: unknown team %s", row.Rank, row.TeamID))
			continue
		}
		want := p.Expected(team)
		switch {
		case row.Status != want.Status:
			errs = append(errs, fmt.Errorf("%s: status %s, want %s", team.Name, row.Status, want.Status))
		case row.Reps != want.Reps:
			errs = append(errs, fmt.Errorf("%s: reps %d, want %d", team.Name, row.Reps, want.Reps))
		case row.NoReps != want.NoReps:
			errs = append(errs, fmt.Errorf("%s: no-reps %d, want %d", team.Name, row.NoReps, want.NoReps))
		case !equalInt(row.FinalTimeMs, want.FinalTimeMs):
			errs = append(errs, fmt.Errorf("%s: final time %v, want %v", team.Name, deref(row.FinalTimeMs), deref(want.FinalTimeMs)))
		case !equalFloat(row.MaxLoadKg, want.MaxLoadKg):
			errs = append(errs, fmt.Errorf("%s: max load %v, want %v", team.Name, deref(row.MaxLoadKg), deref(want.MaxLoadKg)))
		}
		if i > 0 && want.RankPrimary < prev {
			errs = append(errs, fmt.Errorf("%s at rank %d is ahead of its key", team.Name, row.Rank))
		}
		prev = want.RankPrimary
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrVerification, errors.Join(errs...))
	}
	return nil
}

func equalInt(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
