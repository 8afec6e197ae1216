package leaderboard

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/okian/wodboard/internal/domain/types"
)

var arrows = map[string]string{ //nolint:gochecknoglobals
	"new":  "*",
	"up":   "▲",
	"down": "▼",
	"same": "=",
}

// Render writes b as an aligned text table, one row per team.
func Render(w io.Writer, b types.Board) error { //nolint:gocritic // hugeParam
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	title := b.WorkoutID
	if b.Category != "" {
		title += " / " + string(b.Category)
	}
	if _, err := fmt.Fprintf(tw, "%s\n", title); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(tw, "#\tTEAM\tPTS\tSTATUS\tDETAIL\tMOVE"); err != nil {
		return err
	}
	moves := make(map[string]types.Move, len(b.Moves))
	for _, m := range b.Moves {
		moves[m.ID] = m
	}
	for _, r := range b.Rows {
		move := ""
		if m, ok := moves[r.ID]; ok {
			move = arrows[m.Direction()]
			if m.Movement != 0 {
				move = fmt.Sprintf("%s%d", move, abs(m.Movement))
			}
		}
		name := r.TeamName
		if name == "" {
			name = r.TeamID
		}
		if _, err := fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\n",
			r.Rank, name, r.Points, r.Status, r.Detail, move); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
