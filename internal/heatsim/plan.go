package heatsim

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"github.com/okian/wodboard/internal/domain/model"
	"github.com/okian/wodboard/internal/domain/rankkey"
)

// Outcome is how a team's workout ends.
type Outcome string

// Outcomes.
const (
	OutcomeFinished Outcome = "finished"
	OutcomeCapped   Outcome = "capped"
	OutcomeDNF      Outcome = "dnf"
)

const (
	minReps        = 20
	repsRange      = 180
	maxRepDelta    = 5
	maxNoReps      = 6
	attemptsPerLot = 3
	baseLoadKg     = 60
	loadRange      = 80
	loadStepKg     = 2.5
)

// Lift is one planned load attempt.
type Lift struct {
	LoadKg  float64
	Success bool
}

// TeamPlan is everything the judges will send for one team.
type TeamPlan struct {
	TeamID    string
	Name      string
	Reps      int64
	NoReps    int64
	Lifts     []Lift
	Outcome   Outcome
	ElapsedMs int64
}

// Plan is a full heat.
type Plan struct {
	WorkoutID  string
	Category   model.Category
	Mode       model.ScoringMode
	CapSeconds int64
	Teams      []TeamPlan
}

// randInt returns a uniform value in [0, n).
func randInt(n int64) int64 {
	if n <= 0 {
		return 0
	}
	v, _ := rand.Int(rand.Reader, big.NewInt(n))
	return v.Int64()
}

// NewPlan draws a random heat for cfg.
func NewPlan(cfg *Config) *Plan {
	p := &Plan{
		WorkoutID:  cfg.WorkoutID,
		Category:   cfg.Category,
		Mode:       cfg.Mode,
		CapSeconds: cfg.CapSeconds,
		Teams:      make([]TeamPlan, cfg.Teams),
	}
	capMs := cfg.CapSeconds * 1000
	for i := range p.Teams {
		t := TeamPlan{
			TeamID:  uuid.NewString(),
			Name:    fmt.Sprintf("Team %02d", i+1),
			Reps:    minReps + randInt(repsRange),
			NoReps:  randInt(maxNoReps),
			Outcome: OutcomeFinished,
		}
		switch cfg.Mode {
		case model.ModeTime:
			switch roll := randInt(10); {
			case roll == 0:
				t.Outcome = OutcomeDNF
			case roll < 3 && capMs > 0:
				t.Outcome = OutcomeCapped
				t.ElapsedMs = capMs + 1 + randInt(60_000)
			default:
				limit := capMs
				if limit == 0 {
					limit = 20 * 60_000
				}
				t.ElapsedMs = limit/4 + randInt(limit*3/4)
			}
		case model.ModeLoad:
			base := baseLoadKg + float64(randInt(loadRange/loadStepKg))*loadStepKg
			for a := 0; a < attemptsPerLot; a++ {
				t.Lifts = append(t.Lifts, Lift{LoadKg: base + float64(a)*loadStepKg*2, Success: randInt(4) != 0})
			}
			t.Reps = 0
		}
		p.Teams[i] = t
	}
	return p
}

// ScoreID is the storage key of team's record.
func (p *Plan) ScoreID(team *TeamPlan) string {
	return model.Identity{WorkoutID: p.WorkoutID, TeamID: team.TeamID, Category: p.Category}.Key()
}

// Expected is the record the team should end with. Timestamps are zero.
func (p *Plan) Expected(team *TeamPlan) *model.ScoreRecord {
	rec := &model.ScoreRecord{
		Identity:    model.Identity{WorkoutID: p.WorkoutID, TeamID: team.TeamID, Category: p.Category},
		TeamName:    team.Name,
		ScoringMode: p.Mode,
		Status:      model.StatusFinished,
		Reps:        team.Reps,
		NoReps:      team.NoReps,
	}
	if p.CapSeconds > 0 {
		rec.CapSeconds = model.Int64Ptr(p.CapSeconds)
	}
	for _, l := range team.Lifts {
		if l.Success && (rec.MaxLoadKg == nil || l.LoadKg > *rec.MaxLoadKg) {
			rec.MaxLoadKg = model.Float64Ptr(l.LoadKg)
		}
	}
	switch {
	case team.Outcome == OutcomeDNF:
		rec.Status = model.StatusDNF
	case p.Mode == model.ModeTime:
		elapsed := team.ElapsedMs
		if capMs := rec.CapMs(); capMs > 0 && elapsed > capMs {
			elapsed = capMs
		}
		rec.FinalTimeMs = model.Int64Ptr(elapsed)
	}
	rankkey.Apply(rec)
	return rec
}

// repDeltas splits n into judge taps of 1 to maxRepDelta.
func repDeltas(n int64) []int64 {
	var out []int64
	for n > 0 {
		d := min(n, 1+randInt(maxRepDelta))
		out = append(out, d)
		n -= d
	}
	return out
}
