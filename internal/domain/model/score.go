// Package model contains domain models passed between layers.
package model

import (
	"errors"
	"fmt"
	"strings"
)

// ScoringMode selects how a workout result is ranked.
type ScoringMode string

// Scoring modes.
const (
	ModeTime ScoringMode = "time" // lower elapsed wins
	ModeReps ScoringMode = "reps" // higher count wins
	ModeLoad ScoringMode = "load" // higher weight wins
)

// Valid reports whether m is a known scoring mode.
func (m ScoringMode) Valid() bool {
	switch m {
	case ModeTime, ModeReps, ModeLoad:
		return true
	}
	return false
}

// Status is the lifecycle state of a score record.
type Status string

// Record states. Finished and DNF are terminal.
const (
	StatusNotStarted Status = "not_started"
	StatusRunning    Status = "running"
	StatusPaused     Status = "paused"
	StatusFinished   Status = "finished"
	StatusDNF        Status = "dnf"
)

// Terminal reports whether no further judge mutation applies.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusDNF
}

// Category is the division a team competes in.
type Category string

// Known categories.
const (
	CategoryRX         Category = "RX"
	CategoryIntermedio Category = "Intermedio"
)

// keySeparator joins identity components; it may not appear inside them.
const keySeparator = "__"

// ErrInvalidIdentity is returned when an identity cannot be built or parsed.
var ErrInvalidIdentity = errors.New("invalid score identity")

// Identity is the composite key of a score record.
type Identity struct {
	WorkoutID string   `json:"workoutId"`
	TeamID    string   `json:"teamId"`
	Category  Category `json:"category"`
}

// Key returns the deterministic storage key workout__team__category.
func (id Identity) Key() string {
	return id.WorkoutID + keySeparator + id.TeamID + keySeparator + string(id.Category)
}

func (id Identity) String() string { return id.Key() }

// Validate checks that every component is present and separator free.
func (id Identity) Validate() error {
	for name, v := range map[string]string{
		"workoutId": id.WorkoutID,
		"teamId":    id.TeamID,
		"category":  string(id.Category),
	} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%w: missing %s", ErrInvalidIdentity, name)
		}
		if strings.Contains(v, keySeparator) {
			return fmt.Errorf("%w: %s contains %q", ErrInvalidIdentity, name, keySeparator)
		}
	}
	return nil
}

// ParseIdentity reverses Identity.Key.
func ParseIdentity(key string) (Identity, error) {
	parts := strings.Split(key, keySeparator)
	if len(parts) != 3 {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, key)
	}
	id := Identity{WorkoutID: parts[0], TeamID: parts[1], Category: Category(parts[2])}
	if err := id.Validate(); err != nil {
		return Identity{}, err
	}
	return id, nil
}

// Attempt is one entry of the append-only load attempt log.
type Attempt struct {
	At      int64   `json:"at"`
	LoadKg  float64 `json:"loadKg"`
	Success bool    `json:"success"`
}

// ScoreRecord is the persisted result of one team in one workout and category.
// Timestamps are epoch milliseconds.
type ScoreRecord struct {
	Identity

	WorkoutName string      `json:"workoutName"`
	TeamName    string      `json:"teamName"`
	ScoringMode ScoringMode `json:"scoringMode"`
	Status      Status      `json:"status"`

	Reps      int64     `json:"reps"`
	NoReps    int64     `json:"noReps"`
	MaxLoadKg *float64  `json:"maxLoadKg"`
	Attempts  []Attempt `json:"attempts"`

	StartedAt   *int64 `json:"startedAt"`
	FinalTimeMs *int64 `json:"finalTimeMs"`
	CapSeconds  *int64 `json:"capSeconds"`

	RankPrimary   int64 `json:"rankPrimary"`
	RankSecondary int64 `json:"rankSecondary"`

	JudgeID        string `json:"judgeId,omitempty"`
	CreatedAtEpoch int64  `json:"createdAtEpoch"`
	UpdatedAtEpoch int64  `json:"updatedAtEpoch"`
	Version        int64  `json:"version"`
}

// ID returns the storage key.
func (r *ScoreRecord) ID() string { return r.Identity.Key() }

// Clone returns a deep copy so snapshots handed to subscribers stay immutable.
func (r ScoreRecord) Clone() ScoreRecord {
	out := r
	out.MaxLoadKg = cloneFloat(r.MaxLoadKg)
	out.StartedAt = cloneInt(r.StartedAt)
	out.FinalTimeMs = cloneInt(r.FinalTimeMs)
	out.CapSeconds = cloneInt(r.CapSeconds)
	if r.Attempts != nil {
		out.Attempts = make([]Attempt, len(r.Attempts))
		copy(out.Attempts, r.Attempts)
	}
	return out
}

// CapMs returns the cap in milliseconds, 0 when no cap is configured.
func (r *ScoreRecord) CapMs() int64 {
	if r.CapSeconds == nil || *r.CapSeconds <= 0 {
		return 0
	}
	return *r.CapSeconds * 1000
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }

// Float64Ptr returns a pointer to v.
func Float64Ptr(v float64) *float64 { return &v }

func cloneInt(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
