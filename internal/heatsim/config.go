// Package heatsim drives a simulated heat through the scoring API and checks
// the resulting leaderboard against what the judges sent.
package heatsim

import (
	"errors"
	"fmt"
	"time"

	"github.com/okian/wodboard/internal/domain/model"
)

// Defaults.
const (
	DefaultTeams      = 12
	DefaultJudges     = 8
	DefaultCapSeconds = 600
	DefaultDupRate    = 0.1
	DefaultTimeout    = 10 * time.Second
)

// Errors.
var (
	ErrInvalidConfig = errors.New("invalid simulation config")
	ErrVerification  = errors.New("leaderboard verification failed")
)

// Config describes one simulated heat.
type Config struct {
	BaseURL    string            // service base URL
	WorkoutID  string            // workout to score
	Category   model.Category    // heat category
	Mode       model.ScoringMode // time, reps or load
	Teams      int               // teams in the heat
	CapSeconds int64             // time cap, 0 for none
	Judges     int               // concurrent judge tablets
	DupRate    float64           // share of commands resent with the same key
	Timeout    time.Duration     // per-request timeout
	ExportPath string            // where to save the xlsx board, empty to skip
	Verbose    bool
}

// DefaultConfig returns a 12-team RX time heat against a local service.
func DefaultConfig() Config {
	return Config{
		BaseURL:    "http://localhost:9080",
		WorkoutID:  "sim",
		Category:   model.CategoryRX,
		Mode:       model.ModeTime,
		Teams:      DefaultTeams,
		CapSeconds: DefaultCapSeconds,
		Judges:     DefaultJudges,
		DupRate:    DefaultDupRate,
		Timeout:    DefaultTimeout,
	}
}

// Validate checks the config before any request is sent.
func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("%w: base url is required", ErrInvalidConfig)
	case c.WorkoutID == "" || c.Category == "":
		return fmt.Errorf("%w: workout and category are required", ErrInvalidConfig)
	case !c.Mode.Valid():
		return fmt.Errorf("%w: unknown scoring mode %q", ErrInvalidConfig, c.Mode)
	case c.Teams < 1:
		return fmt.Errorf("%w: teams must be positive", ErrInvalidConfig)
	case c.Judges < 1:
		return fmt.Errorf("%w: judges must be positive", ErrInvalidConfig)
	case c.DupRate < 0 || c.DupRate > 1:
		return fmt.Errorf("%w: dup rate must be within [0, 1]", ErrInvalidConfig)
	case c.CapSeconds < 0:
		return fmt.Errorf("%w: cap must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Stats holds simulation counters.
type Stats struct {
	Teams      int
	Commands   int
	Applied    int
	Duplicates int
	Failed     int
	BoardRows  int
	StartTime  time.Time
	Duration   time.Duration
}
