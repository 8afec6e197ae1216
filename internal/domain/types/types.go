// Package types contains the view-models handed to the presentation layer.
package types

import "github.com/okian/wodboard/internal/domain/model"

// Row is one ranked line of a leaderboard.
type Row struct {
	Rank         int               `json:"rank"`
	ID           string            `json:"id"`
	TeamID       string            `json:"teamId"`
	TeamName     string            `json:"teamName"`
	Category     model.Category    `json:"category"`
	Points       int               `json:"points"`
	Detail       string            `json:"detail"`
	Status       model.Status      `json:"status"`
	ScoringMode  model.ScoringMode `json:"scoringMode"`
	Reps         int64             `json:"reps"`
	NoReps       int64             `json:"noReps"`
	MaxLoadKg    *float64          `json:"maxLoadKg,omitempty"`
	FinalTimeMs  *int64            `json:"finalTimeMs,omitempty"`
	PreviousRank int               `json:"previousRank"`
}

// Move tells the presentation layer how a row changed position.
// PreviousRank is 0 for a row that was not on the previous board.
type Move struct {
	ID           string `json:"id"`
	PreviousRank int    `json:"previousRank"`
	Rank         int    `json:"rank"`
	Movement     int    `json:"movement"`
}

// Direction names the move: new, up, down or same.
func (m Move) Direction() string {
	switch {
	case m.PreviousRank == 0:
		return "new"
	case m.Movement > 0:
		return "up"
	case m.Movement < 0:
		return "down"
	}
	return "same"
}

// Board is a full leaderboard for one workout, optionally one category.
type Board struct {
	WorkoutID string         `json:"workoutId"`
	Category  model.Category `json:"category,omitempty"`
	Seq       int64          `json:"seq"`
	Rows      []Row          `json:"rows"`
	Moves     []Move         `json:"moves,omitempty"`
}

// HeatState is the coarse state of a heat.
type HeatState string

// Heat states.
const (
	HeatScheduled HeatState = "scheduled"
	HeatRunning   HeatState = "running"
	HeatFinished  HeatState = "finished"
)

// Heat summarises every record of a workout for the heat clock.
type Heat struct {
	WorkoutID   string         `json:"workoutId"`
	Category    model.Category `json:"category,omitempty"`
	Status      HeatState      `json:"status"`
	StartedAt   *int64         `json:"startedAt,omitempty"`
	FinalTimeMs *int64         `json:"finalTimeMs,omitempty"`
}
