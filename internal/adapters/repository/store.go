// Package repository holds the score record stores.
//
// Every store offers the same optimistic contract: readers get private
// copies, writers swap a record only while its version is unchanged.
package repository

import (
	"context"

	"github.com/okian/wodboard/internal/domain/model"
)

// Store is the authoritative score record store.
type Store interface {
	// Get returns a copy of the record, or ErrNotFound.
	Get(ctx context.Context, id string) (*model.ScoreRecord, error)

	// Create inserts rec unless its identity already exists. It returns the
	// stored record and whether this call created it.
	Create(ctx context.Context, rec *model.ScoreRecord) (*model.ScoreRecord, bool, error)

	// CompareAndSwap replaces the stored record with rec if the stored
	// version still equals expected. It returns ErrConflict when another
	// writer got there first and ErrNotFound when the record is gone.
	CompareAndSwap(ctx context.Context, rec *model.ScoreRecord, expected int64) error

	// ListByWorkout returns the workout's records ordered by rank key,
	// then identity.
	ListByWorkout(ctx context.Context, workoutID string) ([]*model.ScoreRecord, error)

	// ListRunning returns every record whose clock is running, in no
	// particular order.
	ListRunning(ctx context.Context) ([]*model.ScoreRecord, error)

	// Rank returns the 1-based position of the record among the records of
	// its workout and category, the same order a category leaderboard uses.
	Rank(ctx context.Context, id string) (int, error)

	// DeleteWorkout and DeleteTeam are administrative removals.
	DeleteWorkout(ctx context.Context, workoutID string) (int, error)
	DeleteTeam(ctx context.Context, teamID string) (int, error)

	Count(ctx context.Context) (int, error)
	Close() error
}
