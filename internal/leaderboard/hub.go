package leaderboard

import (
	"context"
	"sync"

	"github.com/okian/wodboard/internal/domain/model"
	"github.com/okian/wodboard/internal/domain/types"
	"github.com/okian/wodboard/pkg/logger"
)

type boardKey struct {
	workoutID string
	category  model.Category
}

type boardEntry struct {
	b    *board
	refs int
}

// Hub shares live boards between watchers. A board exists while at least
// one watcher follows it.
type Hub struct {
	src    Source
	lister Lister
	log    logger.Logger

	mu     sync.Mutex
	boards map[boardKey]*boardEntry
}

// NewHub creates a hub.
func NewHub(src Source, lister Lister) *Hub {
	return &Hub{
		src:    src,
		lister: lister,
		log:    logger.Get().Named("leaderboard"),
		boards: make(map[boardKey]*boardEntry),
	}
}

// Snapshot projects the board once, without following it.
func (h *Hub) Snapshot(ctx context.Context, workoutID string, category model.Category) (types.Board, error) {
	recs, err := h.lister.ListWorkout(ctx, workoutID)
	if err != nil {
		return types.Board{}, err
	}
	return types.Board{WorkoutID: workoutID, Category: category, Rows: Project(recs, category)}, nil
}

// Heat summarises the workout's heat clock.
func (h *Hub) Heat(ctx context.Context, workoutID string, category model.Category) (types.Heat, error) {
	recs, err := h.lister.ListWorkout(ctx, workoutID)
	if err != nil {
		return types.Heat{}, err
	}
	return HeatStatus(workoutID, category, recs), nil
}

// Watch follows a board until ctx is done. The first value is the current
// board; later values replace any the caller has not read yet. The channel
// is closed when watching stops.
func (h *Hub) Watch(ctx context.Context, workoutID string, category model.Category) (<-chan types.Board, error) {
	key := boardKey{workoutID: workoutID, category: category}

	h.mu.Lock()
	entry, ok := h.boards[key]
	if !ok {
		b, err := openBoard(h.src, h.lister, workoutID, category, h.log)
		if err != nil {
			h.mu.Unlock()
			return nil, err
		}
		entry = &boardEntry{b: b}
		h.boards[key] = entry
	}
	entry.refs++
	ch := entry.b.subscribe()
	h.mu.Unlock()

	context.AfterFunc(ctx, func() {
		entry.b.unsubscribe(ch)
		h.mu.Lock()
		entry.refs--
		last := entry.refs == 0 && h.boards[key] == entry
		if last {
			delete(h.boards, key)
		}
		h.mu.Unlock()
		if last {
			entry.b.close()
		}
	})
	return ch, nil
}

// Active returns the number of live boards.
func (h *Hub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.boards)
}

// Close stops every board and closes every watcher channel.
func (h *Hub) Close() {
	h.mu.Lock()
	entries := make([]*boardEntry, 0, len(h.boards))
	for k, e := range h.boards {
		entries = append(entries, e)
		delete(h.boards, k)
	}
	h.mu.Unlock()
	for _, e := range entries {
		e.b.close()
	}
}
