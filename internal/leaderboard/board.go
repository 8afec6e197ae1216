package leaderboard

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/wodboard/internal/adapters/mq/bus"
	"github.com/okian/wodboard/internal/domain/model"
	"github.com/okian/wodboard/internal/domain/types"
	"github.com/okian/wodboard/pkg/logger"
	"github.com/okian/wodboard/pkg/metrics"
)

// Lister reads a workout's records in rank order.
type Lister interface {
	ListWorkout(ctx context.Context, workoutID string) ([]*model.ScoreRecord, error)
}

// Source delivers a workout's committed snapshots.
type Source interface {
	SubscribeWorkout(ctx context.Context, workoutID string) (*bus.Subscription, error)
}

// board keeps one live leaderboard. Every change event triggers a re-read
// from the store, so a board is always a consistent snapshot even when
// events were coalesced or dropped.
type board struct {
	workoutID string
	category  model.Category
	lister    Lister
	sub       *bus.Subscription
	log       logger.Logger

	mu     sync.Mutex
	latest types.Board
	have   bool
	subs   map[chan types.Board]struct{}
	closed bool

	cancel context.CancelFunc
	done   chan struct{}
}

func openBoard(src Source, lister Lister, workoutID string, category model.Category, log logger.Logger) (*board, error) {
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := src.SubscribeWorkout(ctx, workoutID)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe workout %s: %w", workoutID, err)
	}
	b := &board{
		workoutID: workoutID,
		category:  category,
		lister:    lister,
		sub:       sub,
		log:       log,
		subs:      make(map[chan types.Board]struct{}),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	// Subscribe first, then read: no write can fall between the two.
	b.refresh(ctx)
	go b.run(ctx)
	return b, nil
}

func (b *board) run(ctx context.Context) {
	defer close(b.done)
	defer b.sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-b.sub.Events():
			if !ok {
				return
			}
			b.drain()
			b.refresh(ctx)
		}
	}
}

// drain discards queued events; the next refresh covers them all.
func (b *board) drain() {
	for {
		select {
		case _, ok := <-b.sub.Events():
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (b *board) refresh(ctx context.Context) {
	recs, err := b.lister.ListWorkout(ctx, b.workoutID)
	if err != nil {
		metrics.RecordErrorByComponent("leaderboard", "list")
		b.log.Warn(ctx, "leaderboard refresh failed",
			logger.String("workout_id", b.workoutID), logger.Error(err))
		return
	}
	rows := Project(recs, b.category)
	metrics.RecordProjection()

	b.mu.Lock()
	defer b.mu.Unlock()
	moves := Diff(b.latest.Rows, rows)
	b.latest = types.Board{
		WorkoutID: b.workoutID,
		Category:  b.category,
		Seq:       b.latest.Seq + 1,
		Rows:      rows,
		Moves:     moves,
	}
	b.have = true
	for ch := range b.subs {
		offer(ch, b.latest)
	}
}

// subscribe returns a channel that first carries the current board.
func (b *board) subscribe() chan types.Board {
	ch := make(chan types.Board, 1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	if b.have {
		ch <- b.latest
	}
	b.subs[ch] = struct{}{}
	return ch
}

func (b *board) unsubscribe(ch chan types.Board) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *board) close() {
	b.cancel()
	<-b.done
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

// offer replaces any unread board with v.
func offer(ch chan types.Board, v types.Board) { //nolint:gocritic // hugeParam
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
