package repository

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/okian/wodboard/internal/domain/model"
	"github.com/okian/wodboard/internal/domain/rankkey"
	"github.com/okian/wodboard/pkg/metrics"
)

const defaultMetricsUpdateInterval = 5 * time.Second

// MemoryStore is an in-process Store. A single mutex makes every
// CompareAndSwap a linearizable transaction. Each workout keeps a treap
// so ordered reads never sort, and each workout category keeps another
// for rank lookups.
type MemoryStore struct {
	mu        sync.RWMutex
	byID      map[string]*model.ScoreRecord
	byWorkout map[string]*treap
	byBoard   map[string]*treap
	rng       *rand.Rand
	seed      uint64
	closed    bool

	metricsUpdateInterval time.Duration

	wg       sync.WaitGroup
	stopChan chan struct{}
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs a memory store with configuration options.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		byID:                  make(map[string]*model.ScoreRecord),
		byWorkout:             make(map[string]*treap),
		byBoard:               make(map[string]*treap),
		metricsUpdateInterval: defaultMetricsUpdateInterval,
		seed:                  uint64(time.Now().UnixNano()), //nolint:gosec // treap priorities only
		stopChan:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.rng = rand.New(rand.NewPCG(s.seed, s.seed^0x9e3779b97f4a7c15)) //nolint:gosec // treap priorities only

	s.startMetricsUpdater(ctx)
	return s
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id string) (*model.ScoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	rec, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := rec.Clone()
	return &out, nil
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, rec *model.ScoreRecord) (*model.ScoreRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	id := rec.ID()
	if existing, ok := s.byID[id]; ok {
		out := existing.Clone()
		return &out, false, nil
	}
	stored := rec.Clone()
	s.byID[id] = &stored
	s.insert(&stored)

	out := stored.Clone()
	return &out, true, nil
}

// CompareAndSwap implements Store.
func (s *MemoryStore) CompareAndSwap(ctx context.Context, rec *model.ScoreRecord, expected int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	id := rec.ID()
	cur, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expected {
		return ErrConflict
	}

	s.remove(cur)
	stored := rec.Clone()
	s.byID[id] = &stored
	s.insert(&stored)
	return nil
}

// ListByWorkout implements Store.
func (s *MemoryStore) ListByWorkout(ctx context.Context, workoutID string) ([]*model.ScoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	idx, ok := s.byWorkout[workoutID]
	if !ok {
		return []*model.ScoreRecord{}, nil
	}
	ids := idx.IDs(make([]string, 0, idx.Len()))
	out := make([]*model.ScoreRecord, 0, len(ids))
	for _, id := range ids {
		c := s.byID[id].Clone()
		out = append(out, &c)
	}
	return out, nil
}

// ListRunning implements Store with a full scan.
func (s *MemoryStore) ListRunning(ctx context.Context) ([]*model.ScoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := []*model.ScoreRecord{}
	for _, r := range s.byID {
		if r.Status == model.StatusRunning {
			c := r.Clone()
			out = append(out, &c)
		}
	}
	return out, nil
}

// Rank implements Store in O(log n).
func (s *MemoryStore) Rank(ctx context.Context, id string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	rec, ok := s.byID[id]
	if !ok {
		return 0, ErrNotFound
	}
	return s.byBoard[boardKey(rec.Identity)].Position(id, rankkey.Of(rec)), nil
}

// DeleteWorkout implements Store.
func (s *MemoryStore) DeleteWorkout(ctx context.Context, workoutID string) (int, error) {
	return s.deleteWhere(func(r *model.ScoreRecord) bool { return r.WorkoutID == workoutID })
}

// DeleteTeam implements Store.
func (s *MemoryStore) DeleteTeam(ctx context.Context, teamID string) (int, error) {
	return s.deleteWhere(func(r *model.ScoreRecord) bool { return r.TeamID == teamID })
}

func (s *MemoryStore) deleteWhere(match func(*model.ScoreRecord) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	n := 0
	for id, rec := range s.byID {
		if !match(rec) {
			continue
		}
		s.remove(rec)
		delete(s.byID, id)
		n++
	}
	return n, nil
}

// Count implements Store.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID), nil
}

// Close stops the metrics updater. Later calls return ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stopChan)
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

// boardKey names the treap of one workout category.
func boardKey(id model.Identity) string {
	return id.WorkoutID + "\x00" + string(id.Category)
}

// insert adds rec to both indexes. Callers hold s.mu.
func (s *MemoryStore) insert(rec *model.ScoreRecord) {
	key := rankkey.Of(rec)
	indexOf(s.byWorkout, rec.WorkoutID, s.rng).Insert(rec.ID(), key)
	indexOf(s.byBoard, boardKey(rec.Identity), s.rng).Insert(rec.ID(), key)
}

// remove drops rec from both indexes, discarding empty ones. Callers hold s.mu.
func (s *MemoryStore) remove(rec *model.ScoreRecord) {
	key := rankkey.Of(rec)
	dropFrom(s.byWorkout, rec.WorkoutID, rec.ID(), key)
	dropFrom(s.byBoard, boardKey(rec.Identity), rec.ID(), key)
}

func indexOf(indexes map[string]*treap, name string, rng *rand.Rand) *treap {
	idx, ok := indexes[name]
	if !ok {
		idx = newTreap(rng)
		indexes[name] = idx
	}
	return idx
}

func dropFrom(indexes map[string]*treap, name, id string, key rankkey.Key) {
	idx, ok := indexes[name]
	if !ok {
		return
	}
	idx.Delete(id, key)
	if idx.Len() == 0 {
		delete(indexes, name)
	}
}

func (s *MemoryStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				n, _ := s.Count(ctx)
				metrics.UpdateRecordsTotal(n)
			}
		}
	}()
}
