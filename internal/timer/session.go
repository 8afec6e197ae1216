package timer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/wodboard/internal/adapters/mq/bus"
	"github.com/okian/wodboard/internal/domain/model"
	"github.com/okian/wodboard/pkg/logger"
	"github.com/okian/wodboard/pkg/metrics"
)

const defaultTick = 100 * time.Millisecond

// Source delivers committed snapshots of one record.
type Source interface {
	SubscribeRecord(ctx context.Context, id string) (*bus.Subscription, error)
}

// Loader reads the committed record.
type Loader interface {
	Get(ctx context.Context, id string) (*model.ScoreRecord, error)
}

// Finisher accepts a cap-triggered finish. It must not block.
type Finisher interface {
	SubmitAutoFinish(ctx context.Context, id string, capMs int64) error
}

// Tick is what a session shows at one instant.
type Tick struct {
	Record     model.ScoreRecord `json:"record"`
	ElapsedMs  int64             `json:"elapsedMs"`
	CapReached bool              `json:"capReached"`
}

// Session follows one record: it keeps the latest snapshot, refreshes the
// clock every tick, and asks for exactly one auto-finish when the cap is
// reached. It ends when its context is done, when Close is called, or when
// the record reaches a terminal state.
type Session struct {
	id       string
	cfg      config
	finisher Finisher
	sub      *bus.Subscription

	mu    sync.Mutex
	snap  model.ScoreRecord
	have  bool
	fired bool

	elapsed atomic.Int64
	updates chan Tick

	cancel context.CancelFunc
	done   chan struct{}
}

// Open starts a session for id. The loader seeds the snapshot so a session
// opened after a restart does not wait for the next write.
func Open(ctx context.Context, src Source, load Loader, finisher Finisher, id string, opts ...Option) (*Session, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(ctx)
	sub, err := src.SubscribeRecord(ctx, id)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", id, err)
	}

	s := &Session{
		id:       id,
		cfg:      cfg,
		finisher: finisher,
		sub:      sub,
		updates:  make(chan Tick, 1),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	if load != nil {
		rec, err := load.Get(ctx, id)
		if err != nil {
			sub.Close()
			cancel()
			return nil, fmt.Errorf("load %s: %w", id, err)
		}
		s.apply(rec)
	}

	metrics.AddTimerSessions(1)
	go s.run(ctx)
	return s, nil
}

// ID returns the record being followed.
func (s *Session) ID() string { return s.id }

// Elapsed returns the clock as of the last tick.
func (s *Session) Elapsed() int64 { return s.elapsed.Load() }

// Snapshot returns the newest snapshot seen.
func (s *Session) Snapshot() (model.ScoreRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Clone(), s.have
}

// Updates delivers the latest Tick. Unread ticks are replaced, never queued.
// The channel is closed when the session ends.
func (s *Session) Updates() <-chan Tick { return s.updates }

// Done is closed once the session has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close stops the ticker and the subscription and waits for the loop.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

func (s *Session) run(ctx context.Context) {
	defer func() {
		s.sub.Close()
		metrics.AddTimerSessions(-1)
		close(s.updates)
		close(s.done)
	}()

	ticker := time.NewTicker(s.cfg.tick)
	defer ticker.Stop()

	if s.evaluate(ctx) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.sub.Events():
			if !ok {
				return
			}
			s.apply(&ev.Record)
			if s.evaluate(ctx) {
				return
			}
		case <-ticker.C:
			if s.evaluate(ctx) {
				return
			}
		}
	}
}

// apply keeps rec if it is newer than the held snapshot.
func (s *Session) apply(rec *model.ScoreRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.have && rec.Version <= s.snap.Version {
		return
	}
	s.snap = rec.Clone()
	s.have = true
}

// evaluate refreshes the clock, triggers the cap, and reports whether the
// record is terminal.
func (s *Session) evaluate(ctx context.Context) bool {
	s.mu.Lock()
	if !s.have {
		s.mu.Unlock()
		return false
	}
	snap := s.snap.Clone()
	now := s.cfg.now().UnixMilli()
	reached := CapReached(&snap, now)
	trigger := reached && !s.fired
	if trigger {
		s.fired = true
	}
	s.mu.Unlock()

	elapsed := Display(&snap, now)
	s.elapsed.Store(elapsed)
	s.publish(Tick{Record: snap, ElapsedMs: elapsed, CapReached: reached})

	if trigger && s.finisher != nil {
		capMs := snap.CapMs()
		if err := s.finisher.SubmitAutoFinish(ctx, s.id, capMs); err != nil {
			// Re-arm so the next tick tries again; a missed cap would
			// leave the team ranked too favourably.
			s.mu.Lock()
			s.fired = false
			s.mu.Unlock()
			metrics.RecordAutoFinish("rejected")
			lvl := s.cfg.log.Error
			if errors.Is(err, context.Canceled) {
				lvl = s.cfg.log.Warn
			}
			lvl(ctx, "auto-finish not accepted", logger.String("score_id", s.id),
				logger.Int64("cap_ms", capMs), logger.Error(err))
		} else {
			s.cfg.log.Info(ctx, "cap reached, auto-finish submitted",
				logger.String("score_id", s.id), logger.Int64("cap_ms", capMs))
		}
	}
	return snap.Status.Terminal()
}

func (s *Session) publish(t Tick) { //nolint:gocritic // ticks are copied by design
	for {
		select {
		case s.updates <- t:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}
