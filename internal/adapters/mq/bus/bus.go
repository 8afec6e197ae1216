// Package bus fans committed score snapshots out to subscribers.
//
// There is one topic per record and one per workout. A subscriber never
// blocks a publisher: when its buffer is full the oldest pending event is
// dropped, and since every event carries a full snapshot the newest one is
// always enough to resync. Per record, a subscriber never sees a version
// older than one it already received.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/wodboard/internal/domain/model"
	"github.com/okian/wodboard/pkg/metrics"
)

const defaultBuffer = 64

// Event is one committed write.
type Event struct {
	ID     string            `json:"id"`
	Op     string            `json:"op"`
	At     time.Time         `json:"at"`
	Record model.ScoreRecord `json:"record"`
}

// NewEvent stamps a snapshot with a fresh event id. rec is copied.
func NewEvent(op string, rec *model.ScoreRecord) Event {
	return Event{ID: uuid.NewString(), Op: op, At: time.Now(), Record: rec.Clone()}
}

// Bus is an in-process publish/subscribe hub.
type Bus struct {
	mu       sync.RWMutex
	records  map[string]map[*subscriber]struct{}
	workouts map[string]map[*subscriber]struct{}
	latest   map[string]Event
	buffer   int
	closed   bool
}

// New creates a Bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		records:  make(map[string]map[*subscriber]struct{}),
		workouts: make(map[string]map[*subscriber]struct{}),
		latest:   make(map[string]Event),
		buffer:   defaultBuffer,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish delivers ev to the record's and the workout's subscribers.
func (b *Bus) Publish(ctx context.Context, ev Event) error { //nolint:gocritic // events are copied by design
	id := ev.Record.ID()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if prev, ok := b.latest[id]; !ok || prev.Record.Version < ev.Record.Version {
		b.latest[id] = ev
	}
	targets := make([]*subscriber, 0, len(b.records[id])+len(b.workouts[ev.Record.WorkoutID]))
	for s := range b.records[id] {
		targets = append(targets, s)
	}
	for s := range b.workouts[ev.Record.WorkoutID] {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		s.deliver(ev)
	}
	metrics.RecordEventPublished()
	return nil
}

// Latest returns the newest snapshot published for a record.
func (b *Bus) Latest(id string) (Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ev, ok := b.latest[id]
	return ev, ok
}

// SubscribeRecord follows one record. The latest known snapshot, if any, is
// replayed first. The subscription ends when ctx is done or Close is called.
func (b *Bus) SubscribeRecord(ctx context.Context, id string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	s := newSubscriber(b.buffer)
	if ev, ok := b.latest[id]; ok {
		s.deliver(ev)
	}
	addTo(b.records, id, s)
	metrics.AddSubscribers("record", 1)
	return b.subscription(ctx, s, func() {
		removeFrom(b.records, id, s)
		metrics.AddSubscribers("record", -1)
	}), nil
}

// SubscribeWorkout follows every record of a workout. Nothing is replayed:
// callers read the ordered list from the store after subscribing.
func (b *Bus) SubscribeWorkout(ctx context.Context, workoutID string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	s := newSubscriber(b.buffer)
	addTo(b.workouts, workoutID, s)
	metrics.AddSubscribers("workout", 1)
	return b.subscription(ctx, s, func() {
		removeFrom(b.workouts, workoutID, s)
		metrics.AddSubscribers("workout", -1)
	}), nil
}

// Close ends every subscription.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*subscriber
	for _, topic := range []map[string]map[*subscriber]struct{}{b.records, b.workouts} {
		for _, subs := range topic {
			for s := range subs {
				all = append(all, s)
			}
		}
	}
	b.mu.Unlock()

	for _, s := range all {
		s.close()
	}
	return nil
}

func (b *Bus) subscription(ctx context.Context, s *subscriber, detach func()) *Subscription {
	sub := &Subscription{s: s}
	sub.cancel = func() {
		b.mu.Lock()
		detach()
		b.mu.Unlock()
		s.close()
	}
	// Callers hold b.mu, and cancel takes it, so stop is set before Close reads it.
	sub.stop = context.AfterFunc(ctx, sub.Close)
	return sub
}

func addTo(topic map[string]map[*subscriber]struct{}, key string, s *subscriber) {
	subs, ok := topic[key]
	if !ok {
		subs = make(map[*subscriber]struct{})
		topic[key] = subs
	}
	subs[s] = struct{}{}
}

func removeFrom(topic map[string]map[*subscriber]struct{}, key string, s *subscriber) {
	subs, ok := topic[key]
	if !ok {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(topic, key)
	}
}

// Subscription is a handle on a live topic.
type Subscription struct {
	s      *subscriber
	once   sync.Once
	cancel func()
	stop   func() bool
}

// Events returns the delivery channel. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan Event { return s.s.ch }

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.cancel()
		if s.stop != nil {
			s.stop()
		}
	})
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Event
	seen   map[string]int64
	closed bool
}

func newSubscriber(buffer int) *subscriber {
	return &subscriber{ch: make(chan Event, buffer), seen: make(map[string]int64)}
}

func (s *subscriber) deliver(ev Event) { //nolint:gocritic // events are copied by design
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	id := ev.Record.ID()
	if v, ok := s.seen[id]; ok && ev.Record.Version <= v {
		return
	}
	s.seen[id] = ev.Record.Version

	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		select {
		case <-s.ch:
			metrics.RecordEventDropped()
		default:
		}
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
