package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/okian/wodboard/internal/adapters/mq/bus"
	"github.com/okian/wodboard/internal/adapters/repository"
	"github.com/okian/wodboard/internal/domain/model"
	"github.com/okian/wodboard/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	_ = logger.SetLevelString("error")
	os.Exit(m.Run())
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(ms int64) *fakeClock { return &fakeClock{t: time.UnixMilli(ms)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(ms int64) {
	c.mu.Lock()
	c.t = time.UnixMilli(ms)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []bus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev bus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Ops() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ops := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		ops = append(ops, ev.Op)
	}
	return ops
}

const t0 = int64(1_700_000_000_000)

var w1t1 = model.Identity{WorkoutID: "w1", TeamID: "t1", Category: model.CategoryRX}

func newEngine(clock *fakeClock, pub Publisher) (*Engine, *repository.MemoryStore) {
	store := repository.NewMemoryStore(context.Background(), repository.WithSeed(1))
	e := New(store,
		WithClock(clock.Now),
		WithPublisher(pub),
		WithMaxRetries(200),
		WithRetryBase(50*time.Microsecond),
	)
	return e, store
}

func ensure(e *Engine, id model.Identity, mode model.ScoringMode, capSeconds int64) string {
	var capPtr *int64
	if capSeconds > 0 {
		capPtr = model.Int64Ptr(capSeconds)
	}
	res, err := e.Ensure(context.Background(), EnsureParams{
		Identity: id, WorkoutName: "Fran", TeamName: "Team " + id.TeamID,
		ScoringMode: mode, CapSeconds: capPtr,
	})
	So(err, ShouldBeNil)
	return res.Record.ID()
}

func TestEnsure(t *testing.T) {
	Convey("Given an engine", t, func() {
		ctx := context.Background()
		clock := newClock(t0)
		pub := &recordingPublisher{}
		e, store := newEngine(clock, pub)
		Reset(func() { _ = store.Close() })

		Convey("Ensure creates a zeroed record with a rank key", func() {
			id := ensure(e, w1t1, model.ModeTime, 600)
			rec, err := e.Get(ctx, id)
			So(err, ShouldBeNil)
			So(id, ShouldEqual, "w1__t1__RX")
			So(rec.Status, ShouldEqual, model.StatusNotStarted)
			So(rec.RankPrimary, ShouldEqual, 600_000+1_000_000_000)
			So(rec.Version, ShouldEqual, 1)
			So(pub.Ops(), ShouldResemble, []string{OpEnsure})
		})

		Convey("Ensure on an existing identity never resets progress", func() {
			id := ensure(e, w1t1, model.ModeReps, 0)
			_, err := e.Start(ctx, id, nil, "")
			So(err, ShouldBeNil)
			_, err = e.IncrementReps(ctx, id, 7, "")
			So(err, ShouldBeNil)
			before, _ := e.Get(ctx, id)

			res, err := e.Ensure(ctx, EnsureParams{Identity: w1t1, ScoringMode: model.ModeReps})
			So(err, ShouldBeNil)
			So(res.Applied, ShouldBeFalse)
			So(res.Record, ShouldResemble, before)
		})

		Convey("Ensure rejects bad input", func() {
			_, err := e.Ensure(ctx, EnsureParams{Identity: model.Identity{WorkoutID: "w"}, ScoringMode: model.ModeReps})
			So(errors.Is(err, ErrInvalidArgument), ShouldBeTrue)

			_, err = e.Ensure(ctx, EnsureParams{Identity: w1t1, ScoringMode: "sprint"})
			So(errors.Is(err, ErrInvalidArgument), ShouldBeTrue)
		})

		Convey("Mutating an unknown record is NotFound", func() {
			_, err := e.IncrementReps(ctx, "nope__nope__RX", 1, "")
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestStateMachine(t *testing.T) {
	Convey("Given a time-mode record", t, func() {
		ctx := context.Background()
		clock := newClock(t0)
		pub := &recordingPublisher{}
		e, store := newEngine(clock, pub)
		Reset(func() { _ = store.Close() })
		id := ensure(e, w1t1, model.ModeTime, 600)

		Convey("Pause and resume keep the clock continuous", func() {
			_, err := e.Start(ctx, id, model.Int64Ptr(t0), "judge-1")
			So(err, ShouldBeNil)
			for i := 0; i < 5; i++ {
				_, err = e.IncrementReps(ctx, id, 1, "judge-1")
				So(err, ShouldBeNil)
			}
			clock.Set(t0 + 30_000)
			res, err := e.Stop(ctx, id, "judge-1")
			So(err, ShouldBeNil)
			So(*res.Record.FinalTimeMs, ShouldEqual, 30_000)
			So(res.Record.Status, ShouldEqual, model.StatusPaused)
			So(res.Record.RankPrimary, ShouldEqual, 600_000+1_000_000_000-5)

			clock.Set(t0 + 40_000)
			res, err = e.Start(ctx, id, nil, "judge-1")
			So(err, ShouldBeNil)
			So(res.Record.FinalTimeMs, ShouldBeNil)
			So(*res.Record.StartedAt, ShouldEqual, t0+10_000)

			clock.Set(t0 + 50_000)
			res, err = e.Finish(ctx, id, nil, "judge-1")
			So(err, ShouldBeNil)
			So(res.Applied, ShouldBeTrue)
			So(*res.Record.FinalTimeMs, ShouldEqual, 40_000)
			So(res.Record.Reps, ShouldEqual, 5)
			So(res.Record.Status, ShouldEqual, model.StatusFinished)
			So(res.Record.RankPrimary, ShouldEqual, 40_000)
			So(res.Record.JudgeID, ShouldEqual, "judge-1")
		})

		Convey("Pausing right after resuming keeps the elapsed time", func() {
			_, _ = e.Start(ctx, id, nil, "")
			clock.Set(t0 + 12_300)
			_, _ = e.Stop(ctx, id, "")
			clock.Set(t0 + 90_000)
			_, _ = e.Start(ctx, id, nil, "")
			res, err := e.Stop(ctx, id, "")
			So(err, ShouldBeNil)
			So(*res.Record.FinalTimeMs, ShouldEqual, 12_300)
		})

		Convey("A second stop does not count paused time", func() {
			_, _ = e.Start(ctx, id, nil, "")
			clock.Set(t0 + 5_000)
			_, _ = e.Stop(ctx, id, "")
			clock.Set(t0 + 9_000)
			res, err := e.Stop(ctx, id, "")
			So(err, ShouldBeNil)
			So(res.Applied, ShouldBeFalse)
			So(*res.Record.FinalTimeMs, ShouldEqual, 5_000)
		})

		Convey("Finish on a paused record keeps the paused clock", func() {
			_, _ = e.Start(ctx, id, nil, "")
			clock.Set(t0 + 7_000)
			_, _ = e.Stop(ctx, id, "")
			clock.Set(t0 + 60_000)
			res, err := e.Finish(ctx, id, nil, "")
			So(err, ShouldBeNil)
			So(*res.Record.FinalTimeMs, ShouldEqual, 7_000)
		})

		Convey("Finish clamps to the cap", func() {
			_, _ = e.Start(ctx, id, nil, "")
			clock.Set(t0 + 700_000)
			res, err := e.Finish(ctx, id, nil, "")
			So(err, ShouldBeNil)
			So(*res.Record.FinalTimeMs, ShouldEqual, 600_000)
		})

		Convey("AutoFinish only applies to a running clock past its cap", func() {
			_, _ = e.Start(ctx, id, model.Int64Ptr(t0), "")
			clock.Set(t0 + 599_999)
			res, err := e.AutoFinish(ctx, id, "system")
			So(err, ShouldBeNil)
			So(res.Applied, ShouldBeFalse)

			clock.Set(t0 + 599_900)
			_, _ = e.Stop(ctx, id, "")
			clock.Set(t0 + 650_000)
			res, err = e.AutoFinish(ctx, id, "system")
			So(err, ShouldBeNil)
			So(res.Applied, ShouldBeFalse)
			So(res.Record.Status, ShouldEqual, model.StatusPaused)
			So(*res.Record.FinalTimeMs, ShouldEqual, 599_900)

			// Resumed with 100 ms left on the clock.
			_, _ = e.Start(ctx, id, nil, "")
			clock.Set(t0 + 650_100)
			res, err = e.AutoFinish(ctx, id, "system")
			So(err, ShouldBeNil)
			So(res.Applied, ShouldBeTrue)
			So(res.Record.Status, ShouldEqual, model.StatusFinished)
			So(*res.Record.FinalTimeMs, ShouldEqual, 600_000)
			So(res.Record.JudgeID, ShouldEqual, "system")
		})

		Convey("An explicit elapsed time wins, a negative one is ignored", func() {
			_, _ = e.Start(ctx, id, nil, "")
			clock.Set(t0 + 3_000)
			res, err := e.Finish(ctx, id, model.Int64Ptr(-1), "")
			So(err, ShouldBeNil)
			So(*res.Record.FinalTimeMs, ShouldEqual, 3_000)

			other := ensure(e, model.Identity{WorkoutID: "w1", TeamID: "t2", Category: model.CategoryRX}, model.ModeTime, 600)
			_, _ = e.Start(ctx, other, nil, "")
			res, err = e.Finish(ctx, other, model.Int64Ptr(1_234), "")
			So(err, ShouldBeNil)
			So(*res.Record.FinalTimeMs, ShouldEqual, 1_234)
		})

		Convey("Finish twice yields the same stored state", func() {
			_, _ = e.Start(ctx, id, nil, "")
			clock.Set(t0 + 20_000)
			_, err := e.Finish(ctx, id, nil, "")
			So(err, ShouldBeNil)
			once, _ := e.Get(ctx, id)

			clock.Set(t0 + 25_000)
			res, err := e.Finish(ctx, id, nil, "")
			So(err, ShouldBeNil)
			So(res.Applied, ShouldBeFalse)
			twice, _ := e.Get(ctx, id)
			So(twice, ShouldResemble, once)
		})

		Convey("Terminal records absorb every command", func() {
			for i, end := range []func() (Result, error){
				func() (Result, error) { return e.Finish(ctx, id, model.Int64Ptr(1_000), "") },
				func() (Result, error) { return e.MarkDNF(ctx, id, "") },
			} {
				id = ensure(e, model.Identity{WorkoutID: "w1", TeamID: fmt.Sprintf("x%d", i), Category: model.CategoryRX}, model.ModeTime, 600)
				_, _ = e.Start(ctx, id, nil, "")
				_, _ = e.IncrementReps(ctx, id, 3, "")
				_, err := end()
				So(err, ShouldBeNil)
				frozen, _ := e.Get(ctx, id)

				clock.Set(t0 + 100_000)
				cmds := []func() (Result, error){
					func() (Result, error) { return e.IncrementReps(ctx, id, 1, "j") },
					func() (Result, error) { return e.IncrementNoReps(ctx, id, 1, "j") },
					func() (Result, error) { return e.AddLoadAttempt(ctx, id, 100, true, "j") },
					func() (Result, error) { return e.Start(ctx, id, nil, "j") },
					func() (Result, error) { return e.Stop(ctx, id, "j") },
					func() (Result, error) { return e.Finish(ctx, id, nil, "j") },
					func() (Result, error) { return e.MarkDNF(ctx, id, "j") },
				}
				for _, cmd := range cmds {
					res, err := cmd()
					So(err, ShouldBeNil)
					So(res.Applied, ShouldBeFalse)
				}
				after, _ := e.Get(ctx, id)
				So(after, ShouldResemble, frozen)
			}
		})

		Convey("DNF clears the time and ranks behind finishers", func() {
			_, _ = e.Start(ctx, id, nil, "")
			clock.Set(t0 + 5_000)
			_, _ = e.Stop(ctx, id, "")
			res, err := e.MarkDNF(ctx, id, "")
			So(err, ShouldBeNil)
			So(res.Record.Status, ShouldEqual, model.StatusDNF)
			So(res.Record.FinalTimeMs, ShouldBeNil)
			So(res.Record.RankPrimary, ShouldBeGreaterThan, 600_000)
		})

		Convey("Non-positive deltas are no-ops", func() {
			res, err := e.IncrementReps(ctx, id, 0, "")
			So(err, ShouldBeNil)
			So(res.Applied, ShouldBeFalse)
			res, err = e.IncrementNoReps(ctx, id, -2, "")
			So(err, ShouldBeNil)
			So(res.Applied, ShouldBeFalse)
		})

		Convey("Every applied command is published once", func() {
			_, _ = e.Start(ctx, id, nil, "")
			_, _ = e.Start(ctx, id, nil, "")
			_, _ = e.IncrementNoReps(ctx, id, 1, "")
			So(pub.Ops(), ShouldResemble, []string{OpEnsure, OpStart, OpNoReps})
		})

		Convey("A cancelled caller still gets the write committed", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			res, err := e.IncrementReps(cctx, id, 2, "")
			So(err, ShouldBeNil)
			So(res.Applied, ShouldBeTrue)
			rec, _ := e.Get(ctx, id)
			So(rec.Reps, ShouldEqual, 2)
		})
	})
}

func TestLoadMode(t *testing.T) {
	Convey("Given a load-mode record", t, func() {
		ctx := context.Background()
		clock := newClock(t0)
		e, store := newEngine(clock, nil)
		Reset(func() { _ = store.Close() })
		id := ensure(e, w1t1, model.ModeLoad, 0)

		Convey("The best successful lift counts and every attempt is logged", func() {
			attempts := []struct {
				kg float64
				ok bool
			}{{80, false}, {85, true}, {82.5, true}}
			var maxSeen float64
			for _, a := range attempts {
				res, err := e.AddLoadAttempt(ctx, id, a.kg, a.ok, "")
				So(err, ShouldBeNil)
				if res.Record.MaxLoadKg != nil {
					So(*res.Record.MaxLoadKg, ShouldBeGreaterThanOrEqualTo, maxSeen)
					maxSeen = *res.Record.MaxLoadKg
				}
			}
			rec, _ := e.Get(ctx, id)
			So(*rec.MaxLoadKg, ShouldEqual, 85)
			So(len(rec.Attempts), ShouldEqual, 3)
			So(rec.Attempts[0].Success, ShouldBeFalse)
			So(rec.RankPrimary, ShouldEqual, -85_000)
		})

		Convey("Invalid loads are rejected", func() {
			_, err := e.AddLoadAttempt(ctx, id, -5, true, "")
			So(errors.Is(err, ErrInvalidArgument), ShouldBeTrue)
		})

		Convey("Finish drops any time", func() {
			_, _ = e.Start(ctx, id, nil, "")
			clock.Set(t0 + 1_000)
			res, err := e.Finish(ctx, id, model.Int64Ptr(1_000), "")
			So(err, ShouldBeNil)
			So(res.Record.FinalTimeMs, ShouldBeNil)
		})
	})
}

func TestConcurrentIncrements(t *testing.T) {
	Convey("Given many judges incrementing one record at once", t, func() {
		ctx := context.Background()
		e, store := newEngine(newClock(t0), nil)
		Reset(func() { _ = store.Close() })
		id := ensure(e, w1t1, model.ModeReps, 0)

		const judges = 20
		var wg sync.WaitGroup
		errs := make(chan error, judges)
		for i := 0; i < judges; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := e.IncrementReps(ctx, id, 1, "")
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		Convey("No update is lost", func() {
			for err := range errs {
				So(err, ShouldBeNil)
			}
			rec, _ := e.Get(ctx, id)
			So(rec.Reps, ShouldEqual, judges)
			So(rec.Version, ShouldEqual, judges+1)
		})
	})
}

type conflictStore struct{ *repository.MemoryStore }

func (conflictStore) CompareAndSwap(context.Context, *model.ScoreRecord, int64) error {
	return repository.ErrConflict
}

type brokenStore struct{ *repository.MemoryStore }

func (brokenStore) Get(context.Context, string) (*model.ScoreRecord, error) {
	return nil, errors.New("disk on fire")
}

func TestFailureTaxonomy(t *testing.T) {
	Convey("Given stores that misbehave", t, func() {
		ctx := context.Background()
		mem := repository.NewMemoryStore(ctx)
		Reset(func() { _ = mem.Close() })
		seed := New(mem)
		_, err := seed.Ensure(ctx, EnsureParams{Identity: w1t1, ScoringMode: model.ModeReps})
		So(err, ShouldBeNil)

		Convey("Endless conflicts surface as transient after bounded retries", func() {
			e := New(conflictStore{mem}, WithMaxRetries(3), WithRetryBase(time.Microsecond))
			_, err := e.IncrementReps(ctx, w1t1.Key(), 1, "")
			So(errors.Is(err, ErrTransient), ShouldBeTrue)
		})

		Convey("Infrastructure failures surface as store unavailable", func() {
			e := New(brokenStore{mem})
			_, err := e.IncrementReps(ctx, w1t1.Key(), 1, "")
			So(errors.Is(err, ErrStoreUnavailable), ShouldBeTrue)
		})
	})
}

func TestHeats(t *testing.T) {
	Convey("Given a heat of three teams in two categories", t, func() {
		ctx := context.Background()
		clock := newClock(t0)
		e, store := newEngine(clock, nil)
		Reset(func() { _ = store.Close() })
		a := ensure(e, model.Identity{WorkoutID: "w1", TeamID: "a", Category: model.CategoryRX}, model.ModeTime, 60)
		b := ensure(e, model.Identity{WorkoutID: "w1", TeamID: "b", Category: model.CategoryRX}, model.ModeTime, 60)
		c := ensure(e, model.Identity{WorkoutID: "w1", TeamID: "c", Category: model.CategoryIntermedio}, model.ModeTime, 60)

		Convey("StartHeat uses one shared epoch for the category only", func() {
			hr, err := e.StartHeat(ctx, "w1", model.CategoryRX, model.Int64Ptr(t0+500), "")
			So(err, ShouldBeNil)
			So(hr.Epoch, ShouldEqual, t0+500)
			So(len(hr.Results), ShouldEqual, 2)
			for _, id := range []string{a, b} {
				rec, _ := e.Get(ctx, id)
				So(rec.Status, ShouldEqual, model.StatusRunning)
				So(*rec.StartedAt, ShouldEqual, t0+500)
			}
			rec, _ := e.Get(ctx, c)
			So(rec.Status, ShouldEqual, model.StatusNotStarted)
		})

		Convey("FinishHeat derives each time from the shared instant, capped", func() {
			_, err := e.StartHeat(ctx, "w1", model.CategoryRX, model.Int64Ptr(t0), "")
			So(err, ShouldBeNil)
			clock.Set(t0 + 20_000)
			_, _ = e.Finish(ctx, a, nil, "")

			hr, err := e.FinishHeat(ctx, "w1", model.CategoryRX, model.Int64Ptr(t0+75_000), "")
			So(err, ShouldBeNil)
			So(len(hr.Results), ShouldEqual, 2)

			ra, _ := e.Get(ctx, a)
			rb, _ := e.Get(ctx, b)
			So(*ra.FinalTimeMs, ShouldEqual, 20_000)
			So(*rb.FinalTimeMs, ShouldEqual, 60_000)
			So(rb.Status, ShouldEqual, model.StatusFinished)
		})

		Convey("A heat needs a workout and category", func() {
			_, err := e.StartHeat(ctx, "", model.CategoryRX, nil, "")
			So(errors.Is(err, ErrInvalidArgument), ShouldBeTrue)
		})
	})
}
