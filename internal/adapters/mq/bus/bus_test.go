package bus

import (
	"context"
	"testing"
	"time"

	"github.com/okian/wodboard/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func snapshot(team string, version, reps int64) *model.ScoreRecord {
	return &model.ScoreRecord{
		Identity:    model.Identity{WorkoutID: "w1", TeamID: team, Category: model.CategoryRX},
		ScoringMode: model.ModeReps,
		Reps:        reps,
		Version:     version,
	}
}

func receive(t *testing.T, sub *Subscription) (Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		return ev, ok
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}, false
	}
}

func TestBus(t *testing.T) {
	Convey("Given a bus", t, func() {
		ctx := context.Background()
		b := New(WithBuffer(2))
		Reset(func() { _ = b.Close() })

		Convey("Record subscribers get the latest snapshot replayed", func() {
			So(b.Publish(ctx, NewEvent("reps", snapshot("a", 1, 1))), ShouldBeNil)
			So(b.Publish(ctx, NewEvent("reps", snapshot("a", 2, 2))), ShouldBeNil)

			sub, err := b.SubscribeRecord(ctx, "w1__a__RX")
			So(err, ShouldBeNil)
			ev, ok := receive(t, sub)
			So(ok, ShouldBeTrue)
			So(ev.Record.Version, ShouldEqual, 2)
			So(ev.ID, ShouldNotBeEmpty)
		})

		Convey("Workout subscribers see every record of the workout", func() {
			sub, err := b.SubscribeWorkout(ctx, "w1")
			So(err, ShouldBeNil)
			So(b.Publish(ctx, NewEvent("reps", snapshot("a", 1, 1))), ShouldBeNil)
			So(b.Publish(ctx, NewEvent("reps", snapshot("b", 1, 1))), ShouldBeNil)

			first, _ := receive(t, sub)
			second, _ := receive(t, sub)
			So(first.Record.TeamID, ShouldEqual, "a")
			So(second.Record.TeamID, ShouldEqual, "b")
		})

		Convey("Stale versions are discarded", func() {
			sub, err := b.SubscribeRecord(ctx, "w1__a__RX")
			So(err, ShouldBeNil)
			So(b.Publish(ctx, NewEvent("reps", snapshot("a", 5, 5))), ShouldBeNil)
			So(b.Publish(ctx, NewEvent("reps", snapshot("a", 4, 4))), ShouldBeNil)
			So(b.Publish(ctx, NewEvent("reps", snapshot("a", 6, 6))), ShouldBeNil)

			first, _ := receive(t, sub)
			second, _ := receive(t, sub)
			So(first.Record.Version, ShouldEqual, 5)
			So(second.Record.Version, ShouldEqual, 6)

			latest, ok := b.Latest("w1__a__RX")
			So(ok, ShouldBeTrue)
			So(latest.Record.Version, ShouldEqual, 6)
		})

		Convey("A slow subscriber keeps the newest events", func() {
			sub, err := b.SubscribeWorkout(ctx, "w1")
			So(err, ShouldBeNil)
			for v := int64(1); v <= 5; v++ {
				So(b.Publish(ctx, NewEvent("reps", snapshot("a", v, v))), ShouldBeNil)
			}
			first, _ := receive(t, sub)
			second, _ := receive(t, sub)
			So(first.Record.Version, ShouldEqual, 4)
			So(second.Record.Version, ShouldEqual, 5)
		})

		Convey("Snapshots are immutable copies", func() {
			rec := snapshot("a", 1, 1)
			ev := NewEvent("reps", rec)
			rec.Reps = 99
			So(ev.Record.Reps, ShouldEqual, 1)
		})

		Convey("Cancelling the context closes the subscription", func() {
			subCtx, cancel := context.WithCancel(ctx)
			sub, err := b.SubscribeRecord(subCtx, "w1__a__RX")
			So(err, ShouldBeNil)
			cancel()
			_, ok := receive(t, sub)
			So(ok, ShouldBeFalse)
			sub.Close()
		})

		Convey("Close ends subscriptions and rejects publishes", func() {
			sub, err := b.SubscribeWorkout(ctx, "w1")
			So(err, ShouldBeNil)
			So(b.Close(), ShouldBeNil)
			_, ok := receive(t, sub)
			So(ok, ShouldBeFalse)
			So(b.Publish(ctx, NewEvent("reps", snapshot("a", 1, 1))), ShouldEqual, ErrClosed)
			_, err = b.SubscribeRecord(ctx, "x")
			So(err, ShouldEqual, ErrClosed)
		})
	})
}
