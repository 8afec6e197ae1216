package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	dedupe "github.com/okian/wodboard/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new InMemoryDeduper", t, func() {
		d := dedupe.NewInMemoryDeduper()

		Convey("When a command is new", func() {
			seen := d.SeenAndRecord(ctx, "cmd-1")

			Convey("Then it is recorded and reported as unseen", func() {
				So(seen, ShouldBeFalse)
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("Then a retry of it is reported as seen", func() {
				So(d.SeenAndRecord(ctx, "cmd-1"), ShouldBeTrue)
				So(d.Size(), ShouldEqual, 1)
			})

			Convey("Then its outcome is pending until completed", func() {
				_, ok := d.Outcome(ctx, "cmd-1")
				So(ok, ShouldBeFalse)

				d.Complete(ctx, "cmd-1", "applied")
				got, ok := d.Outcome(ctx, "cmd-1")
				So(ok, ShouldBeTrue)
				So(got, ShouldEqual, "applied")
			})

			Convey("Then unrecording it allows a retry", func() {
				d.Unrecord(ctx, "cmd-1")
				So(d.Size(), ShouldEqual, 0)
				So(d.SeenAndRecord(ctx, "cmd-1"), ShouldBeFalse)
			})
		})

		Convey("When completing or unrecording an unknown command", func() {
			d.Complete(ctx, "ghost", 1)
			d.Unrecord(ctx, "ghost")

			Convey("Then nothing is stored", func() {
				So(d.Size(), ShouldEqual, 0)
				_, ok := d.Outcome(ctx, "ghost")
				So(ok, ShouldBeFalse)
			})
		})
	})

	Convey("Given a bounded deduper at capacity", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
		for _, id := range []string{"cmd-1", "cmd-2", "cmd-3"} {
			So(d.SeenAndRecord(ctx, id), ShouldBeFalse)
		}

		Convey("When one more command arrives", func() {
			So(d.SeenAndRecord(ctx, "cmd-4"), ShouldBeFalse)

			Convey("Then the oldest is evicted first", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, "cmd-3"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "cmd-4"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "cmd-1"), ShouldBeFalse)
				So(d.SeenAndRecord(ctx, "cmd-3"), ShouldBeTrue)
			})
		})
	})

	Convey("Given an unbounded deduper", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))

		Convey("When many commands are recorded", func() {
			const n = 1000
			for i := 0; i < n; i++ {
				d.SeenAndRecord(ctx, fmt.Sprintf("cmd-%d", i))
			}

			Convey("Then none is evicted", func() {
				So(d.Size(), ShouldEqual, n)
				So(d.SeenAndRecord(ctx, "cmd-0"), ShouldBeTrue)
			})
		})
	})
}

func TestDedupeConcurrency(t *testing.T) {
	Convey("Given judges retrying the same command concurrently", t, func() {
		d := dedupe.NewInMemoryDeduper()
		var fresh atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if !d.SeenAndRecord(context.Background(), "cmd-shared") {
					fresh.Add(1)
				}
			}()
		}
		wg.Wait()

		Convey("Then exactly one of them wins", func() {
			So(fresh.Load(), ShouldEqual, 1)
			So(d.Size(), ShouldEqual, 1)
		})
	})
}
