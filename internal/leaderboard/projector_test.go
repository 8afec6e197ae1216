package leaderboard

import (
	"os"
	"testing"

	"github.com/okian/wodboard/internal/domain/model"
	"github.com/okian/wodboard/internal/domain/rankkey"
	"github.com/okian/wodboard/internal/domain/types"
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

func timeRec(team string, cat model.Category, status model.Status, final *int64, reps, noReps, updated int64) *model.ScoreRecord {
	r := &model.ScoreRecord{
		Identity:       model.Identity{WorkoutID: "w1", TeamID: team, Category: cat},
		TeamName:       "Team " + team,
		ScoringMode:    model.ModeTime,
		Status:         status,
		Reps:           reps,
		NoReps:         noReps,
		FinalTimeMs:    final,
		CapSeconds:     model.Int64Ptr(600),
		UpdatedAtEpoch: updated,
	}
	rankkey.Apply(r)
	return r
}

func TestPoints(t *testing.T) {
	Convey("Points drop by five per place and floor at five", t, func() {
		So(Points(1), ShouldEqual, 100)
		So(Points(2), ShouldEqual, 95)
		So(Points(19), ShouldEqual, 10)
		So(Points(20), ShouldEqual, 5)
		So(Points(21), ShouldEqual, 5)
		So(Points(40), ShouldEqual, 5)
	})
}

func TestClock(t *testing.T) {
	Convey("Clock renders mm:ss.cc", t, func() {
		So(Clock(0), ShouldEqual, "00:00.00")
		So(Clock(40000), ShouldEqual, "00:40.00")
		So(Clock(61234), ShouldEqual, "01:01.23")
		So(Clock(-5), ShouldEqual, "00:00.00")
		So(Clock(6_000_000), ShouldEqual, "100:00.00")
	})
}

func TestDetail(t *testing.T) {
	Convey("Given records in every mode", t, func() {
		Convey("Finished time shows the clock", func() {
			r := timeRec("a", model.CategoryRX, model.StatusFinished, model.Int64Ptr(40000), 30, 2, 1)
			So(Detail(r), ShouldEqual, "Time: 00:40.00 • Reps: 30 • No-reps: 2")
		})
		Convey("Running time shows a dash", func() {
			r := timeRec("a", model.CategoryRX, model.StatusRunning, nil, 3, 0, 1)
			So(Detail(r), ShouldEqual, "Time: — • Reps: 3 • No-reps: 0")
		})
		Convey("DNF time shows DNF", func() {
			r := timeRec("a", model.CategoryRX, model.StatusDNF, nil, 3, 0, 1)
			So(Detail(r), ShouldEqual, "Time: DNF • Reps: 3 • No-reps: 0")
		})
		Convey("Reps carry a DNF tag", func() {
			r := &model.ScoreRecord{ScoringMode: model.ModeReps, Status: model.StatusDNF, Reps: 12, NoReps: 1}
			So(Detail(r), ShouldEqual, "Reps: 12 • No-reps: 1 • DNF")
		})
		Convey("Load shows the best lift", func() {
			r := &model.ScoreRecord{ScoringMode: model.ModeLoad, Status: model.StatusRunning, Reps: 3, MaxLoadKg: model.Float64Ptr(82.5)}
			So(Detail(r), ShouldEqual, "Max: 82.5 kg • Reps: 3")
		})
		Convey("Load without a lift shows zero", func() {
			r := &model.ScoreRecord{ScoringMode: model.ModeLoad}
			So(Detail(r), ShouldEqual, "Max: 0 kg • Reps: 0")
		})
	})
}

func TestProject(t *testing.T) {
	Convey("Given a mixed field", t, func() {
		slow := timeRec("slow", model.CategoryRX, model.StatusFinished, model.Int64Ptr(90000), 50, 0, 5)
		fast := timeRec("fast", model.CategoryRX, model.StatusFinished, model.Int64Ptr(40000), 50, 0, 9)
		running := timeRec("run", model.CategoryRX, model.StatusRunning, nil, 45, 0, 1)
		other := timeRec("int", model.CategoryIntermedio, model.StatusFinished, model.Int64Ptr(10000), 50, 0, 1)
		recs := []*model.ScoreRecord{running, slow, other, fast}

		Convey("Rows are ordered by rank key with dense ranks and points", func() {
			rows := Project(recs, model.CategoryRX)
			So(len(rows), ShouldEqual, 3)
			So(rows[0].TeamID, ShouldEqual, "fast")
			So(rows[1].TeamID, ShouldEqual, "slow")
			So(rows[2].TeamID, ShouldEqual, "run")
			for i, r := range rows {
				So(r.Rank, ShouldEqual, i+1)
				So(r.Points, ShouldEqual, Points(i+1))
			}
		})

		Convey("An empty category ranks everyone", func() {
			rows := Project(recs, "")
			So(len(rows), ShouldEqual, 4)
			So(rows[0].TeamID, ShouldEqual, "int")
		})

		Convey("The input slice is left alone", func() {
			_ = Project(recs, "")
			So(recs[0], ShouldEqual, running)
		})

		Convey("Equal scores are broken by latest update, then identity", func() {
			a := timeRec("a", model.CategoryRX, model.StatusFinished, model.Int64Ptr(40000), 0, 0, 3)
			b := timeRec("b", model.CategoryRX, model.StatusFinished, model.Int64Ptr(40000), 0, 0, 7)
			c := timeRec("c", model.CategoryRX, model.StatusFinished, model.Int64Ptr(40000), 0, 0, 7)
			rows := Project([]*model.ScoreRecord{a, c, b}, "")
			So(rows[0].TeamID, ShouldEqual, "b")
			So(rows[1].TeamID, ShouldEqual, "c")
			So(rows[2].TeamID, ShouldEqual, "a")
		})
	})
}

func TestDiff(t *testing.T) {
	Convey("Given two boards", t, func() {
		prev := []types.Row{{ID: "a", Rank: 1}, {ID: "b", Rank: 2}, {ID: "gone", Rank: 3}}
		next := []types.Row{{ID: "b", Rank: 1}, {ID: "a", Rank: 2}, {ID: "new", Rank: 3}}

		moves := Diff(prev, next)

		Convey("Each next row gets one move", func() {
			So(len(moves), ShouldEqual, 3)
			So(moves[0], ShouldResemble, types.Move{ID: "b", PreviousRank: 2, Rank: 1, Movement: 1})
			So(moves[1], ShouldResemble, types.Move{ID: "a", PreviousRank: 1, Rank: 2, Movement: -1})
			So(moves[2], ShouldResemble, types.Move{ID: "new", PreviousRank: 0, Rank: 3, Movement: 0})
		})

		Convey("Rows carry their previous rank", func() {
			So(next[0].PreviousRank, ShouldEqual, 2)
			So(next[2].PreviousRank, ShouldEqual, 0)
		})

		Convey("A first board is all new", func() {
			for _, m := range Diff(nil, next) {
				So(m.Direction(), ShouldEqual, "new")
			}
		})
	})
}

func TestHeatStatus(t *testing.T) {
	Convey("Given a heat", t, func() {
		a := timeRec("a", model.CategoryRX, model.StatusNotStarted, nil, 0, 0, 1)
		b := timeRec("b", model.CategoryRX, model.StatusNotStarted, nil, 0, 0, 1)

		Convey("Nothing started is scheduled", func() {
			h := HeatStatus("w1", model.CategoryRX, []*model.ScoreRecord{a, b})
			So(h.Status, ShouldEqual, types.HeatScheduled)
			So(h.StartedAt, ShouldBeNil)
		})

		Convey("Any running record makes it running from the earliest start", func() {
			a.Status, a.StartedAt = model.StatusRunning, model.Int64Ptr(2000)
			b.Status, b.StartedAt = model.StatusRunning, model.Int64Ptr(1000)
			h := HeatStatus("w1", model.CategoryRX, []*model.ScoreRecord{a, b})
			So(h.Status, ShouldEqual, types.HeatRunning)
			So(*h.StartedAt, ShouldEqual, 1000)
		})

		Convey("Finished records report the longest time", func() {
			a.Status, a.FinalTimeMs = model.StatusFinished, model.Int64Ptr(30000)
			b.Status, b.FinalTimeMs = model.StatusFinished, model.Int64Ptr(45000)
			h := HeatStatus("w1", model.CategoryRX, []*model.ScoreRecord{a, b})
			So(h.Status, ShouldEqual, types.HeatFinished)
			So(*h.FinalTimeMs, ShouldEqual, 45000)
		})

		Convey("Other categories are ignored", func() {
			b.Category = model.CategoryIntermedio
			b.Status, b.StartedAt = model.StatusRunning, model.Int64Ptr(1000)
			h := HeatStatus("w1", model.CategoryRX, []*model.ScoreRecord{a, b})
			So(h.Status, ShouldEqual, types.HeatScheduled)
		})
	})
}
