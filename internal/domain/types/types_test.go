package types_test

import (
	"testing"

	types "github.com/okian/wodboard/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMoveDirection(t *testing.T) {
	Convey("Given leaderboard moves", t, func() {
		Convey("A row absent from the previous board is new", func() {
			So(types.Move{Rank: 3}.Direction(), ShouldEqual, "new")
		})

		Convey("Positive movement is up, negative is down", func() {
			So(types.Move{PreviousRank: 4, Rank: 2, Movement: 2}.Direction(), ShouldEqual, "up")
			So(types.Move{PreviousRank: 1, Rank: 3, Movement: -2}.Direction(), ShouldEqual, "down")
		})

		Convey("An unchanged rank is same", func() {
			So(types.Move{PreviousRank: 5, Rank: 5}.Direction(), ShouldEqual, "same")
		})
	})
}
