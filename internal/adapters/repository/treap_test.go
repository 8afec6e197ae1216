package repository

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/okian/wodboard/internal/domain/rankkey"
	. "github.com/smartystreets/goconvey/convey"
)

func TestTreap(t *testing.T) {
	Convey("Given a treap with random keys", t, func() {
		rng := rand.New(rand.NewPCG(1, 2))
		tr := newTreap(rng)

		type item struct {
			id  string
			key rankkey.Key
		}
		items := make([]item, 0, 200)
		for i := 0; i < 200; i++ {
			it := item{
				id:  fmt.Sprintf("t%03d", i),
				key: rankkey.Key{Primary: rng.Int64N(20), Secondary: rng.Int64N(3)},
			}
			items = append(items, it)
			tr.Insert(it.id, it.key)
		}
		sorted := append([]item(nil), items...)
		sort.Slice(sorted, func(i, j int) bool {
			return less(sorted[i].key, sorted[i].id, sorted[j].key, sorted[j].id)
		})

		Convey("In-order traversal follows key then id", func() {
			ids := tr.IDs(nil)
			So(len(ids), ShouldEqual, len(sorted))
			for i := range sorted {
				So(ids[i], ShouldEqual, sorted[i].id)
			}
		})

		Convey("Position is the 1-based rank", func() {
			for i, it := range sorted {
				So(tr.Position(it.id, it.key), ShouldEqual, i+1)
			}
			So(tr.Position("missing", rankkey.Key{}), ShouldEqual, 0)
		})

		Convey("Delete removes exactly one node", func() {
			victim := sorted[17]
			tr.Delete(victim.id, victim.key)
			So(tr.Len(), ShouldEqual, len(sorted)-1)
			So(tr.Position(victim.id, victim.key), ShouldEqual, 0)
			So(tr.IDs(nil), ShouldNotContain, victim.id)
		})

		Convey("Deleting an unknown key is a no-op", func() {
			tr.Delete("ghost", rankkey.Key{Primary: 999})
			So(tr.Len(), ShouldEqual, len(sorted))
		})
	})
}
