package ident_test

import (
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/okian/eea/internal/domain/ident"
	. "github.com/smartystreets/goconvey/convey"
)

func TestGenerator(t *testing.T) {
	Convey("Given a generator", t, func() {
		g := ident.NewGenerator()

		Convey("When minting an id", func() {
			id, err := g.New()
			So(err, ShouldBeNil)

			Convey("Then it carries the prefix and a fixed-width body", func() {
				So(id, ShouldStartWith, ident.Prefix)
				So(len(id), ShouldEqual, len(ident.Prefix)+26)
				So(ident.Valid(id), ShouldBeTrue)
			})
		})

		Convey("When minting many ids in a burst", func() {
			ids := make([]string, 500)
			for i := range ids {
				id, err := g.New()
				So(err, ShouldBeNil)
				ids[i] = id
			}

			Convey("Then string order equals creation order and ids are unique", func() {
				So(sort.StringsAreSorted(ids), ShouldBeTrue)
				seen := make(map[string]bool, len(ids))
				for _, id := range ids {
					So(seen[id], ShouldBeFalse)
					seen[id] = true
				}
			})
		})
	})

	Convey("Given a clock that steps backwards", t, func() {
		times := []time.Time{
			time.Date(2024, 12, 27, 10, 30, 0, 0, time.UTC),
			time.Date(2024, 12, 27, 10, 29, 0, 0, time.UTC),
		}
		i := 0
		g := ident.NewGenerator(ident.WithClock(func() time.Time {
			t := times[i]
			if i < len(times)-1 {
				i++
			}
			return t
		}))

		first, err := g.New()
		So(err, ShouldBeNil)
		second, err := g.New()
		So(err, ShouldBeNil)

		Convey("Then ordering is still preserved", func() {
			So(second > first, ShouldBeTrue)
		})

		Convey("Then the encoded time is recoverable", func() {
			ts, ok := ident.Time(first)
			So(ok, ShouldBeTrue)
			So(ts.Equal(times[0]), ShouldBeTrue)
		})
	})

	Convey("Given ids minted a millisecond apart", t, func() {
		base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		now := base
		g := ident.NewGenerator(ident.WithClock(func() time.Time { return now }))
		a, _ := g.New()
		now = base.Add(time.Millisecond)
		b, _ := g.New()
		So(strings.Compare(a, b), ShouldEqual, -1)
	})
}

func TestValid(t *testing.T) {
	Convey("Given malformed ids", t, func() {
		for _, s := range []string{
			"",
			"does-not-exist",
			"eea_",
			"eea_01ARZ3NDEKTSV4RRFFQ69G5FA",   // too short
			"eea_01ARZ3NDEKTSV4RRFFQ69G5FAVX", // too long
			"eea_01ARZ3NDEKTSV4RRFFQ69G5FAU",  // U is not Crockford
			"att_01ARZ3NDEKTSV4RRFFQ69G5FAV",
		} {
			So(ident.Valid(s), ShouldBeFalse)
		}
		_, ok := ident.Time("nope")
		So(ok, ShouldBeFalse)
	})

	Convey("Given a well-formed id", t, func() {
		So(ident.Valid("eea_01ARZ3NDEKTSV4RRFFQ69G5FAV"), ShouldBeTrue)
	})
}
