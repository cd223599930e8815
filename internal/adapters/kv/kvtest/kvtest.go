// Package kvtest holds a conformance suite shared by every kv.Store backend.
package kvtest

import (
	"context"
	"testing"
	"time"

	"github.com/okian/eea/internal/adapters/kv"
	. "github.com/smartystreets/goconvey/convey"
)

// Harness is one fresh backend plus a way to move its clock forward.
type Harness struct {
	Store   kv.Store
	Advance func(time.Duration)
}

// Run exercises the kv.Store contract against backends built by newHarness.
func Run(t *testing.T, name string, newHarness func() Harness) {
	Convey("Given a "+name+" kv store", t, func() {
		h := newHarness()
		ctx := context.Background()
		Reset(func() { _ = h.Store.Close() })

		Convey("When reading a missing key", func() {
			_, err := h.Store.Get(ctx, "missing")
			So(err, ShouldEqual, kv.ErrNotFound)
		})

		Convey("When writing and reading back", func() {
			So(h.Store.Put(ctx, "k", []byte("v1"), 0), ShouldBeNil)
			got, err := h.Store.Get(ctx, "k")
			So(err, ShouldBeNil)
			So(string(got), ShouldEqual, "v1")

			Convey("Then a second put overwrites", func() {
				So(h.Store.Put(ctx, "k", []byte("v2"), 0), ShouldBeNil)
				got, err := h.Store.Get(ctx, "k")
				So(err, ShouldBeNil)
				So(string(got), ShouldEqual, "v2")
			})

			Convey("Then delete removes it and is idempotent", func() {
				So(h.Store.Delete(ctx, "k"), ShouldBeNil)
				_, err := h.Store.Get(ctx, "k")
				So(err, ShouldEqual, kv.ErrNotFound)
				So(h.Store.Delete(ctx, "k"), ShouldBeNil)
			})
		})

		Convey("When an entry has a TTL", func() {
			So(h.Store.Put(ctx, "ttl", []byte("x"), 2*time.Second), ShouldBeNil)

			Convey("Then it is readable before expiry", func() {
				h.Advance(time.Second)
				got, err := h.Store.Get(ctx, "ttl")
				So(err, ShouldBeNil)
				So(string(got), ShouldEqual, "x")
			})

			Convey("Then it is gone after expiry", func() {
				h.Advance(3 * time.Second)
				_, err := h.Store.Get(ctx, "ttl")
				So(err, ShouldEqual, kv.ErrNotFound)
			})
		})

		Convey("When an entry has no TTL", func() {
			So(h.Store.Put(ctx, "forever", []byte("x"), 0), ShouldBeNil)
			h.Advance(365 * 24 * time.Hour)
			_, err := h.Store.Get(ctx, "forever")
			So(err, ShouldBeNil)
		})

		Convey("When values are binary", func() {
			val := []byte{0, 1, 2, 255}
			So(h.Store.Put(ctx, "bin", val, time.Minute), ShouldBeNil)
			got, err := h.Store.Get(ctx, "bin")
			So(err, ShouldBeNil)
			So(got, ShouldResemble, val)
		})
	})
}
