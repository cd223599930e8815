package sqlite_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/okian/eea/internal/adapters/kv"
	"github.com/okian/eea/internal/adapters/kv/kvtest"
	"github.com/okian/eea/internal/adapters/kv/sqlite"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestSQLiteConformance(t *testing.T) {
	kvtest.Run(t, "sqlite", func() kvtest.Harness {
		clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
		s, err := sqlite.Open(context.Background(), ":memory:",
			sqlite.WithClock(clock.Now), sqlite.WithSweepInterval(-1))
		if err != nil {
			t.Fatal(err)
		}
		return kvtest.Harness{Store: s, Advance: clock.Advance}
	})
}

func TestSQLiteDurability(t *testing.T) {
	Convey("Given a file-backed sqlite store", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "eea.db")
		clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}

		s, err := sqlite.Open(ctx, path, sqlite.WithClock(clock.Now), sqlite.WithSweepInterval(-1))
		So(err, ShouldBeNil)
		So(s.Ping(ctx), ShouldBeNil)
		So(s.Put(ctx, "keep", []byte("1"), time.Hour), ShouldBeNil)
		So(s.Put(ctx, "drop", []byte("2"), time.Second), ShouldBeNil)
		So(s.Close(), ShouldBeNil)

		Convey("When it is reopened", func() {
			s, err := sqlite.Open(ctx, path, sqlite.WithClock(clock.Now), sqlite.WithSweepInterval(-1))
			So(err, ShouldBeNil)
			defer s.Close()

			Convey("Then entries survived and expired rows can be swept", func() {
				got, err := s.Get(ctx, "keep")
				So(err, ShouldBeNil)
				So(string(got), ShouldEqual, "1")

				clock.Advance(time.Minute)
				_, err = s.Get(ctx, "drop")
				So(err, ShouldEqual, kv.ErrNotFound)

				n, err := s.Sweep(ctx)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 1)
			})
		})
	})
}
