package main

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/okian/eea/internal/adapters/kv/memory"
	"github.com/okian/eea/internal/domain/tenancy"
	"github.com/smartystreets/goconvey/convey"
)

var apiKeyLine = regexp.MustCompile(`api_key: (\S+)`)

func TestRun(t *testing.T) {
	convey.Convey("Given an empty key store", t, func() {
		ctx := context.Background()
		store := memory.New(memory.WithSweepInterval(-1))
		defer store.Close()
		registry := tenancy.New(store)

		convey.Convey("When a key is created", func() {
			var out bytes.Buffer
			err := run(ctx, []string{"create", "-plan", "gold", "-limit", "600"}, store, &out)
			convey.So(err, convey.ShouldBeNil)

			m := apiKeyLine.FindStringSubmatch(out.String())
			convey.So(m, convey.ShouldHaveLength, 2)
			raw := m[1]

			convey.Convey("Then it authenticates with its plan and limit", func() {
				entry, err := registry.Authenticate(ctx, raw)
				convey.So(err, convey.ShouldBeNil)
				convey.So(entry.Plan, convey.ShouldEqual, "gold")
				convey.So(entry.RateLimitPerMin, convey.ShouldEqual, 600)
			})

			convey.Convey("Then disabling it by raw key stops authentication", func() {
				out.Reset()
				convey.So(run(ctx, []string{"disable", "-key", raw}, store, &out), convey.ShouldBeNil)
				convey.So(out.String(), convey.ShouldContainSubstring, tenancy.StatusDisabled)
				_, err := registry.Authenticate(ctx, raw)
				convey.So(errors.Is(err, tenancy.ErrUnauthenticated), convey.ShouldBeTrue)

				convey.Convey("And enabling it by hash restores it", func() {
					convey.So(run(ctx, []string{"enable", "-hash", tenancy.HashKey(raw)}, store, &out), convey.ShouldBeNil)
					_, err := registry.Authenticate(ctx, raw)
					convey.So(err, convey.ShouldBeNil)
				})
			})
		})

		convey.Convey("When the command line is wrong", func() {
			var out bytes.Buffer
			convey.So(errors.Is(run(ctx, nil, store, &out), errUsage), convey.ShouldBeTrue)
			convey.So(errors.Is(run(ctx, []string{"rotate"}, store, &out), errUsage), convey.ShouldBeTrue)
			convey.So(errors.Is(run(ctx, []string{"disable"}, store, &out), errUsage), convey.ShouldBeTrue)
			convey.So(errors.Is(run(ctx, []string{"create", "-limit", "x"}, store, &out), errUsage), convey.ShouldBeTrue)
		})

		convey.Convey("When disabling an unknown key", func() {
			var out bytes.Buffer
			err := run(ctx, []string{"disable", "-key", "eea_live_missing"}, store, &out)
			convey.So(errors.Is(err, tenancy.ErrUnknownKey), convey.ShouldBeTrue)
		})
	})
}
