package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okian/eea/internal/adapters/kv"
	"github.com/okian/eea/internal/adapters/kv/memory"
	"github.com/okian/eea/internal/adapters/repository"
	app "github.com/okian/eea/internal/app"
	"github.com/okian/eea/internal/domain/errkind"
	"github.com/okian/eea/internal/domain/ident"
	"github.com/okian/eea/internal/domain/ratelimit"
	"github.com/okian/eea/internal/domain/signing"
	"github.com/okian/eea/internal/domain/tenancy"
	"github.com/okian/eea/internal/domain/validation"
	. "github.com/smartystreets/goconvey/convey"
)

const validBody = `{"event_type":"payment","occurred_at":"2024-12-27T10:30:00Z","amount":"150.00",` +
	`"currency":"GBP","source_system":"stripe","references":{"order_id":"ORD-001"}}`

const reorderedBody = `{"references":{"order_id":"ORD-001"},"source_system":"stripe","currency":"GBP",` +
	`"amount":"150.00","occurred_at":"2024-12-27T10:30:00Z","event_type":"payment","meta":null}`

var fixedNow = time.Date(2024, 12, 27, 10, 30, 0, 123_456_789, time.UTC)

type fixture struct {
	svc      *app.Service
	kv       kv.Store
	store    *repository.AttestationStore
	registry *tenancy.Registry
	signer   *signing.Signer
}

func newFixture(backing kv.Store, opts ...app.Option) fixture {
	clock := func() time.Time { return fixedNow }
	store := repository.New(backing)
	registry := tenancy.New(backing, tenancy.WithClock(clock))
	validator, err := validation.New()
	if err != nil {
		panic(err)
	}
	signer, err := signing.NewSigner("test-secret", "1.0.0")
	if err != nil {
		panic(err)
	}
	base := []app.Option{
		app.WithStore(store),
		app.WithRegistry(registry),
		app.WithLimiter(ratelimit.New(backing, ratelimit.WithClock(clock))),
		app.WithValidator(validator),
		app.WithSigner(signer),
		app.WithClock(clock),
		app.WithIDGenerator(ident.NewGenerator(ident.WithClock(clock))),
	}
	svc, err := app.New(append(base, opts...)...)
	if err != nil {
		panic(err)
	}
	return fixture{svc: svc, kv: backing, store: store, registry: registry, signer: signer}
}

// flakyKV fails writes once armed.
type flakyKV struct {
	kv.Store
	failPuts bool
}

// hangupKV cancels the caller's context once a record has been written.
type hangupKV struct {
	kv.Store
	cancel context.CancelFunc
}

func (h *hangupKV) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := h.Store.Put(ctx, key, value, ttl)
	if strings.HasPrefix(key, "eea:att:") {
		h.cancel()
	}
	return err
}

func (f *flakyKV) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if f.failPuts {
		return errors.New("disk full")
	}
	return f.Store.Put(ctx, key, value, ttl)
}

func TestNew(t *testing.T) {
	Convey("Given missing collaborators", t, func() {
		_, err := app.New()
		So(errors.Is(err, app.ErrMissingDependency), ShouldBeTrue)

		validator, _ := validation.New()
		_, err = app.New(app.WithValidator(validator))
		So(errors.Is(err, app.ErrMissingDependency), ShouldBeTrue)
	})
}

func TestAuthenticateAndAdmit(t *testing.T) {
	Convey("Given a service with one provisioned key", t, func() {
		ctx := context.Background()
		backing := memory.New(memory.WithSweepInterval(-1))
		defer backing.Close()
		f := newFixture(backing, app.WithDefaultRateLimit(2))
		raw, entry, err := f.registry.Provision(ctx, "starter", 0)
		So(err, ShouldBeNil)

		Convey("When the key is presented", func() {
			got, err := f.svc.Authenticate(ctx, raw)
			So(err, ShouldBeNil)
			So(got.KeyID, ShouldEqual, entry.KeyID)
		})

		Convey("When a wrong or empty key is presented", func() {
			_, err := f.svc.Authenticate(ctx, "eea_live_nope")
			So(errkind.CodeOf(err), ShouldEqual, errkind.Unauthorized)
			_, err = f.svc.Authenticate(ctx, "")
			So(errkind.CodeOf(err), ShouldEqual, errkind.Unauthorized)
		})

		Convey("When the entry has no limit, the default applies", func() {
			d, err := f.svc.Admit(ctx, entry)
			So(err, ShouldBeNil)
			So(d.Limit, ShouldEqual, 2)
			So(d.Remaining, ShouldEqual, 1)

			_, err = f.svc.Admit(ctx, entry)
			So(err, ShouldBeNil)

			d, err = f.svc.Admit(ctx, entry)
			So(errkind.CodeOf(err), ShouldEqual, errkind.RateLimited)
			So(d.Allowed, ShouldBeFalse)
			So(d.Remaining, ShouldEqual, 0)
			So(d.ResetAt, ShouldEqual, time.Date(2024, 12, 27, 10, 31, 0, 0, time.UTC).Unix())
		})

		Convey("When the entry carries its own limit", func() {
			entry.RateLimitPerMin = 5
			d, err := f.svc.Admit(ctx, entry)
			So(err, ShouldBeNil)
			So(d.Limit, ShouldEqual, 5)
		})
	})
}

func TestAttest(t *testing.T) {
	Convey("Given a service on memory kv", t, func() {
		ctx := context.Background()
		backing := memory.New(memory.WithSweepInterval(-1))
		defer backing.Close()
		f := newFixture(backing)

		Convey("When a valid event is attested", func() {
			res, err := f.svc.Attest(ctx, []byte(validBody))
			So(err, ShouldBeNil)
			rec := res.Record

			Convey("Then a signed receipt is minted", func() {
				So(res.Idempotent, ShouldBeFalse)
				So(ident.Valid(rec.AttestationID), ShouldBeTrue)
				So(rec.EventHash, ShouldStartWith, "sha256:")
				So(rec.AttestationSig, ShouldStartWith, "hmacsha256:")
				So(rec.SchemaVersion, ShouldEqual, "1.0.0")
				So(rec.AttestedAt, ShouldEqual, "2024-12-27T10:30:00.123Z")
				So(f.signer.Verify(rec.AttestationID, rec.EventHash, rec.AttestedAt, rec.AttestationSig), ShouldBeTrue)
				So(f.svc.Verify(rec), ShouldBeTrue)
			})

			Convey("And the canonical event is stored with sorted keys", func() {
				b, err := rec.CanonicalEvent.MarshalJSON()
				So(err, ShouldBeNil)
				So(string(b), ShouldStartWith, `{"amount":"150.00","currency":"GBP","event_type":"payment"`)
			})

			Convey("And a reordered resubmission is an idempotent hit", func() {
				again, err := f.svc.Attest(ctx, []byte(reorderedBody))
				So(err, ShouldBeNil)
				So(again.Idempotent, ShouldBeTrue)
				So(again.Record.AttestationID, ShouldEqual, rec.AttestationID)
				So(again.Record.AttestationSig, ShouldEqual, rec.AttestationSig)
			})

			Convey("And a different event gets a different id", func() {
				other, err := f.svc.Attest(ctx, []byte(strings.Replace(validBody, "150.00", "151.00", 1)))
				So(err, ShouldBeNil)
				So(other.Idempotent, ShouldBeFalse)
				So(other.Record.AttestationID, ShouldNotEqual, rec.AttestationID)
				So(other.Record.EventHash, ShouldNotEqual, rec.EventHash)
			})

			Convey("And it can be fetched", func() {
				got, err := f.svc.Fetch(ctx, rec.AttestationID)
				So(err, ShouldBeNil)
				So(got.AttestationSig, ShouldEqual, rec.AttestationSig)
			})

			Convey("And tampering with the stored time breaks verification", func() {
				tampered := rec
				tampered.AttestedAt = "2024-12-27T10:30:01.123Z"
				So(f.svc.Verify(tampered), ShouldBeFalse)
			})
		})

		Convey("When the body is not JSON", func() {
			for _, body := range []string{"", "{", `{"a":1} {"b":2}`, "not json"} {
				_, err := f.svc.Attest(ctx, []byte(body))
				So(errkind.CodeOf(err), ShouldEqual, errkind.InvalidJSON)
			}
		})

		Convey("When the event fails validation", func() {
			_, err := f.svc.Attest(ctx, []byte(strings.Replace(validBody, "GBP", "gbp", 1)))
			So(errkind.CodeOf(err), ShouldEqual, errkind.SchemaValidationFailed)

			_, err = f.svc.Attest(ctx, []byte(`{"event_type":"payment"}`))
			So(errkind.CodeOf(err), ShouldEqual, errkind.MissingRequiredField)
		})

		Convey("When the hash index points at an expired record", func() {
			res, err := f.svc.Attest(ctx, []byte(validBody))
			So(err, ShouldBeNil)
			So(backing.Delete(ctx, "eea:att:"+res.Record.AttestationID), ShouldBeNil)

			again, err := f.svc.Attest(ctx, []byte(validBody))
			So(err, ShouldBeNil)
			So(again.Idempotent, ShouldBeFalse)
			So(again.Record.AttestationID, ShouldNotEqual, res.Record.AttestationID)
		})

		Convey("When fetching unknown or malformed ids", func() {
			valid, err := ident.NewGenerator().New()
			So(err, ShouldBeNil)
			_, err = f.svc.Fetch(ctx, valid)
			So(errkind.CodeOf(err), ShouldEqual, errkind.NotFound)

			for _, id := range []string{"", "nope", "eea_", "eea_../../etc"} {
				_, err = f.svc.Fetch(ctx, id)
				So(errkind.CodeOf(err), ShouldEqual, errkind.NotFound)
			}
		})
	})

	Convey("Given a store that rejects writes", t, func() {
		ctx := context.Background()
		backing := memory.New(memory.WithSweepInterval(-1))
		defer backing.Close()
		flaky := &flakyKV{Store: backing}
		f := newFixture(flaky)
		flaky.failPuts = true

		Convey("Then attest fails as an internal error without leaking the cause", func() {
			_, err := f.svc.Attest(ctx, []byte(validBody))
			So(errkind.CodeOf(err), ShouldEqual, errkind.Internal)
			So(errkind.MessageOf(err), ShouldEqual, "internal error")
			So(err.Error(), ShouldContainSubstring, "disk full")
		})
	})

	Convey("Given a caller that goes away after the record write", t, func() {
		backing := memory.New(memory.WithSweepInterval(-1))
		defer backing.Close()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		f := newFixture(&hangupKV{Store: backing, cancel: cancel})

		first, err := f.svc.Attest(ctx, []byte(validBody))

		Convey("Then the hash index is still written", func() {
			So(err, ShouldBeNil)
			So(ctx.Err(), ShouldNotBeNil)
			id, err := f.store.GetIDByHash(context.Background(), first.Record.EventHash)
			So(err, ShouldBeNil)
			So(id, ShouldEqual, first.Record.AttestationID)
		})

		Convey("And a retry is an idempotent hit on the same id", func() {
			retry, err := f.svc.Attest(context.Background(), []byte(validBody))
			So(err, ShouldBeNil)
			So(retry.Idempotent, ShouldBeTrue)
			So(retry.Record.AttestationID, ShouldEqual, first.Record.AttestationID)
		})
	})

	Convey("Given an already cancelled context", t, func() {
		backing := memory.New(memory.WithSweepInterval(-1))
		defer backing.Close()
		f := newFixture(backing)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		Convey("Then attest still completes", func() {
			res, err := f.svc.Attest(ctx, []byte(validBody))
			So(err, ShouldBeNil)
			So(res.Idempotent, ShouldBeFalse)
		})
	})

	Convey("Given concurrent identical submissions", t, func() {
		ctx := context.Background()
		backing := memory.New(memory.WithSweepInterval(-1))
		defer backing.Close()
		f := newFixture(backing)

		const callers = 20
		results := make([]app.Result, callers)
		errs := make([]error, callers)
		var wg sync.WaitGroup
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = f.svc.Attest(ctx, []byte(validBody))
			}(i)
		}
		wg.Wait()

		Convey("Then every caller gets a verifiable receipt for the same hash", func() {
			for i := range results {
				So(errs[i], ShouldBeNil)
				So(results[i].Record.EventHash, ShouldEqual, results[0].Record.EventHash)
				So(f.svc.Verify(results[i].Record), ShouldBeTrue)
			}
		})

		Convey("And a later submission resolves to one of the minted ids", func() {
			minted := map[string]bool{}
			for _, r := range results {
				if !r.Idempotent {
					minted[r.Record.AttestationID] = true
				}
			}
			So(len(minted), ShouldBeGreaterThanOrEqualTo, 1)

			later, err := f.svc.Attest(ctx, []byte(validBody))
			So(err, ShouldBeNil)
			So(later.Idempotent, ShouldBeTrue)
			So(minted[later.Record.AttestationID], ShouldBeTrue)
		})
	})

	Convey("Given accessors", t, func() {
		backing := memory.New(memory.WithSweepInterval(-1))
		defer backing.Close()
		f := newFixture(backing)
		So(f.svc.SchemaVersion(), ShouldEqual, "1.0.0")
		So(f.svc.MaxPayloadBytes(), ShouldEqual, validation.DefaultMaxPayloadBytes)
		So(f.svc.Now(), ShouldEqual, fixedNow)
	})
}
