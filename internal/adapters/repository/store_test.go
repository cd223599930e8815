package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/eea/internal/adapters/kv"
	"github.com/okian/eea/internal/adapters/kv/memory"
	"github.com/okian/eea/internal/adapters/repository"
	"github.com/okian/eea/internal/domain/event"
	. "github.com/smartystreets/goconvey/convey"
)

var errBackend = errors.New("backend down")

// failingKV fails Put for keys with the given prefix.
type failingKV struct {
	kv.Store
	failPrefix string
}

func (f failingKV) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if len(key) >= len(f.failPrefix) && key[:len(f.failPrefix)] == f.failPrefix {
		return errBackend
	}
	return f.Store.Put(ctx, key, value, ttl)
}

func sampleRecord() repository.Record {
	ev, err := event.Parse([]byte(`{"amount":"10.00","currency":"EUR","event_type":"fee"}`))
	if err != nil {
		panic(err)
	}
	return repository.Record{
		AttestationID:  "eea_01J00000000000000000000000",
		SchemaVersion:  "1.0.0",
		AttestedAt:     "2024-12-27T10:30:00.000Z",
		EventHash:      "sha256:abc",
		AttestationSig: "hmacsha256:def",
		CanonicalEvent: ev,
	}
}

func TestAttestationStore(t *testing.T) {
	Convey("Given an attestation store on memory kv", t, func() {
		ctx := context.Background()
		backing := memory.New(memory.WithSweepInterval(-1))
		defer backing.Close()
		store := repository.New(backing)
		So(store.Retention(), ShouldEqual, repository.DefaultRetention)

		Convey("When a record is put", func() {
			rec := sampleRecord()
			So(store.Put(ctx, rec), ShouldBeNil)

			Convey("Then it can be read by id", func() {
				got, err := store.GetByID(ctx, rec.AttestationID)
				So(err, ShouldBeNil)
				So(got.AttestationID, ShouldEqual, rec.AttestationID)
				So(got.EventHash, ShouldEqual, rec.EventHash)
				So(got.AttestationSig, ShouldEqual, rec.AttestationSig)
				So(got.AttestedAt, ShouldEqual, rec.AttestedAt)
				b, _ := got.CanonicalEvent.MarshalJSON()
				So(string(b), ShouldEqual, `{"amount":"10.00","currency":"EUR","event_type":"fee"}`)
			})

			Convey("And the hash index points at it", func() {
				id, err := store.GetIDByHash(ctx, rec.EventHash)
				So(err, ShouldBeNil)
				So(id, ShouldEqual, rec.AttestationID)
			})

			Convey("And the raw layout uses the documented keys", func() {
				_, err := backing.Get(ctx, "eea:att:"+rec.AttestationID)
				So(err, ShouldBeNil)
				raw, err := backing.Get(ctx, "eea:hash:"+rec.EventHash)
				So(err, ShouldBeNil)
				So(string(raw), ShouldEqual, rec.AttestationID)
			})
		})

		Convey("When unknown keys are read", func() {
			_, err := store.GetByID(ctx, "eea_missing")
			So(err, ShouldEqual, repository.ErrNotFound)
			_, err = store.GetIDByHash(ctx, "sha256:none")
			So(err, ShouldEqual, repository.ErrNotFound)
		})

		Convey("When a record lacks an id or hash", func() {
			rec := sampleRecord()
			rec.EventHash = ""
			So(store.Put(ctx, rec), ShouldEqual, repository.ErrInvalidRecord)
		})

		Convey("When the stored record is corrupt", func() {
			So(backing.Put(ctx, "eea:att:eea_bad", []byte("{"), 0), ShouldBeNil)
			_, err := store.GetByID(ctx, "eea_bad")
			So(err, ShouldNotBeNil)
			So(err, ShouldNotEqual, repository.ErrNotFound)
		})
	})

	Convey("Given a short retention", t, func() {
		ctx := context.Background()
		now := time.Unix(1_700_000_000, 0)
		clock := func() time.Time { return now }
		backing := memory.New(memory.WithClock(clock), memory.WithSweepInterval(-1))
		defer backing.Close()
		store := repository.New(backing, repository.WithRetention(time.Hour))
		rec := sampleRecord()
		So(store.Put(ctx, rec), ShouldBeNil)

		Convey("When the retention elapses", func() {
			now = now.Add(time.Hour + time.Second)

			Convey("Then record and index both expire as not found", func() {
				_, err := store.GetByID(ctx, rec.AttestationID)
				So(err, ShouldEqual, repository.ErrNotFound)
				_, err = store.GetIDByHash(ctx, rec.EventHash)
				So(err, ShouldEqual, repository.ErrNotFound)
			})
		})
	})

	Convey("Given the index write fails after the record write", t, func() {
		ctx := context.Background()
		backing := memory.New(memory.WithSweepInterval(-1))
		defer backing.Close()
		store := repository.New(failingKV{Store: backing, failPrefix: "eea:hash:"})
		rec := sampleRecord()

		err := store.Put(ctx, rec)

		Convey("Then the error surfaces and the record is orphaned", func() {
			So(errors.Is(err, errBackend), ShouldBeTrue)
			_, err := store.GetByID(ctx, rec.AttestationID)
			So(err, ShouldBeNil)
			_, err = store.GetIDByHash(ctx, rec.EventHash)
			So(err, ShouldEqual, repository.ErrNotFound)
		})
	})

	Convey("Given the record write fails", t, func() {
		ctx := context.Background()
		backing := memory.New(memory.WithSweepInterval(-1))
		defer backing.Close()
		store := repository.New(failingKV{Store: backing, failPrefix: "eea:att:"})
		rec := sampleRecord()

		Convey("Then no index entry is written", func() {
			So(errors.Is(store.Put(ctx, rec), errBackend), ShouldBeTrue)
			_, err := store.GetIDByHash(ctx, rec.EventHash)
			So(err, ShouldEqual, repository.ErrNotFound)
		})
	})
}
