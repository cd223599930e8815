package signing_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/okian/eea/internal/domain/signing"
	. "github.com/smartystreets/goconvey/convey"
)

const (
	testID   = "eea_01JG3Z8K6Q4W2E5R7T9Y1U3I5O"
	testHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"
	testTime = "2024-12-27T10:30:00.000Z"
)

func TestSigner(t *testing.T) {
	Convey("Given a signer", t, func() {
		s, err := signing.NewSigner("top-secret", "1.0")
		So(err, ShouldBeNil)
		So(s.SchemaVersion(), ShouldEqual, "1.0")

		sig := s.Sign(testID, testHash, testTime)

		Convey("Then the signature is a tagged HMAC-SHA256 over the joined fields", func() {
			m := hmac.New(sha256.New, []byte("top-secret"))
			m.Write([]byte("1.0|" + testID + "|" + testHash + "|" + testTime))
			So(sig, ShouldEqual, signing.SigPrefix+hex.EncodeToString(m.Sum(nil)))
			So(sig, ShouldStartWith, "hmacsha256:")
			So(signing.Payload("1.0", "a", "b", "c"), ShouldEqual, "1.0|a|b|c")
		})

		Convey("Then it verifies unchanged fields", func() {
			So(s.Verify(testID, testHash, testTime, sig), ShouldBeTrue)
			So(s.VerifyVersion("1.0", testID, testHash, testTime, sig), ShouldBeTrue)
		})

		Convey("Then altering any signed field fails verification", func() {
			So(s.Verify(testID+"X", testHash, testTime, sig), ShouldBeFalse)
			So(s.Verify(testID, testHash+"0", testTime, sig), ShouldBeFalse)
			So(s.Verify(testID, testHash, "2024-12-27T10:30:00.001Z", sig), ShouldBeFalse)
			So(s.VerifyVersion("2.0", testID, testHash, testTime, sig), ShouldBeFalse)
			last := "0"
			if sig[len(sig)-1] == '0' {
				last = "1"
			}
			So(s.Verify(testID, testHash, testTime, sig[:len(sig)-1]+last), ShouldBeFalse)
			So(s.Verify(testID, testHash, testTime, ""), ShouldBeFalse)
		})

		Convey("Then another secret cannot verify it", func() {
			other, _ := signing.NewSigner("other-secret", "1.0")
			So(other.Verify(testID, testHash, testTime, sig), ShouldBeFalse)
		})
	})

	Convey("Given an empty secret", t, func() {
		_, err := signing.NewSigner("", "1.0")
		So(err, ShouldEqual, signing.ErrEmptySecret)
	})
}

// TestSignatureRoundTrip checks sign/verify over arbitrary receipts.
func TestSignatureRoundTrip(t *testing.T) {
	s, err := signing.NewSigner("property-secret", "1.0")
	if err != nil {
		t.Fatal(err)
	}
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("signatures verify", prop.ForAll(
		func(id, hash, at string) bool {
			return s.Verify(id, hash, at, s.Sign(id, hash, at))
		},
		gen.AnyString(), gen.AnyString(), gen.AnyString(),
	))

	properties.Property("changing the id breaks verification", prop.ForAll(
		func(id, hash, at string) bool {
			return !s.Verify(id+"x", hash, at, s.Sign(id, hash, at))
		},
		gen.Identifier(), gen.AlphaString(), gen.AlphaString(),
	))

	properties.TestingRun(t)
}
