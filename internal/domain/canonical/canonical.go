// Package canonical turns event values into a deterministic byte form and
// fingerprints those bytes.
//
// Canonical form:
//  1. Object members are sorted by key in code-point order.
//  2. Null members are dropped at every object level. Null array elements
//     stay, since removing them would shift positions.
//  3. Arrays keep their order; each element is canonicalized.
//  4. Bytes are produced by RFC 8785 (JCS) so number and string encodings
//     are normalized as well.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/gowebpki/jcs"
	"github.com/okian/eea/internal/domain/event"
)

// HashPrefix tags every fingerprint with its algorithm.
const HashPrefix = "sha256:"

// Canonicalize returns the normalized copy of v.
func Canonicalize(v event.Value) event.Value {
	switch v.Kind() {
	case event.KindObject:
		src := v.Members()
		members := make([]event.Member, 0, len(src))
		for _, m := range src {
			if m.Value.IsNull() {
				continue
			}
			members = append(members, event.Member{Key: m.Key, Value: Canonicalize(m.Value)})
		}
		sort.Slice(members, func(i, j int) bool { return members[i].Key < members[j].Key })
		return event.Object(members...)
	case event.KindArray:
		src := v.Elements()
		elems := make([]event.Value, len(src))
		for i, e := range src {
			elems[i] = Canonicalize(e)
		}
		return event.Array(elems...)
	default:
		return v
	}
}

// Marshal serializes v in canonical form. v is canonicalized first, so
// callers may pass raw values.
func Marshal(v event.Value) ([]byte, error) {
	var buf bytes.Buffer
	writeASCII(&buf, Canonicalize(v))
	out, err := jcs.Transform(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform: %w", err)
	}
	return out, nil
}

// Hash fingerprints canonical bytes as "sha256:<hex>".
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return HashPrefix + hex.EncodeToString(sum[:])
}

// Fingerprint canonicalizes v and returns the canonical value, its bytes
// and its hash.
func Fingerprint(v event.Value) (event.Value, []byte, string, error) {
	c := Canonicalize(v)
	b, err := Marshal(c)
	if err != nil {
		return event.Value{}, nil, "", err
	}
	return c, b, Hash(b), nil
}

// writeASCII encodes v as compact JSON with every non-ASCII rune escaped,
// so invalid UTF-8 reaches JCS as U+FFFD. JCS re-emits the runes as UTF-8.
func writeASCII(buf *bytes.Buffer, v event.Value) {
	switch v.Kind() {
	case event.KindNull:
		buf.WriteString("null")
	case event.KindBool:
		b, _ := v.Boolean()
		buf.WriteString(strconv.FormatBool(b))
	case event.KindNumber:
		n, _ := v.Num()
		buf.WriteString(n.String())
	case event.KindString:
		s, _ := v.Str()
		quoteASCII(buf, s)
	case event.KindObject:
		buf.WriteByte('{')
		for i, m := range v.Members() {
			if i > 0 {
				buf.WriteByte(',')
			}
			quoteASCII(buf, m.Key)
			buf.WriteByte(':')
			writeASCII(buf, m.Value)
		}
		buf.WriteByte('}')
	case event.KindArray:
		buf.WriteByte('[')
		for i, e := range v.Elements() {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeASCII(buf, e)
		}
		buf.WriteByte(']')
	}
}

const hexDigits = "0123456789abcdef"

func quoteASCII(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch {
		case r == '"':
			buf.WriteString(`\"`)
		case r == '\\':
			buf.WriteString(`\\`)
		case r < 0x20 || r > 0x7e:
			if r > 0xffff {
				r1, r2 := utf16.EncodeRune(r)
				writeUEscape(buf, r1)
				writeUEscape(buf, r2)
				continue
			}
			writeUEscape(buf, r)
		default:
			buf.WriteByte(byte(r))
		}
	}
	buf.WriteByte('"')
}

func writeUEscape(buf *bytes.Buffer, r rune) {
	buf.WriteString(`\u`)
	buf.WriteByte(hexDigits[(r>>12)&0xf])
	buf.WriteByte(hexDigits[(r>>8)&0xf])
	buf.WriteByte(hexDigits[(r>>4)&0xf])
	buf.WriteByte(hexDigits[r&0xf])
}
