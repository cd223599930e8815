// Package validation is admission control for inbound economic events.
// Checks run in a fixed order and the first failure wins, so callers can
// tell a missing field from a malformed one from an oversized one.
package validation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/okian/eea/internal/domain/canonical"
	"github.com/okian/eea/internal/domain/errkind"
	"github.com/okian/eea/internal/domain/event"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// DefaultMaxPayloadBytes bounds the serialized payload field.
const DefaultMaxPayloadBytes = 64 * 1024

const schemaBaseURL = "https://eea.schemas.local/event/"

const op = "validation.validate"

// isoInstantPattern is the strict ISO-8601 shape accepted for occurred_at.
const isoInstantPattern = `^[0-9]{4}-[0-9]{2}-[0-9]{2}T[0-9]{2}:[0-9]{2}:[0-9]{2}(\.[0-9]{1,9})?(Z|[+-][0-9]{2}:[0-9]{2})$`

// fieldRule validates one top-level field against a compiled schema.
type fieldRule struct {
	field    string
	optional bool
	code     errkind.Code
	message  string
	schema   string
	compiled *jsonschema.Schema
	// check runs after the schema passes.
	check func(event.Value) bool
}

// Validator checks events. Build with New; safe for concurrent use.
type Validator struct {
	maxPayloadBytes int
	rules           []*fieldRule
}

// Option configures a Validator.
type Option func(*Validator)

// WithMaxPayloadBytes sets the payload ceiling.
func WithMaxPayloadBytes(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.maxPayloadBytes = n
		}
	}
}

// New compiles the field rules.
func New(opts ...Option) (*Validator, error) {
	v := &Validator{maxPayloadBytes: DefaultMaxPayloadBytes}
	for _, opt := range opts {
		opt(v)
	}

	enum, err := json.Marshal(event.EventTypes)
	if err != nil {
		return nil, err
	}
	v.rules = []*fieldRule{
		{
			field:   event.FieldEventType,
			code:    errkind.SchemaValidationFailed,
			message: "event_type must be one of: " + strings.Join(event.EventTypes, ", "),
			schema:  `{"type":"string","enum":` + string(enum) + `}`,
		},
		{
			field:   event.FieldOccurredAt,
			code:    errkind.InvalidTimestamp,
			message: "occurred_at must be an ISO-8601 instant, e.g. 2024-12-27T10:30:00Z",
			schema:  `{"type":"string","pattern":` + strconv.Quote(isoInstantPattern) + `}`,
			check:   isRealInstant,
		},
		{
			field:   event.FieldAmount,
			code:    errkind.SchemaValidationFailed,
			message: "amount must be a decimal string, e.g. \"150.00\"",
			schema:  `{"type":"string","pattern":"^-?[0-9]+(\\.[0-9]+)?$"}`,
		},
		{
			field:   event.FieldCurrency,
			code:    errkind.SchemaValidationFailed,
			message: "currency must be a 3-letter uppercase code",
			schema:  `{"type":"string","pattern":"^[A-Z]{3}$"}`,
		},
		{
			field:   event.FieldSourceSystem,
			code:    errkind.SchemaValidationFailed,
			message: "source_system must be a non-empty string",
			schema:  `{"type":"string","minLength":1}`,
		},
		{
			field:   event.FieldReferences,
			code:    errkind.SchemaValidationFailed,
			message: "references must be an object",
			schema:  `{"type":"object"}`,
		},
	}
	for _, f := range event.OptionalObjectFields {
		v.rules = append(v.rules, &fieldRule{
			field:    f,
			optional: true,
			code:     errkind.SchemaValidationFailed,
			message:  f + " must be an object",
			schema:   `{"type":"object"}`,
		})
	}

	for _, r := range v.rules {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := schemaBaseURL + r.field + ".schema.json"
		if err := c.AddResource(url, strings.NewReader(r.schema)); err != nil {
			return nil, fmt.Errorf("validation: load %s schema: %w", r.field, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("validation: compile %s schema: %w", r.field, err)
		}
		r.compiled = compiled
	}
	return v, nil
}

// MaxPayloadBytes returns the configured payload ceiling.
func (v *Validator) MaxPayloadBytes() int { return v.maxPayloadBytes }

// Validate returns nil or an *errkind.Error describing the first failure.
func (v *Validator) Validate(ev event.Value) error {
	if ev.Kind() != event.KindObject {
		return errkind.New(op, errkind.InvalidJSON, "request body must be a JSON object")
	}

	for _, f := range event.RequiredFields {
		val, ok := ev.Get(f)
		if !ok || val.IsNull() {
			return errkind.New(op, errkind.MissingRequiredField, "missing required field: %s", f)
		}
	}

	for _, r := range v.rules {
		val, ok := ev.Get(r.field)
		if r.optional && (!ok || val.IsNull()) {
			continue
		}
		if err := r.compiled.Validate(val.Interface()); err != nil {
			return errkind.New(op, r.code, "%s", r.message)
		}
		if r.check != nil && !r.check(val) {
			return errkind.New(op, r.code, "%s", r.message)
		}
	}

	if path, ok := findUnrepresentableNumber(ev, ""); !ok {
		return errkind.New(op, errkind.SchemaValidationFailed, "number at %s is outside the IEEE-754 double range", path)
	}

	if payload, ok := ev.Get(event.FieldPayload); ok && !payload.IsNull() {
		b, err := canonical.Marshal(payload)
		if err != nil {
			return errkind.Wrap(op, errkind.Internal, err)
		}
		if len(b) > v.maxPayloadBytes {
			return errkind.New(op, errkind.PayloadTooLarge, "payload exceeds %d bytes", v.maxPayloadBytes)
		}
	}
	return nil
}

func isRealInstant(v event.Value) bool {
	s, _ := v.Str()
	_, err := time.Parse(time.RFC3339Nano, s)
	return err == nil
}

// findUnrepresentableNumber walks v and reports the first number that
// cannot be held as a finite float64. Canonical encoding needs that.
func findUnrepresentableNumber(v event.Value, path string) (string, bool) {
	switch v.Kind() {
	case event.KindNumber:
		n, _ := v.Num()
		if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
			return path, false
		}
	case event.KindObject:
		for _, m := range v.Members() {
			if p, ok := findUnrepresentableNumber(m.Value, path+"/"+m.Key); !ok {
				return p, false
			}
		}
	case event.KindArray:
		for i, e := range v.Elements() {
			if p, ok := findUnrepresentableNumber(e, path+"/"+strconv.Itoa(i)); !ok {
				return p, false
			}
		}
	}
	return path, true
}
