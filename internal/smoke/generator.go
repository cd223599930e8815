package smoke

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

var (
	eventTypes = []string{"payment", "refund", "invoice", "credit_note", "payout", "fee", "adjustment"}
	currencies = []string{"GBP", "EUR", "USD", "JPY", "CHF"}
	sources    = []string{"stripe", "adyen", "ledger", "bank-feed"}
)

// Field is one top-level member of a generated event.
type Field struct {
	Key   string
	Value any
}

// Event is a generated event with a fixed member order, so it can be sent
// in one order and resent in another.
type Event []Field

// Generate builds n distinct valid events. The same seed always produces
// the same events.
func Generate(n int, seed uint64) []Event {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	base := time.Date(2024, 12, 27, 0, 0, 0, 0, time.UTC)

	events := make([]Event, n)
	for i := range events {
		var ref uuid.UUID
		for j := range ref {
			ref[j] = byte(rng.Uint32())
		}
		occurred := base.Add(time.Duration(rng.Int64N(int64(24 * time.Hour))))
		events[i] = Event{
			{"event_type", eventTypes[rng.IntN(len(eventTypes))]},
			{"occurred_at", occurred.Format(time.RFC3339Nano)},
			{"amount", fmt.Sprintf("%d.%02d", rng.IntN(100_000), rng.IntN(100))},
			{"currency", currencies[rng.IntN(len(currencies))]},
			{"source_system", sources[rng.IntN(len(sources))]},
			{"references", map[string]any{
				"external_id": ref.String(),
				"sequence":    i,
			}},
			{"payload", map[string]any{"note": "smoke", "batch": seed % 1_000_000}},
		}
	}
	return events
}

// Reversed returns e with its members in the opposite order.
func (e Event) Reversed() Event {
	out := make(Event, len(e))
	for i, f := range e {
		out[len(e)-1-i] = f
	}
	return out
}
