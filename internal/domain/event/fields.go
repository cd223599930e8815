package event

// Top-level field names of an economic event.
const (
	FieldEventType    = "event_type"
	FieldOccurredAt   = "occurred_at"
	FieldAmount       = "amount"
	FieldCurrency     = "currency"
	FieldSourceSystem = "source_system"
	FieldReferences   = "references"
	FieldPayload      = "payload"
	FieldEvidence     = "evidence"
	FieldMeta         = "meta"
)

// RequiredFields lists the fields every event must carry, in check order.
var RequiredFields = []string{
	FieldEventType,
	FieldOccurredAt,
	FieldAmount,
	FieldCurrency,
	FieldSourceSystem,
	FieldReferences,
}

// OptionalObjectFields are open maps that may be omitted.
var OptionalObjectFields = []string{FieldPayload, FieldEvidence, FieldMeta}

// EventTypes is the closed set of accepted event_type values.
var EventTypes = []string{
	"payment",
	"refund",
	"invoice",
	"credit_note",
	"payout",
	"fee",
	"adjustment",
}
