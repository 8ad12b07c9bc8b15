package event

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeCreateMarket
	EventTypeBuy
	EventTypeExtendMarket
	EventTypeResolveMarket
	EventTypeClaim
	EventTypeInitTeamVesting
	EventTypeInitFounderVesting
	EventTypeClaimVesting
	EventTypeClaimPlatformTokens
	EventTypeCommandRejected
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Market context (uuid.Nil for global events)
	MarketID uuid.UUID

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// JSON-encoded command, including any recorded external receipts
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all commands implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// MarketID returns the market context (uuid.Nil for global events)
	MarketID() uuid.UUID

	// SourceSequence returns upstream ordering key
	SourceSequence() int64

	// Header exposes the caller, timestamp, and sequencing fields
	Header() *Meta
}

// Meta is embedded in every command. The ingestion shell stamps Sequence and
// Timestamp; the engine never reads the wall clock.
type Meta struct {
	Key       string    `json:"idempotency_key"`
	Caller    uuid.UUID `json:"caller"`
	Sequence  int64     `json:"source_sequence"`
	Timestamp time.Time `json:"timestamp"` // Versioned input timestamp (NOT wall-clock)
}

func (m *Meta) IdempotencyKey() string { return m.Key }
func (m *Meta) SourceSequence() int64  { return m.Sequence }
func (m *Meta) Header() *Meta          { return m }

// Now returns the command timestamp as unix seconds.
func (m *Meta) Now() int64 { return m.Timestamp.Unix() }

func (et EventType) String() string {
	switch et {
	case EventTypeCreateMarket:
		return "CreateMarket"
	case EventTypeBuy:
		return "Buy"
	case EventTypeExtendMarket:
		return "ExtendMarket"
	case EventTypeResolveMarket:
		return "ResolveMarket"
	case EventTypeClaim:
		return "Claim"
	case EventTypeInitTeamVesting:
		return "InitTeamVesting"
	case EventTypeInitFounderVesting:
		return "InitFounderVesting"
	case EventTypeClaimVesting:
		return "ClaimVesting"
	case EventTypeClaimPlatformTokens:
		return "ClaimPlatformTokens"
	case EventTypeCommandRejected:
		return "CommandRejected"
	default:
		return "Unknown"
	}
}

// ParseEventType is the inverse of String.
func ParseEventType(s string) (EventType, bool) {
	for et := EventTypeCreateMarket; et <= EventTypeCommandRejected; et++ {
		if et.String() == s {
			return et, true
		}
	}
	return EventTypeUnknown, false
}
