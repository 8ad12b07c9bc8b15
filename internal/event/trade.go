package event

import (
	"PLPLedger/internal/amm"

	"github.com/google/uuid"
)

// Buy deposits Amount lamports on one side of a market.
// Idempotency key: client-supplied order id.
type Buy struct {
	Meta
	Market uuid.UUID `json:"market_id"`
	Side   amm.Side  `json:"side"`
	Amount int64     `json:"amount"` // Gross lamports, fee-inclusive
}

func (b *Buy) EventType() EventType { return EventTypeBuy }
func (b *Buy) MarketID() uuid.UUID  { return b.Market }
