// internal/state/position.go
package state

import (
	"PLPLedger/internal/amm"

	"github.com/google/uuid"
)

// Position is one participant's holding in one market. A participant holds
// shares of only one side; the other side stays zero.
type Position struct {
	MarketID      uuid.UUID
	Owner         uuid.UUID
	YesShares     int64
	NoShares      int64
	TotalInvested int64 // Gross, fee-inclusive
	Claimed       bool  // One-shot
	ClaimedAmount int64 // Lamports or tokens paid on claim
	Version       int64 // Optimistic concurrency control
}

// Shares returns the holding on side.
func (p *Position) Shares(side amm.Side) int64 {
	if side == amm.SideYes {
		return p.YesShares
	}
	return p.NoShares
}

// HeldSide returns the side with non-zero shares, or false if flat.
func (p *Position) HeldSide() (amm.Side, bool) {
	switch {
	case p.YesShares > 0:
		return amm.SideYes, true
	case p.NoShares > 0:
		return amm.SideNo, true
	default:
		return 0, false
	}
}

// IsFlat returns true if position has no shares
func (p *Position) IsFlat() bool {
	return p.YesShares == 0 && p.NoShares == 0
}

func (p *Position) Clone() *Position {
	c := *p
	return &c
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *Position) CanonicalBytes() []byte {
	buf := make([]byte, 0, 80)

	// market_id, owner (16 bytes each)
	buf = append(buf, p.MarketID[:]...)
	buf = append(buf, p.Owner[:]...)

	buf = appendInt64LE(buf, p.YesShares)
	buf = appendInt64LE(buf, p.NoShares)
	buf = appendInt64LE(buf, p.TotalInvested)
	buf = appendBool(buf, p.Claimed)
	buf = appendInt64LE(buf, p.ClaimedAmount)

	return buf
}
