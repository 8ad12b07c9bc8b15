package event

import "github.com/google/uuid"

// Claim pays the caller's share of a resolved market.
type Claim struct {
	Meta
	Market uuid.UUID `json:"market_id"`
}

func (c *Claim) EventType() EventType { return EventTypeClaim }
func (c *Claim) MarketID() uuid.UUID  { return c.Market }

// ClaimPlatformTokens transfers the platform's token allocation once.
// Only the treasury admin may call it.
type ClaimPlatformTokens struct {
	Meta
	Market uuid.UUID `json:"market_id"`
}

func (c *ClaimPlatformTokens) EventType() EventType { return EventTypeClaimPlatformTokens }
func (c *ClaimPlatformTokens) MarketID() uuid.UUID  { return c.Market }
