package event

import "github.com/google/uuid"

// InitTeamVesting creates the team token schedule for a YesWins market.
type InitTeamVesting struct {
	Meta
	Market      uuid.UUID `json:"market_id"`
	TotalSupply int64     `json:"total_supply"`
	TeamWallet  uuid.UUID `json:"team_wallet"` // Beneficiary; defaults to the creator
}

func (i *InitTeamVesting) EventType() EventType { return EventTypeInitTeamVesting }
func (i *InitTeamVesting) MarketID() uuid.UUID  { return i.Market }

// InitFounderVesting creates the founder currency schedule from the excess
// pool carved out at resolution.
type InitFounderVesting struct {
	Meta
	Market uuid.UUID `json:"market_id"`
}

func (i *InitFounderVesting) EventType() EventType { return EventTypeInitFounderVesting }
func (i *InitFounderVesting) MarketID() uuid.UUID  { return i.Market }

// ClaimVesting withdraws whatever a schedule has unlocked.
type ClaimVesting struct {
	Meta
	Schedule uuid.UUID `json:"schedule_id"`
	Market   uuid.UUID `json:"market_id"`
}

func (c *ClaimVesting) EventType() EventType { return EventTypeClaimVesting }
func (c *ClaimVesting) MarketID() uuid.UUID  { return c.Market }
