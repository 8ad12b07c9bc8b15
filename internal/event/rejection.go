package event

import "github.com/google/uuid"

// CommandRejected is logged in place of a command that failed validation so
// the source sequence it consumed survives replay.
type CommandRejected struct {
	Meta
	Market   uuid.UUID `json:"market_id"`
	Original EventType `json:"original_type"`
	Kind     string    `json:"kind"`
	Reason   string    `json:"reason"`
}

func (c *CommandRejected) EventType() EventType { return EventTypeCommandRejected }
func (c *CommandRejected) MarketID() uuid.UUID  { return c.Market }
