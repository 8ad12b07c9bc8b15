package event

import "github.com/google/uuid"

// marketNamespace seeds deterministic market ids.
var marketNamespace = uuid.MustParse("a4e1c9b2-5f3d-5a7e-b812-6c0d9e4f3a21")

// DeriveMarketID returns the id of the market a creator opens for a
// metadata CID. The same creator cannot open two markets for one CID.
func DeriveMarketID(creator uuid.UUID, metadataCID string) uuid.UUID {
	return uuid.NewSHA1(marketNamespace, append(creator[:], metadataCID...))
}

// CreateMarket opens a new prediction. The caller becomes the creator.
type CreateMarket struct {
	Meta
	Market      uuid.UUID `json:"market_id"` // Derived from caller and CID when zero
	Name        string    `json:"name"`
	Symbol      string    `json:"symbol"`
	MetadataURI string    `json:"metadata_uri"`
	MetadataCID string    `json:"metadata_cid"`
	TargetPool  int64     `json:"target_pool"`
	ExpiryTime  int64     `json:"expiry_time"` // Unix seconds
}

func (c *CreateMarket) EventType() EventType { return EventTypeCreateMarket }

func (c *CreateMarket) MarketID() uuid.UUID {
	if c.Market == uuid.Nil {
		return DeriveMarketID(c.Caller, c.MetadataCID)
	}
	return c.Market
}

// ExtendMarket moves a market from Prediction to Funding.
type ExtendMarket struct {
	Meta
	Market uuid.UUID `json:"market_id"`
}

func (e *ExtendMarket) EventType() EventType { return EventTypeExtendMarket }
func (e *ExtendMarket) MarketID() uuid.UUID  { return e.Market }

// LaunchReceipt records what the launch service returned. Once present in a
// logged command, replay uses it instead of calling the service again.
type LaunchReceipt struct {
	AssetID        string `json:"asset_id"`
	TokensReceived int64  `json:"tokens_received"`
	Spent          int64  `json:"spent"`
}

// ResolveMarket settles a market into its terminal outcome.
type ResolveMarket struct {
	Meta
	Market  uuid.UUID      `json:"market_id"`
	Receipt *LaunchReceipt `json:"receipt,omitempty"`
}

func (r *ResolveMarket) EventType() EventType { return EventTypeResolveMarket }
func (r *ResolveMarket) MarketID() uuid.UUID  { return r.Market }
