package query

import "github.com/google/uuid"

// MarketResponse is the read view of a market.
type MarketResponse struct {
	MarketID         uuid.UUID `json:"market_id"`
	Creator          uuid.UUID `json:"creator"`
	Name             string    `json:"name"`
	Symbol           string    `json:"symbol"`
	MetadataURI      string    `json:"metadata_uri"`
	MetadataCID      string    `json:"metadata_cid"`
	TargetPool       int64     `json:"target_pool"`
	PoolBalance      int64     `json:"pool_balance"`
	PoolDisplay      string    `json:"pool_display"`
	YesPool          int64     `json:"yes_pool"`
	NoPool           int64     `json:"no_pool"`
	TotalYesShares   int64     `json:"total_yes_shares"`
	TotalNoShares    int64     `json:"total_no_shares"`
	YesPrice         string    `json:"yes_price"`
	NoPrice          string    `json:"no_price"`
	ExpiryTime       int64     `json:"expiry_time"`
	Phase            string    `json:"phase"`
	Resolution       string    `json:"resolution"`
	DistributionPool int64     `json:"distribution_pool"`
	TokenAssetID     *string   `json:"token_asset_id,omitempty"`
	TokensReceived   *int64    `json:"tokens_received,omitempty"`
	FounderExcess    *int64    `json:"founder_excess,omitempty"`
	Version          int64     `json:"version"`
	AsOfSequence     int64     `json:"as_of_sequence"`
}

// QuoteResponse is the current price of a market. Source is "cache" or
// "projection".
type QuoteResponse struct {
	MarketID    uuid.UUID `json:"market_id"`
	YesPrice    string    `json:"yes_price"`
	NoPrice     string    `json:"no_price"`
	PoolBalance string    `json:"pool_balance"`
	Resolution  string    `json:"resolution"`
	Version     int64     `json:"version"`
	Source      string    `json:"source"`
}

// PositionResponse represents a position for API queries.
type PositionResponse struct {
	MarketID      uuid.UUID `json:"market_id"`
	Owner         uuid.UUID `json:"owner"`
	YesShares     int64     `json:"yes_shares"`
	NoShares      int64     `json:"no_shares"`
	TotalInvested int64     `json:"total_invested"`
	Claimed       bool      `json:"claimed"`
	ClaimedAmount int64     `json:"claimed_amount"`
	Version       int64     `json:"version"`
	AsOfSequence  int64     `json:"as_of_sequence"`
}

// VestingResponse is a schedule with its claimable amount derived at query
// time.
type VestingResponse struct {
	ScheduleID       uuid.UUID `json:"schedule_id"`
	MarketID         uuid.UUID `json:"market_id"`
	Kind             string    `json:"kind"`
	Beneficiary      uuid.UUID `json:"beneficiary"`
	TotalAmount      int64     `json:"total_amount"`
	ImmediateAmount  int64     `json:"immediate_amount"`
	VestingAmount    int64     `json:"vesting_amount"`
	ClaimedAmount    int64     `json:"claimed_amount"`
	ImmediateClaimed bool      `json:"immediate_claimed"`
	VestingStart     int64     `json:"vesting_start"`
	VestingDuration  int64     `json:"vesting_duration"`
	Claimable        int64     `json:"claimable"` // Derived at query time
	Version          int64     `json:"version"`
	AsOfSequence     int64     `json:"as_of_sequence"`
}

// PayoutResponse is one claim, refund, or vesting payment.
type PayoutResponse struct {
	MarketID    uuid.UUID `json:"market_id"`
	Asset       string    `json:"asset"`
	Amount      int64     `json:"amount"`
	JournalType string    `json:"journal_type"`
	Sequence    int64     `json:"sequence"`
	Timestamp   int64     `json:"timestamp"`
}

// TreasuryResponse is the fee treasury.
type TreasuryResponse struct {
	Admin        uuid.UUID `json:"admin"`
	TotalFees    int64     `json:"total_fees"`
	FeesDisplay  string    `json:"fees_display"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        int64  `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
	VaultMismatches  []uuid.UUID       `json:"vault_mismatches,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}
