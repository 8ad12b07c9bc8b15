package query

import (
	"github.com/cockroachdb/apd/v3"
	"github.com/google/uuid"
)

// Both lamports-per-SOL and amm.PriceScale are 1e9.
const (
	lamportExponent = -9
	priceExponent   = -9
)

// FormatLamports renders an integer lamport amount as a SOL decimal string
// with nine fractional digits.
func FormatLamports(lamports int64) string {
	return apd.New(lamports, lamportExponent).Text('f')
}

// FormatPrice renders a PriceScale-scaled probability as a decimal in [0, 1].
func FormatPrice(scaled int64) string {
	return apd.New(scaled, priceExponent).Text('f')
}

// ParseLamports is the inverse of FormatLamports. Amounts with more than
// nine fractional digits are rejected rather than rounded.
func ParseLamports(s string) (int64, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return 0, err
	}
	var scaled apd.Decimal
	ctx := apd.BaseContext.WithPrecision(30)
	ctx.Traps = apd.DefaultTraps | apd.Inexact
	if _, err := ctx.Quantize(&scaled, d, lamportExponent); err != nil {
		return 0, err
	}
	scaled.Exponent = 0
	return scaled.Int64()
}

// BalanceResponse is one participant's ledger view.
type BalanceResponse struct {
	UserID uuid.UUID `json:"user_id"`

	// Wallet mirror: negative means net contributed to markets
	Wallet        int64  `json:"wallet"`
	WalletDisplay string `json:"wallet_display"`

	Tokens []TokenBalance `json:"tokens,omitempty"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// TokenBalance is the launched-token holding for one market.
type TokenBalance struct {
	MarketID uuid.UUID `json:"market_id"`
	Amount   int64     `json:"amount"`
}
