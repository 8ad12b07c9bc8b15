// Package amm prices YES/NO shares with a constant-product market maker.
//
// Reserves are virtual: a market is seeded with equal YES and NO reserves and
// each purchase moves value from one reserve to the other while preserving
// k = yes * no up to integer flooring.
package amm

import (
	"math/big"
	"strings"

	"PLPLedger/internal/errs"
	fpmath "PLPLedger/internal/math"
)

// Side of a binary market
type Side uint8

const (
	SideYes Side = iota + 1
	SideNo
)

func (s Side) String() string {
	switch s {
	case SideYes:
		return "YES"
	case SideNo:
		return "NO"
	default:
		return "UNKNOWN"
	}
}

// ParseSide accepts "YES"/"NO" in any case.
func ParseSide(s string) (Side, bool) {
	switch strings.ToUpper(s) {
	case "YES":
		return SideYes, true
	case "NO":
		return SideNo, true
	}
	return 0, false
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

const (
	// PriceScale is the fixed-point unit for prices; YES + NO == PriceScale.
	PriceScale int64 = 1_000_000_000

	DefaultMinLiquidity int64 = 10_000_000
	DefaultMinTrade     int64 = 10_000_000
)

// Params bounds a quote.
type Params struct {
	MinTrade     int64 // smallest deposit that can be priced
	MinLiquidity int64 // reserve floor on the bought side after a trade
}

// DefaultParams returns the production bounds.
func DefaultParams() Params {
	return Params{MinTrade: DefaultMinTrade, MinLiquidity: DefaultMinLiquidity}
}

// Quote is the outcome of pricing a deposit.
type Quote struct {
	Side       Side
	Deposit    int64
	Shares     int64
	NewYesPool int64
	NewNoPool  int64
}

// Reserves returns the post-trade reserve of side s.
func (q Quote) Reserve(s Side) int64 {
	if s == SideYes {
		return q.NewYesPool
	}
	return q.NewNoPool
}

// Invariant returns k = yes * no.
func Invariant(yesPool, noPool int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(yesPool), big.NewInt(noPool))
}

// QuoteBuy prices buying side with deposit against reserves (yesPool, noPool).
//
// The deposit is added to the opposite reserve; the bought reserve shrinks to
// floor(k / newOpposite) and the difference is issued as shares.
func QuoteBuy(yesPool, noPool, deposit int64, side Side, p Params) (Quote, error) {
	if yesPool <= 0 || noPool <= 0 {
		return Quote{}, errs.InvalidState("reserves", "market reserves must be positive")
	}
	if side != SideYes && side != SideNo {
		return Quote{}, errs.InvalidArgument("side", "must be YES or NO")
	}
	if deposit < p.MinTrade || deposit <= 0 {
		return Quote{}, errs.Newf(errs.KindBelowMinimum, "amount", "investment too small: %d below minimum %d", deposit, p.MinTrade)
	}

	bought, opposite := yesPool, noPool
	if side == SideNo {
		bought, opposite = noPool, yesPool
	}

	newOpposite, err := fpmath.AddChecked(opposite, deposit)
	if err != nil {
		return Quote{}, err
	}

	k := Invariant(yesPool, noPool)
	newBought, err := fpmath.DivideInt128Checked(k, newOpposite)
	if err != nil {
		return Quote{}, err
	}

	if newBought < p.MinLiquidity {
		return Quote{}, errs.Newf(errs.KindCapacityExceeded, "reserves",
			"trade would drain %s reserve to %d (minimum %d)", side, newBought, p.MinLiquidity)
	}

	shares := bought - newBought
	if shares <= 0 {
		return Quote{}, errs.New(errs.KindBelowMinimum, "shares", "deposit too small to mint a share")
	}

	q := Quote{Side: side, Deposit: deposit, Shares: shares}
	if side == SideYes {
		q.NewYesPool, q.NewNoPool = newBought, newOpposite
	} else {
		q.NewYesPool, q.NewNoPool = newOpposite, newBought
	}
	return q, nil
}

// Prices returns the YES and NO probabilities scaled by PriceScale.
// price(YES) = floor(no * scale / (yes + no)); price(NO) is the complement so
// the two always sum to PriceScale exactly.
func Prices(yesPool, noPool int64) (yes, no int64, err error) {
	if yesPool <= 0 || noPool <= 0 {
		return 0, 0, errs.InvalidState("reserves", "market reserves must be positive")
	}
	total, err := fpmath.AddChecked(yesPool, noPool)
	if err != nil {
		return 0, 0, err
	}
	yes, err = fpmath.MulDivFloor(noPool, PriceScale, total)
	if err != nil {
		return 0, 0, err
	}
	return yes, PriceScale - yes, nil
}

// Price returns the scaled price of one side.
func Price(yesPool, noPool int64, side Side) (int64, error) {
	yes, no, err := Prices(yesPool, noPool)
	if err != nil {
		return 0, err
	}
	if side == SideNo {
		return no, nil
	}
	return yes, nil
}
