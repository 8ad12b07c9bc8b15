package fees

import (
	"PLPLedger/internal/errs"
	fpmath "PLPLedger/internal/math"
)

// ProRata returns floor(pool * shares / totalShares) against a frozen pool
// and denominator. Claim order cannot change the result.
func ProRata(pool, shares, totalShares int64) (int64, error) {
	if shares < 0 || totalShares < 0 || pool < 0 {
		return 0, errs.InvalidArgument("shares", "must be non-negative")
	}
	if shares > totalShares {
		return 0, errs.InvalidState("shares", "position exceeds side total")
	}
	return fpmath.ShareOf(pool, shares, totalShares)
}

// Clamp limits amount to what is actually held and rejects a zero result.
func Clamp(amount, held int64) (int64, error) {
	if held < 0 {
		held = 0
	}
	out := fpmath.Min(amount, held)
	if out <= 0 {
		return 0, errs.New(errs.KindNothingToClaim, "amount", "nothing to claim")
	}
	return out, nil
}
