// internal/math/fixedpoint.go
package math

import (
	stdmath "math"
	"math/big"
	"sync"

	"PLPLedger/internal/errs"
)

// BpsScale is 100% in basis points.
const BpsScale int64 = 10_000

var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	int128Pool.Put(v)
}

// DivideInt128Checked returns floor(numerator / denominator), or
// ArithmeticOverflow when the quotient does not fit in int64.
// numerator must be non-negative and denominator > 0.
func DivideInt128Checked(numerator *big.Int, denominator int64) (int64, error) {
	quotient := getInt128()
	defer putInt128(quotient)

	quotient.Quo(numerator, big.NewInt(denominator))
	if !quotient.IsInt64() {
		return 0, errs.Overflow("quotient")
	}
	return quotient.Int64(), nil
}

// MulDivFloor computes floor(a * b / d) with a 128-bit intermediate.
// This is the single primitive behind every fee and pro-rata computation.
func MulDivFloor(a, b, d int64) (int64, error) {
	if d <= 0 {
		return 0, errs.InvalidArgument("divisor", "must be positive")
	}
	if a < 0 || b < 0 {
		return 0, errs.InvalidArgument("operand", "must be non-negative")
	}
	product := getInt128()
	defer putInt128(product)
	product.Mul(big.NewInt(a), big.NewInt(b))
	return DivideInt128Checked(product, d)
}

// ApplyBps returns floor(amount * bps / 10000).
func ApplyBps(amount, bps int64) (int64, error) {
	return MulDivFloor(amount, bps, BpsScale)
}

// AddChecked returns a + b or ArithmeticOverflow.
func AddChecked(a, b int64) (int64, error) {
	if (b > 0 && a > stdmath.MaxInt64-b) || (b < 0 && a < stdmath.MinInt64-b) {
		return 0, errs.Overflow("sum")
	}
	return a + b, nil
}

// SubChecked returns a - b or ArithmeticOverflow.
func SubChecked(a, b int64) (int64, error) {
	if (b < 0 && a > stdmath.MaxInt64+b) || (b > 0 && a < stdmath.MinInt64+b) {
		return 0, errs.Overflow("difference")
	}
	return a - b, nil
}

// Min returns the smaller of a and b.
func Min(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
