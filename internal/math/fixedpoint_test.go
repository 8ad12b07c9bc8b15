package math_test

import (
	"errors"
	stdmath "math"
	"math/big"
	"testing"

	"PLPLedger/internal/errs"
	fpmath "PLPLedger/internal/math"
)

func TestMulDivFloor(t *testing.T) {
	tests := []struct {
		name    string
		a, b, d int64
		want    int64
	}{
		{"exact", 10_000_000_000, 150, 10_000, 150_000_000},
		{"floors", 999, 150, 10_000, 14},
		{"zero", 0, 150, 10_000, 0},
		{"wide intermediate", stdmath.MaxInt64, 2, 4, stdmath.MaxInt64 / 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fpmath.MulDivFloor(tt.a, tt.b, tt.d)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMulDivFloor_Overflow(t *testing.T) {
	_, err := fpmath.MulDivFloor(stdmath.MaxInt64, stdmath.MaxInt64, 1)
	if !errors.Is(err, errs.ErrArithmeticOverflow) {
		t.Fatalf("expected ArithmeticOverflow, got %v", err)
	}
}

func TestDivideInt128Checked_Overflow(t *testing.T) {
	num := new(big.Int).Mul(big.NewInt(stdmath.MaxInt64), big.NewInt(4))

	_, err := fpmath.DivideInt128Checked(num, 2)
	if !errors.Is(err, errs.ErrArithmeticOverflow) {
		t.Fatalf("expected ArithmeticOverflow, got %v", err)
	}

	got, err := fpmath.DivideInt128Checked(num, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != stdmath.MaxInt64 {
		t.Errorf("got %d, want %d", got, int64(stdmath.MaxInt64))
	}
}

func TestDivideInt128Checked_Floors(t *testing.T) {
	tests := []struct {
		num, den int64
		want     int64
	}{
		{5, 2, 2},
		{7, 2, 3},
		{11, 4, 2},
		{8, 4, 2},
	}
	for _, tt := range tests {
		got, err := fpmath.DivideInt128Checked(big.NewInt(tt.num), tt.den)
		if err != nil {
			t.Fatalf("%d/%d: %v", tt.num, tt.den, err)
		}
		if got != tt.want {
			t.Errorf("%d/%d: got %d, want %d", tt.num, tt.den, got, tt.want)
		}
	}
}

func TestAddSubChecked(t *testing.T) {
	if _, err := fpmath.AddChecked(stdmath.MaxInt64, 1); !errors.Is(err, errs.ErrArithmeticOverflow) {
		t.Errorf("AddChecked: expected overflow, got %v", err)
	}
	if _, err := fpmath.SubChecked(stdmath.MinInt64, 1); !errors.Is(err, errs.ErrArithmeticOverflow) {
		t.Errorf("SubChecked: expected overflow, got %v", err)
	}
	if got, _ := fpmath.SubChecked(10, 3); got != 7 {
		t.Errorf("got %d, want 7", got)
	}
}

func TestShareOf(t *testing.T) {
	tests := []struct {
		name                string
		pool, shares, total int64
		want                int64
	}{
		{"exact", 100, 1, 4, 25},
		{"floors", 100, 1, 3, 33},
		{"whole pool", 100, 3, 3, 100},
		{"no shares outstanding", 100, 1, 0, 0},
		{"empty pool", 0, 1, 3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fpmath.ShareOf(tt.pool, tt.shares, tt.total)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestShareOf_NeverOverpays(t *testing.T) {
	holders := []int64{1, 1, 1}
	var paid int64
	for _, s := range holders {
		amount, err := fpmath.ShareOf(100, s, 3)
		if err != nil {
			t.Fatal(err)
		}
		paid += amount
	}
	if paid > 100 {
		t.Errorf("paid %d out of a pool of 100", paid)
	}
	if 100-paid != 1 {
		t.Errorf("residual: got %d, want 1", 100-paid)
	}
}
