package state

import (
	"PLPLedger/internal/errs"
	fpmath "PLPLedger/internal/math"

	"github.com/google/uuid"
)

// Treasury collects creation, trade, and completion fees. The balance itself
// lives in the ledger (system:treasury account); TotalFees is the running
// mirror. It is passed explicitly to every fee-skimming operation.
type Treasury struct {
	Admin     uuid.UUID
	TotalFees int64
}

func NewTreasury(admin uuid.UUID) *Treasury {
	return &Treasury{Admin: admin}
}

// Collect adds fee to the running total.
func (t *Treasury) Collect(fee int64) error {
	if fee < 0 {
		return errs.InvalidArgument("fee", "must be non-negative")
	}
	total, err := fpmath.AddChecked(t.TotalFees, fee)
	if err != nil {
		return err
	}
	t.TotalFees = total
	return nil
}

// IsAdmin reports whether caller administers the treasury.
func (t *Treasury) IsAdmin(caller uuid.UUID) bool {
	return t.Admin != uuid.Nil && t.Admin == caller
}

func (t *Treasury) Clone() *Treasury {
	c := *t
	return &c
}

func (t *Treasury) CanonicalBytes() []byte {
	buf := make([]byte, 0, 24)
	buf = append(buf, t.Admin[:]...)
	return appendInt64LE(buf, t.TotalFees)
}
