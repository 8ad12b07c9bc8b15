// Package vesting computes claimable amounts for an immediate tranche plus a
// linearly vested tranche. The same rules serve team token schedules and
// founder currency schedules.
package vesting

import (
	"PLPLedger/internal/errs"
	"PLPLedger/internal/fees"
	fpmath "PLPLedger/internal/math"
	"PLPLedger/internal/state"

	"github.com/google/uuid"
)

// DefaultDuration is 12 x 30 days in seconds.
const DefaultDuration int64 = 31_104_000

// Unlocked returns the vested tranche released at now. Linear, no cliff.
func Unlocked(s *state.VestingSchedule, now int64) (int64, error) {
	elapsed := now - s.VestingStart
	if elapsed <= 0 {
		return 0, nil
	}
	if elapsed >= s.VestingDuration {
		return s.VestingAmount, nil
	}
	return fpmath.MulDivFloor(s.VestingAmount, elapsed, s.VestingDuration)
}

// Claimable returns what the beneficiary may withdraw at now. Calling it
// repeatedly without elapsed progress yields zero after a claim.
func Claimable(s *state.VestingSchedule, now int64) (int64, error) {
	var immediate int64
	if !s.ImmediateClaimed {
		immediate = s.ImmediateAmount
	}

	unlocked, err := Unlocked(s, now)
	if err != nil {
		return 0, err
	}

	alreadyVested := s.ClaimedAmount
	if s.ImmediateClaimed {
		alreadyVested -= s.ImmediateAmount
	}

	vested := unlocked - alreadyVested
	if vested < 0 {
		vested = 0
	}

	total, err := fpmath.AddChecked(immediate, vested)
	if err != nil {
		return 0, err
	}
	// Never let claimed exceed total.
	if rest := s.TotalAmount - s.ClaimedAmount; total > rest {
		total = rest
	}
	return total, nil
}

// Apply records a claim of everything claimable at now and returns the
// amount. A zero claim fails with NothingToClaim and leaves s untouched.
func Apply(s *state.VestingSchedule, now int64) (int64, error) {
	amount, err := Claimable(s, now)
	if err != nil {
		return 0, err
	}
	if amount <= 0 {
		return 0, errs.New(errs.KindNothingToClaim, "schedule", "nothing vested since last claim")
	}
	return amount, Record(s, amount)
}

// Record books a claim of amount, which may be less than Claimable when the
// payout was clamped to the held balance.
func Record(s *state.VestingSchedule, amount int64) error {
	claimed, err := fpmath.AddChecked(s.ClaimedAmount, amount)
	if err != nil {
		return err
	}
	if claimed > s.TotalAmount {
		return errs.Newf(errs.KindArithmeticOverflow, "claimed_amount", "%d exceeds total %d", claimed, s.TotalAmount)
	}
	s.ClaimedAmount = claimed
	s.ImmediateClaimed = true
	s.Version++
	return nil
}

// NewTeamSchedule builds the team token schedule from the launched supply.
func NewTeamSchedule(
	marketID, beneficiary uuid.UUID,
	totalSupply int64,
	schedule fees.Schedule,
	start, duration int64,
) (*state.VestingSchedule, error) {
	teamTotal, immediate, vested, err := schedule.TeamTranches(totalSupply)
	if err != nil {
		return nil, err
	}
	return newSchedule(marketID, beneficiary, state.VestingKindTeamTokens, teamTotal, immediate, vested, start, duration)
}

// NewFounderSchedule builds the founder currency schedule from the excess
// pool carved out at resolution.
func NewFounderSchedule(
	marketID, beneficiary uuid.UUID,
	excess int64,
	schedule fees.Schedule,
	start, duration int64,
) (*state.VestingSchedule, error) {
	immediate, vested, err := schedule.FounderTranches(excess)
	if err != nil {
		return nil, err
	}
	return newSchedule(marketID, beneficiary, state.VestingKindFounderCurrency, excess, immediate, vested, start, duration)
}

func newSchedule(
	marketID, beneficiary uuid.UUID,
	kind state.VestingKind,
	total, immediate, vested int64,
	start, duration int64,
) (*state.VestingSchedule, error) {
	if duration <= 0 {
		return nil, errs.InvalidArgument("vesting_duration", "must be positive")
	}
	if immediate+vested != total {
		return nil, errs.Overflow("total_amount")
	}
	return &state.VestingSchedule{
		ID:              state.VestingScheduleID(marketID, kind),
		MarketID:        marketID,
		Kind:            kind,
		Beneficiary:     beneficiary,
		TotalAmount:     total,
		ImmediateAmount: immediate,
		VestingAmount:   vested,
		VestingStart:    start,
		VestingDuration: duration,
	}, nil
}
