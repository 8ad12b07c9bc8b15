// Package fees computes trade and completion fees and every pro-rata payout.
// All arithmetic is integer with explicit floor rounding.
package fees

import (
	"fmt"

	"PLPLedger/internal/errs"
	fpmath "PLPLedger/internal/math"
)

// BpsDivisor is 100% in basis points.
const BpsDivisor int64 = 10_000

// Schedule holds every basis-point rate. The token split is deployment
// configuration; yes voters receive whatever platform and team do not.
type Schedule struct {
	TradeFeeBps         int64
	CompletionFeeBps    int64
	PlatformTokenBps    int64
	TeamTokenBps        int64
	TeamImmediateBps    int64 // Of total supply; the rest of TeamTokenBps vests
	FounderImmediateBps int64 // Of founder excess; the rest vests
}

// DefaultSchedule returns the production rates.
func DefaultSchedule() Schedule {
	return Schedule{
		TradeFeeBps:         150,
		CompletionFeeBps:    500,
		PlatformTokenBps:    200,
		TeamTokenBps:        3300,
		TeamImmediateBps:    800,
		FounderImmediateBps: 800,
	}
}

// VoterTokenBps is the nominal yes-voter share.
func (s Schedule) VoterTokenBps() int64 {
	return BpsDivisor - s.PlatformTokenBps - s.TeamTokenBps
}

// Validate checks that every rate is within [0, 10000] and the token split
// leaves voters a non-negative share.
func (s Schedule) Validate() error {
	rates := []struct {
		name string
		v    int64
	}{
		{"trade_fee_bps", s.TradeFeeBps},
		{"completion_fee_bps", s.CompletionFeeBps},
		{"platform_token_bps", s.PlatformTokenBps},
		{"team_token_bps", s.TeamTokenBps},
		{"team_immediate_bps", s.TeamImmediateBps},
		{"founder_immediate_bps", s.FounderImmediateBps},
	}
	for _, r := range rates {
		if r.v < 0 || r.v > BpsDivisor {
			return fmt.Errorf("%s must be in [0, %d], got %d", r.name, BpsDivisor, r.v)
		}
	}
	if s.TradeFeeBps == BpsDivisor {
		return fmt.Errorf("trade_fee_bps must be < %d", BpsDivisor)
	}
	if s.PlatformTokenBps+s.TeamTokenBps > BpsDivisor {
		return fmt.Errorf("platform_token_bps (%d) + team_token_bps (%d) exceeds %d",
			s.PlatformTokenBps, s.TeamTokenBps, BpsDivisor)
	}
	if s.TeamImmediateBps > s.TeamTokenBps {
		return fmt.Errorf("team_immediate_bps (%d) must be <= team_token_bps (%d)",
			s.TeamImmediateBps, s.TeamTokenBps)
	}
	return nil
}

// TradeFee returns floor(deposit * trade_fee_bps / 10000) and the net deposit.
func (s Schedule) TradeFee(deposit int64) (fee, net int64, err error) {
	if deposit < 0 {
		return 0, 0, errs.InvalidArgument("amount", "must be non-negative")
	}
	fee, err = fpmath.ApplyBps(deposit, s.TradeFeeBps)
	if err != nil {
		return 0, 0, err
	}
	return fee, deposit - fee, nil
}

// CompletionFee returns floor(pool * completion_fee_bps / 10000).
func (s Schedule) CompletionFee(pool int64) (int64, error) {
	if pool <= 0 {
		return 0, nil
	}
	return fpmath.ApplyBps(pool, s.CompletionFeeBps)
}

// TokenSplit divides the tokens actually received. Voters get the remainder
// so the three parts always sum to total.
func (s Schedule) TokenSplit(total int64) (platform, team, voters int64, err error) {
	if total <= 0 {
		return 0, 0, 0, errs.New(errs.KindExternalServiceFailure, "tokens_received", "must be positive")
	}
	if platform, err = fpmath.ApplyBps(total, s.PlatformTokenBps); err != nil {
		return 0, 0, 0, err
	}
	if team, err = fpmath.ApplyBps(total, s.TeamTokenBps); err != nil {
		return 0, 0, 0, err
	}
	voters = total - platform - team
	if voters < 0 {
		return 0, 0, 0, errs.Overflow("voter_tokens")
	}
	return platform, team, voters, nil
}

// TeamTranches splits a token supply into the team's immediate and vested
// amounts. teamTotal = supply*team_bps, immediate = supply*immediate_bps.
func (s Schedule) TeamTranches(totalSupply int64) (teamTotal, immediate, vested int64, err error) {
	if totalSupply <= 0 {
		return 0, 0, 0, errs.InvalidArgument("total_supply", "must be positive")
	}
	if teamTotal, err = fpmath.ApplyBps(totalSupply, s.TeamTokenBps); err != nil {
		return 0, 0, 0, err
	}
	if immediate, err = fpmath.ApplyBps(totalSupply, s.TeamImmediateBps); err != nil {
		return 0, 0, 0, err
	}
	return teamTotal, immediate, teamTotal - immediate, nil
}

// FounderTranches splits founder excess currency into immediate and vested.
func (s Schedule) FounderTranches(excess int64) (immediate, vested int64, err error) {
	if excess <= 0 {
		return 0, 0, errs.New(errs.KindNothingToClaim, "founder_excess", "no excess allocated")
	}
	if immediate, err = fpmath.ApplyBps(excess, s.FounderImmediateBps); err != nil {
		return 0, 0, err
	}
	return immediate, excess - immediate, nil
}

// RefundAmount returns the net-of-trade-fee refund for a gross investment.
// The trade fee already left the system and is not returned.
func (s Schedule) RefundAmount(totalInvested int64) (int64, error) {
	if totalInvested <= 0 {
		return 0, nil
	}
	return fpmath.MulDivFloor(totalInvested, BpsDivisor-s.TradeFeeBps, BpsDivisor)
}

// FounderExcess returns the part of pool above threshold. A zero threshold
// disables the carve-out.
func FounderExcess(pool, threshold int64) int64 {
	if threshold <= 0 || pool <= threshold {
		return 0
	}
	return pool - threshold
}
