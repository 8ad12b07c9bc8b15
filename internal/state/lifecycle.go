// internal/state/lifecycle.go
package state

import (
	"PLPLedger/internal/amm"
	"PLPLedger/internal/errs"

	"github.com/google/uuid"
)

// CheckTrade validates a buy against the market and the buyer's position.
// position may be nil for a first trade. Capacity is checked separately
// because its outcome depends on the cap policy.
func CheckTrade(m *Market, pos *Position, side amm.Side, deposit, now, minInvestment int64) error {
	if m.Resolution.IsResolved() {
		return errs.InvalidState("resolution", "market already resolved")
	}
	if m.IsExpired(now) {
		return errs.InvalidState("expiry_time", "market expired")
	}
	if deposit < minInvestment {
		return errs.Newf(errs.KindBelowMinimum, "amount", "investment too small: %d below minimum %d", deposit, minInvestment)
	}
	if pos != nil && pos.Shares(side.Opposite()) > 0 {
		return errs.Newf(errs.KindConflictingPosition, "side",
			"already holds %s shares in this market", side.Opposite())
	}
	return nil
}

// CheckExtend validates Prediction -> Funding.
func CheckExtend(m *Market, caller uuid.UUID) error {
	if caller != m.Creator {
		return errs.Unauthorized("caller", "only the market creator may extend")
	}
	if !m.Phase.CanTransitionTo(PhaseFunding) {
		return errs.InvalidState("phase", "market is not in Prediction phase")
	}
	if m.Resolution.IsResolved() {
		return errs.InvalidState("resolution", "market already resolved")
	}
	if m.PoolBalance < m.TargetPool {
		return errs.Newf(errs.KindBelowMinimum, "pool_balance", "%d has not reached target %d", m.PoolBalance, m.TargetPool)
	}
	if m.TotalYesShares <= m.TotalNoShares {
		return errs.InvalidState("total_yes_shares", "YES must be ahead to extend")
	}
	return nil
}

// CheckResolve validates that the market may be resolved now by caller:
// after expiry by anyone, early by the creator in Funding, or early by
// anyone once the pool is full and NO is strictly ahead.
func CheckResolve(m *Market, caller uuid.UUID, now int64) error {
	if m.Resolution.IsResolved() {
		return errs.InvalidState("resolution", "AlreadyResolved")
	}

	expired := m.IsExpired(now)
	founderEarly := caller == m.Creator && m.Phase == PhaseFunding
	failedEarly := m.PoolBalance >= m.TargetPool && m.TotalNoShares > m.TotalYesShares

	if !expired && !founderEarly && !failedEarly {
		return errs.InvalidState("expiry_time", "cannot resolve yet")
	}
	return nil
}

// DecideOutcome picks the resolution from one consistent snapshot. Missing
// the target always overrides share counts; a tie refunds.
func DecideOutcome(poolBalance, targetPool, totalYes, totalNo int64) Resolution {
	switch {
	case poolBalance < targetPool:
		return ResolutionRefund
	case totalYes > totalNo:
		return ResolutionYesWins
	case totalNo > totalYes:
		return ResolutionNoWins
	default:
		return ResolutionRefund
	}
}

// Decide applies DecideOutcome to m.
func (m *Market) Decide() Resolution {
	return DecideOutcome(m.PoolBalance, m.TargetPool, m.TotalYesShares, m.TotalNoShares)
}

// CheckClaim validates a participant claim against market and position.
func CheckClaim(m *Market, pos *Position) error {
	if !m.Resolution.IsResolved() {
		return errs.InvalidState("resolution", "market not resolved")
	}
	if pos == nil {
		return errs.New(errs.KindNothingToClaim, "position", "no position in this market")
	}
	if pos.Claimed {
		return errs.New(errs.KindAlreadyClaimed, "position", "already claimed")
	}
	return nil
}
