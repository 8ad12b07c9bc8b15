package core

import (
	"PLPLedger/internal/errs"
	"PLPLedger/internal/event"
	"PLPLedger/internal/fees"
	"PLPLedger/internal/ledger"
	"PLPLedger/internal/state"
	"PLPLedger/internal/vesting"

	"github.com/google/uuid"
)

// handleInitTeamVesting creates the team token schedule. The creator or the
// treasury admin may call it once per market.
func (c *Engine) handleInitTeamVesting(cmd *event.InitTeamVesting, ref ledger.Ref) (*effects, error) {
	m, err := c.registry.Market(cmd.Market)
	if err != nil {
		return nil, err
	}
	if !c.authorizer.Authorize(cmd.Caller, RoleCreator, m) && !c.authorizer.Authorize(cmd.Caller, RoleAdmin, m) {
		return nil, errs.Unauthorized("caller", "only the creator or treasury admin may initialize team vesting")
	}
	if m.Resolution != state.ResolutionYesWins || !m.Token.IsSet() {
		return nil, errs.InvalidState("resolution", "team vesting requires a launched YesWins market")
	}
	if m.TeamVesting.IsSet() {
		return nil, errs.InvalidState("team_vesting", "already initialized")
	}

	beneficiary := cmd.TeamWallet
	if beneficiary == uuid.Nil {
		beneficiary = m.Creator
	}

	s, err := vesting.NewTeamSchedule(m.ID, beneficiary, cmd.TotalSupply, c.params.Fees, cmd.Now(), c.params.VestingDuration)
	if err != nil {
		return nil, err
	}
	alloc, set := m.Allocation.Get()
	if !set {
		return nil, errs.InvalidState("allocation", "token allocation missing")
	}
	if reserved := alloc.Team; s.TotalAmount > reserved {
		return nil, errs.Newf(errs.KindInvalidArgument, "total_supply",
			"team allocation %d exceeds the %d tokens reserved at launch", s.TotalAmount, reserved)
	}
	if s.ImmediateAmount <= 0 || s.VestingAmount <= 0 {
		return nil, errs.BelowMinimum("total_supply", cmd.TotalSupply, fees.BpsDivisor)
	}

	if err := m.TeamVesting.Set("team_vesting", s.ID); err != nil {
		return nil, err
	}
	m.Version++
	s.Version = 1

	return &effects{batch: c.journalGen.NewBatch(ref), market: m, schedule: s}, nil
}

// handleInitFounderVesting creates the founder currency schedule from the
// excess carved out at YesWins.
func (c *Engine) handleInitFounderVesting(cmd *event.InitFounderVesting, ref ledger.Ref) (*effects, error) {
	m, err := c.registry.Market(cmd.Market)
	if err != nil {
		return nil, err
	}
	if !c.authorizer.Authorize(cmd.Caller, RoleCreator, m) {
		return nil, errs.Unauthorized("caller", "only the market creator may initialize founder vesting")
	}
	if m.Resolution != state.ResolutionYesWins {
		return nil, errs.InvalidState("resolution", "founder vesting requires YesWins")
	}
	excess, ok := m.FounderExcess.Get()
	if !ok || excess <= 0 {
		return nil, errs.New(errs.KindNothingToClaim, "founder_excess", "no excess allocated")
	}
	if m.FounderVesting.IsSet() {
		return nil, errs.InvalidState("founder_vesting", "already initialized")
	}

	s, err := vesting.NewFounderSchedule(m.ID, m.Creator, excess, c.params.Fees, cmd.Now(), c.params.VestingDuration)
	if err != nil {
		return nil, err
	}
	if err := m.FounderVesting.Set("founder_vesting", s.ID); err != nil {
		return nil, err
	}
	m.Version++
	s.Version = 1

	return &effects{batch: c.journalGen.NewBatch(ref), market: m, schedule: s}, nil
}

// handleClaimVesting pays what a schedule has unlocked, clamped to what the
// market still holds.
func (c *Engine) handleClaimVesting(cmd *event.ClaimVesting, ref ledger.Ref) (*effects, error) {
	s, err := c.registry.Schedule(cmd.Schedule)
	if err != nil {
		return nil, err
	}
	if cmd.Caller != s.Beneficiary {
		return nil, errs.Unauthorized("caller", "only the beneficiary may claim")
	}
	m, err := c.registry.Market(s.MarketID)
	if err != nil {
		return nil, err
	}
	cmd.Market = m.ID

	owed, err := vesting.Claimable(s, cmd.Now())
	if err != nil {
		return nil, err
	}
	if owed <= 0 {
		return nil, errs.New(errs.KindNothingToClaim, "schedule", "nothing vested since last claim")
	}

	batch := c.journalGen.NewBatch(ref)
	var paid int64

	switch s.Kind {
	case state.VestingKindTeamTokens:
		if paid, err = fees.Clamp(owed, c.balanceTracker.TokenVaultBalance(m.ID)); err != nil {
			return nil, err
		}
		if err := c.journalGen.AddTokenPayout(batch, m.ID, s.Beneficiary, paid, ledger.JournalTypeVestingClaim); err != nil {
			return nil, errs.Wrap(errs.KindArithmeticOverflow, "token_vault", err)
		}

	case state.VestingKindFounderCurrency:
		if paid, err = fees.Clamp(owed, m.PoolBalance); err != nil {
			return nil, err
		}
		if err := c.journalGen.AddCurrencyPayout(batch, m.ID, s.Beneficiary, paid, ledger.JournalTypeVestingClaim); err != nil {
			return nil, errs.Wrap(errs.KindArithmeticOverflow, "vault", err)
		}
		if err := m.Debit("pool_balance", paid); err != nil {
			return nil, err
		}
		m.Version++

	default:
		return nil, errs.Newf(errs.KindInvalidState, "kind", "unknown schedule kind %d", s.Kind)
	}

	if err := vesting.Record(s, paid); err != nil {
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.VestingClaimsPaid.WithLabelValues(s.Kind.String()).Inc()
	}
	return &effects{batch: batch, market: m, schedule: s, payout: paid}, nil
}
