package core

import (
	"PLPLedger/internal/errs"
	"PLPLedger/internal/event"
	"PLPLedger/internal/fees"
	"PLPLedger/internal/ledger"
	"PLPLedger/internal/state"
)

// handleClaim pays a participant from the frozen resolution figures. The
// claimed flag is set in the same commit as the transfer.
func (c *Engine) handleClaim(cmd *event.Claim, ref ledger.Ref) (*effects, error) {
	m, err := c.registry.Market(cmd.Market)
	if err != nil {
		return nil, err
	}
	pos, ok := c.registry.Position(m.ID, cmd.Caller)
	if !ok {
		pos = nil
	}
	if err := state.CheckClaim(m, pos); err != nil {
		return nil, err
	}

	batch := c.journalGen.NewBatch(ref)
	var paid int64

	switch m.Resolution {
	case state.ResolutionYesWins:
		alloc, set := m.Allocation.Get()
		if !set {
			return nil, errs.InvalidState("allocation", "token allocation missing")
		}
		owed, err := fees.ProRata(alloc.Voters, pos.YesShares, m.TotalYesShares)
		if err != nil {
			return nil, err
		}
		if paid, err = fees.Clamp(owed, c.balanceTracker.TokenVaultBalance(m.ID)); err != nil {
			return nil, err
		}
		if err := c.journalGen.AddTokenPayout(batch, m.ID, pos.Owner, paid, ledger.JournalTypeTokenClaim); err != nil {
			return nil, errs.Wrap(errs.KindArithmeticOverflow, "token_vault", err)
		}

	case state.ResolutionNoWins:
		owed, err := fees.ProRata(m.DistributionPool, pos.NoShares, m.TotalNoShares)
		if err != nil {
			return nil, err
		}
		if paid, err = c.payCurrency(batch, m, pos, owed, ledger.JournalTypePayout); err != nil {
			return nil, err
		}

	case state.ResolutionRefund:
		owed, err := c.params.Fees.RefundAmount(pos.TotalInvested)
		if err != nil {
			return nil, err
		}
		if paid, err = c.payCurrency(batch, m, pos, owed, ledger.JournalTypeRefund); err != nil {
			return nil, err
		}

	default:
		return nil, errs.InvalidState("resolution", "market not resolved")
	}

	pos.Claimed = true
	pos.ClaimedAmount = paid
	pos.Version++

	if c.metrics != nil {
		c.metrics.ClaimsPaid.WithLabelValues(m.Resolution.String()).Inc()
	}
	return &effects{batch: batch, market: m, position: pos, payout: paid}, nil
}

// payCurrency clamps owed to the pool and moves it out of the vault.
func (c *Engine) payCurrency(b *ledger.Batch, m *state.Market, pos *state.Position, owed int64, jt ledger.JournalType) (int64, error) {
	paid, err := fees.Clamp(owed, m.PoolBalance)
	if err != nil {
		return 0, err
	}
	if err := c.journalGen.AddCurrencyPayout(b, m.ID, pos.Owner, paid, jt); err != nil {
		return 0, errs.Wrap(errs.KindArithmeticOverflow, "vault", err)
	}
	if err := m.Debit("pool_balance", paid); err != nil {
		return 0, err
	}
	m.Version++
	return paid, nil
}

// handleClaimPlatformTokens transfers the platform allocation once.
func (c *Engine) handleClaimPlatformTokens(cmd *event.ClaimPlatformTokens, ref ledger.Ref) (*effects, error) {
	m, err := c.registry.Market(cmd.Market)
	if err != nil {
		return nil, err
	}
	if !c.authorizer.Authorize(cmd.Caller, RoleAdmin, m) {
		return nil, errs.Unauthorized("caller", "only the treasury admin may claim platform tokens")
	}
	if m.Resolution != state.ResolutionYesWins {
		return nil, errs.InvalidState("resolution", "platform tokens exist only for YesWins")
	}
	if m.PlatformTokensClaimed {
		return nil, errs.New(errs.KindAlreadyClaimed, "platform_tokens", "already claimed")
	}

	alloc, set := m.Allocation.Get()
	if !set {
		return nil, errs.InvalidState("allocation", "token allocation missing")
	}
	paid, err := fees.Clamp(alloc.Platform, c.balanceTracker.TokenVaultBalance(m.ID))
	if err != nil {
		return nil, err
	}

	batch := c.journalGen.NewBatch(ref)
	if err := c.journalGen.AddPlatformTokens(batch, m.ID, paid); err != nil {
		return nil, errs.Wrap(errs.KindArithmeticOverflow, "token_vault", err)
	}
	m.PlatformTokensClaimed = true
	m.Version++

	return &effects{batch: batch, market: m, payout: paid}, nil
}
