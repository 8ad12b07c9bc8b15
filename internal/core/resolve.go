package core

import (
	"context"
	"time"

	"PLPLedger/internal/errs"
	"PLPLedger/internal/event"
	"PLPLedger/internal/fees"
	"PLPLedger/internal/launch"
	"PLPLedger/internal/ledger"
	"PLPLedger/internal/state"
)

// outcomeHandler applies the side effects of one resolution to a market
// that has passed CheckResolve. It must not change m.Resolution.
type outcomeHandler func(ctx context.Context, cmd *event.ResolveMarket, m *state.Market, t *state.Treasury, b *ledger.Batch) error

// handleResolveMarket decides the outcome from one consistent snapshot and
// dispatches to its handler. Any failure leaves the market Unresolved.
func (c *Engine) handleResolveMarket(ctx context.Context, cmd *event.ResolveMarket, ref ledger.Ref) (*effects, error) {
	now := cmd.Now()

	m, err := c.registry.Market(cmd.Market)
	if err != nil {
		return nil, err
	}
	if err := state.CheckResolve(m, cmd.Caller, now); err != nil {
		return nil, err
	}

	outcome := m.Decide()
	handler, ok := c.outcomes[outcome]
	if !ok {
		return nil, errs.Newf(errs.KindInvalidState, "resolution", "no handler for %s", outcome)
	}

	treasury := c.registry.Treasury()
	batch := c.journalGen.NewBatch(ref)
	if err := handler(ctx, cmd, m, treasury, batch); err != nil {
		return nil, err
	}
	if err := m.Resolve(outcome, now); err != nil {
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.Resolutions.WithLabelValues(outcome.String()).Inc()
	}
	c.log.Info().
		Str("market_id", m.ID.String()).
		Str("outcome", outcome.String()).
		Int64("pool_balance", m.PoolBalance).
		Int64("total_yes_shares", m.TotalYesShares).
		Int64("total_no_shares", m.TotalNoShares).
		Msg("market resolved")

	return &effects{batch: batch, market: m, treasury: treasury, resolution: outcome}, nil
}

// skimCompletionFee moves the completion fee from the pool to the treasury
// and returns what is left.
func (c *Engine) skimCompletionFee(m *state.Market, t *state.Treasury, b *ledger.Batch) (int64, error) {
	fee, err := c.params.Fees.CompletionFee(m.PoolBalance)
	if err != nil {
		return 0, err
	}
	if err := c.journalGen.AddCompletionFee(b, m.ID, fee); err != nil {
		return 0, errs.Wrap(errs.KindArithmeticOverflow, "completion_fee", err)
	}
	if err := m.Debit("completion_fee", fee); err != nil {
		return 0, err
	}
	if err := t.Collect(fee); err != nil {
		return 0, err
	}
	return m.PoolBalance, nil
}

// resolveYesWins spends the pool (less the founder excess) on the launched
// asset and freezes the token split. The launch service is only called
// after every local check has passed, and only when the command carries no
// receipt from an earlier run.
func (c *Engine) resolveYesWins(ctx context.Context, cmd *event.ResolveMarket, m *state.Market, t *state.Treasury, b *ledger.Batch) error {
	poolAfterFee, err := c.skimCompletionFee(m, t, b)
	if err != nil {
		return err
	}

	excess := fees.FounderExcess(poolAfterFee, c.params.FounderExcessThreshold)
	budget := poolAfterFee - excess
	if budget <= 0 {
		return errs.InvalidState("pool_balance", "nothing left to launch with")
	}

	receipt := cmd.Receipt
	if receipt == nil {
		if c.replaying {
			return errs.InvalidState("receipt", "replayed YesWins resolution has no launch receipt")
		}
		receipt, err = c.callLaunch(ctx, m, budget)
		if err != nil {
			return err
		}
	}
	if !launch.ValidAssetID(receipt.AssetID) || receipt.TokensReceived <= 0 || receipt.Spent <= 0 || receipt.Spent > budget {
		return errs.Newf(errs.KindExternalServiceFailure, "receipt",
			"inconsistent launch result: asset=%q tokens=%d spent=%d budget=%d",
			receipt.AssetID, receipt.TokensReceived, receipt.Spent, budget)
	}

	platform, team, voters, err := c.params.Fees.TokenSplit(receipt.TokensReceived)
	if err != nil {
		return err
	}

	if err := c.journalGen.AddLaunch(b, m.ID, receipt.Spent, receipt.TokensReceived, poolAfterFee); err != nil {
		return errs.Wrap(errs.KindArithmeticOverflow, "launch", err)
	}
	if err := m.Debit("launch", receipt.Spent); err != nil {
		return err
	}

	if err := m.Token.Set("token", state.TokenLaunch{AssetID: receipt.AssetID, TokensReceived: receipt.TokensReceived}); err != nil {
		return err
	}
	if err := m.Allocation.Set("allocation", state.TokenAllocation{Platform: platform, Team: team, Voters: voters}); err != nil {
		return err
	}
	// Whatever the launch did not spend stays with the founder excess.
	if founder := m.PoolBalance; founder > 0 {
		if err := m.FounderExcess.Set("founder_excess", founder); err != nil {
			return err
		}
	}

	cmd.Receipt = receipt
	return nil
}

func (c *Engine) callLaunch(ctx context.Context, m *state.Market, budget int64) (*event.LaunchReceipt, error) {
	if c.launch == nil {
		return nil, errs.New(errs.KindExternalServiceFailure, "launch", "no launch service configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.launchTimeout)
	defer cancel()

	start := time.Now()
	assetID, purchase, err := launch.Launch(ctx, c.launch, launch.Metadata{
		Name:   m.Name,
		Symbol: m.Symbol,
		URI:    m.MetadataURI,
	}, budget)
	if c.metrics != nil {
		c.metrics.LaunchDuration.Observe(time.Since(start).Seconds())
		result := "ok"
		if err != nil {
			result = "error"
		}
		c.metrics.LaunchCalls.WithLabelValues(result).Inc()
	}
	if err != nil {
		c.log.Warn().Err(err).Str("market_id", m.ID.String()).Msg("token launch failed; market stays unresolved")
		return nil, err
	}
	return &event.LaunchReceipt{
		AssetID:        assetID,
		TokensReceived: purchase.TokensReceived,
		Spent:          purchase.Spent,
	}, nil
}

// resolveNoWins freezes the distribution pool after the completion fee.
func (c *Engine) resolveNoWins(_ context.Context, _ *event.ResolveMarket, m *state.Market, t *state.Treasury, b *ledger.Batch) error {
	pool, err := c.skimCompletionFee(m, t, b)
	if err != nil {
		return err
	}
	m.DistributionPool = pool
	return nil
}

// resolveRefund takes no fee; each participant reclaims their net deposit.
func (c *Engine) resolveRefund(_ context.Context, _ *event.ResolveMarket, m *state.Market, _ *state.Treasury, _ *ledger.Batch) error {
	m.DistributionPool = m.PoolBalance
	return nil
}
