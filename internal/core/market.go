package core

import (
	"unicode/utf8"

	"PLPLedger/internal/amm"
	"PLPLedger/internal/errs"
	"PLPLedger/internal/event"
	"PLPLedger/internal/fees"
	"PLPLedger/internal/ledger"
	"PLPLedger/internal/state"
)

// handleCreateMarket opens a market seeded with virtual reserves equal to
// the target pool and charges the creation fee.
func (c *Engine) handleCreateMarket(cmd *event.CreateMarket, ref ledger.Ref) (*effects, error) {
	p := &c.params
	now := cmd.Now()

	switch {
	case cmd.Name == "":
		return nil, errs.InvalidArgument("name", "must not be empty")
	case cmd.Symbol == "":
		return nil, errs.InvalidArgument("symbol", "must not be empty")
	case cmd.MetadataCID == "":
		return nil, errs.InvalidArgument("metadata_cid", "must not be empty")
	case utf8.RuneCountInString(cmd.MetadataCID) > p.MaxMetadataCIDLen:
		return nil, errs.Newf(errs.KindInvalidArgument, "metadata_cid", "longer than %d", p.MaxMetadataCIDLen)
	case utf8.RuneCountInString(cmd.MetadataURI) > p.MaxMetadataURILen:
		return nil, errs.Newf(errs.KindInvalidArgument, "metadata_uri", "longer than %d", p.MaxMetadataURILen)
	}

	if cmd.TargetPool < p.MinTargetPool {
		return nil, errs.BelowMinimum("target_pool", cmd.TargetPool, p.MinTargetPool)
	}
	if !p.IsAllowedTarget(cmd.TargetPool) {
		return nil, errs.Newf(errs.KindInvalidArgument, "target_pool", "%d is not an allowed target", cmd.TargetPool)
	}
	if cmd.ExpiryTime <= now {
		return nil, errs.InvalidArgument("expiry_time", "must be in the future")
	}

	id := cmd.MarketID()
	if c.registry.HasMarket(id) {
		return nil, errs.InvalidState("market", "already exists for this creator and metadata")
	}

	treasury := c.registry.Treasury()
	if err := treasury.Collect(p.CreationFee); err != nil {
		return nil, err
	}

	batch := c.journalGen.NewBatch(ref)
	c.journalGen.AddCreationFee(batch, cmd.Caller, p.CreationFee)

	m := &state.Market{
		ID:          id,
		Creator:     cmd.Caller,
		Name:        cmd.Name,
		Symbol:      cmd.Symbol,
		MetadataURI: cmd.MetadataURI,
		MetadataCID: cmd.MetadataCID,
		TargetPool:  cmd.TargetPool,
		YesPool:     cmd.TargetPool,
		NoPool:      cmd.TargetPool,
		ExpiryTime:  cmd.ExpiryTime,
		Phase:       state.PhasePrediction,
		Resolution:  state.ResolutionUnresolved,
		CreatedAt:   now,
		Version:     1,
	}

	// Record the derived id so replay does not depend on derivation.
	cmd.Market = id

	if c.metrics != nil {
		c.metrics.MarketsCreated.Inc()
	}
	return &effects{batch: batch, market: m, treasury: treasury}, nil
}

// handleBuy skims the trade fee, applies the cap policy in Prediction, and
// prices the net deposit on the AMM.
func (c *Engine) handleBuy(cmd *event.Buy, ref ledger.Ref) (*effects, error) {
	p := &c.params
	now := cmd.Now()

	m, err := c.registry.Market(cmd.Market)
	if err != nil {
		return nil, err
	}
	pos, ok := c.registry.Position(m.ID, cmd.Caller)
	if !ok {
		pos = &state.Position{MarketID: m.ID, Owner: cmd.Caller}
	}

	if err := state.CheckTrade(m, pos, cmd.Side, cmd.Amount, now, p.MinInvestment); err != nil {
		return nil, err
	}

	var charge fees.Charge
	if m.Phase == state.PhasePrediction {
		charge, err = p.Fees.CapDeposit(cmd.Amount, m.RemainingCapacity(), p.CapPolicy)
	} else {
		var fee, net int64
		fee, net, err = p.Fees.TradeFee(cmd.Amount)
		charge = fees.Charge{Gross: cmd.Amount, Fee: fee, Net: net}
	}
	if err != nil {
		return nil, err
	}

	q, err := amm.QuoteBuy(m.YesPool, m.NoPool, charge.Net, cmd.Side, p.AMMParams())
	if err != nil {
		return nil, err
	}
	if err := state.ApplyBuy(m, pos, q, charge); err != nil {
		return nil, err
	}

	treasury := c.registry.Treasury()
	if err := treasury.Collect(charge.Fee); err != nil {
		return nil, err
	}

	batch := c.journalGen.NewBatch(ref)
	c.journalGen.AddTrade(batch, cmd.Caller, m.ID, charge.Net, charge.Fee)

	if c.metrics != nil {
		c.metrics.TradeVolume.WithLabelValues(cmd.Side.String()).Add(float64(charge.Gross))
		if charge.Capped {
			c.metrics.CappedTrades.Inc()
		}
	}
	return &effects{
		batch:    batch,
		market:   m,
		position: pos,
		treasury: treasury,
		charge:   charge,
		shares:   q.Shares,
	}, nil
}

// handleExtendMarket moves Prediction -> Funding. No money moves.
func (c *Engine) handleExtendMarket(cmd *event.ExtendMarket, ref ledger.Ref) (*effects, error) {
	m, err := c.registry.Market(cmd.Market)
	if err != nil {
		return nil, err
	}
	if err := state.CheckExtend(m, cmd.Caller); err != nil {
		return nil, err
	}
	m.Phase = state.PhaseFunding
	m.Version++
	return &effects{batch: c.journalGen.NewBatch(ref), market: m}, nil
}
