package state

import (
	"PLPLedger/internal/amm"
	"PLPLedger/internal/errs"
	"PLPLedger/internal/fees"
	fpmath "PLPLedger/internal/math"
)

// ApplyBuy moves a priced trade into market and position. The fee has
// already been routed to the treasury; only charge.Net enters the pool.
func ApplyBuy(m *Market, pos *Position, q amm.Quote, charge fees.Charge) error {
	if q.Deposit != charge.Net {
		return errs.InvalidArgument("quote", "quote was not priced on the net deposit")
	}

	pool, err := fpmath.AddChecked(m.PoolBalance, charge.Net)
	if err != nil {
		return err
	}
	invested, err := fpmath.AddChecked(pos.TotalInvested, charge.Gross)
	if err != nil {
		return err
	}

	var sideTotal, held int64
	if q.Side == amm.SideYes {
		sideTotal, err = fpmath.AddChecked(m.TotalYesShares, q.Shares)
		if err != nil {
			return err
		}
		held, err = fpmath.AddChecked(pos.YesShares, q.Shares)
	} else {
		sideTotal, err = fpmath.AddChecked(m.TotalNoShares, q.Shares)
		if err != nil {
			return err
		}
		held, err = fpmath.AddChecked(pos.NoShares, q.Shares)
	}
	if err != nil {
		return err
	}

	m.PoolBalance = pool
	m.YesPool = q.NewYesPool
	m.NoPool = q.NewNoPool
	if q.Side == amm.SideYes {
		m.TotalYesShares = sideTotal
		pos.YesShares = held
	} else {
		m.TotalNoShares = sideTotal
		pos.NoShares = held
	}
	pos.TotalInvested = invested
	m.Version++
	pos.Version++
	return nil
}

// Debit removes amount from the market's pool mirror.
func (m *Market) Debit(field string, amount int64) error {
	if amount < 0 || amount > m.PoolBalance {
		return errs.Newf(errs.KindArithmeticOverflow, field, "debit %d exceeds pool balance %d", amount, m.PoolBalance)
	}
	m.PoolBalance -= amount
	return nil
}

// Resolve sets the terminal resolution. Resolution is monotonic.
func (m *Market) Resolve(r Resolution, now int64) error {
	if !m.Resolution.CanTransitionTo(r) {
		return errs.Newf(errs.KindInvalidState, "resolution", "cannot transition %s -> %s", m.Resolution, r)
	}
	m.Resolution = r
	m.ResolvedAt = now
	m.Version++
	return nil
}
