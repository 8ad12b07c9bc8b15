package state_test

import (
	"errors"
	"testing"

	"PLPLedger/internal/amm"
	"PLPLedger/internal/errs"
	"PLPLedger/internal/fees"
	"PLPLedger/internal/state"

	"github.com/google/uuid"
)

const sol = int64(1_000_000_000)

var (
	creator = uuid.MustParse("00000000-0000-0000-0000-00000000000c")
	alice   = uuid.MustParse("00000000-0000-0000-0000-00000000000a")
)

func newMarket() *state.Market {
	return &state.Market{
		ID:         uuid.MustParse("00000000-0000-0000-0000-0000000000ff"),
		Creator:    creator,
		TargetPool: 10 * sol,
		YesPool:    10 * sol,
		NoPool:     10 * sol,
		ExpiryTime: 1_000,
	}
}

// ============================================================================
// Outcome decision
// ============================================================================

func TestDecideOutcome(t *testing.T) {
	tests := []struct {
		name         string
		pool, target int64
		yes, no      int64
		want         state.Resolution
	}{
		{"target missed overrides yes lead", 9, 10, 100, 1, state.ResolutionRefund},
		{"yes ahead", 10, 10, 100, 1, state.ResolutionYesWins},
		{"no ahead", 12, 10, 1, 100, state.ResolutionNoWins},
		{"tie", 10, 10, 50, 50, state.ResolutionRefund},
		{"empty", 0, 10, 0, 0, state.ResolutionRefund},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := state.DecideOutcome(tt.pool, tt.target, tt.yes, tt.no)
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResolution_Monotonic(t *testing.T) {
	for _, from := range []state.Resolution{state.ResolutionYesWins, state.ResolutionNoWins, state.ResolutionRefund} {
		for _, to := range []state.Resolution{state.ResolutionUnresolved, state.ResolutionYesWins, state.ResolutionNoWins, state.ResolutionRefund} {
			if from.CanTransitionTo(to) {
				t.Errorf("%s -> %s must be forbidden", from, to)
			}
		}
	}
	if !state.ResolutionUnresolved.CanTransitionTo(state.ResolutionNoWins) {
		t.Error("Unresolved -> NoWins must be allowed")
	}
}

// ============================================================================
// Trade preconditions
// ============================================================================

func TestCheckTrade(t *testing.T) {
	m := newMarket()

	if err := state.CheckTrade(m, nil, amm.SideYes, sol, 10, 10_000_000); err != nil {
		t.Fatalf("valid trade rejected: %v", err)
	}

	if err := state.CheckTrade(m, nil, amm.SideYes, sol, 1_000, 10_000_000); !errors.Is(err, errs.ErrInvalidState) {
		t.Errorf("expired: expected InvalidState, got %v", err)
	}

	if err := state.CheckTrade(m, nil, amm.SideYes, 1, 10, 10_000_000); !errors.Is(err, errs.ErrBelowMinimum) {
		t.Errorf("small: expected BelowMinimum, got %v", err)
	}

	pos := &state.Position{MarketID: m.ID, Owner: alice, NoShares: 5}
	if err := state.CheckTrade(m, pos, amm.SideYes, sol, 10, 10_000_000); !errors.Is(err, errs.ErrConflictingPosition) {
		t.Errorf("opposite: expected ConflictingPosition, got %v", err)
	}
	if err := state.CheckTrade(m, pos, amm.SideNo, sol, 10, 10_000_000); err != nil {
		t.Errorf("same side must be allowed: %v", err)
	}

	m.Resolution = state.ResolutionRefund
	if err := state.CheckTrade(m, nil, amm.SideYes, sol, 10, 10_000_000); !errors.Is(err, errs.ErrInvalidState) {
		t.Errorf("resolved: expected InvalidState, got %v", err)
	}
}

// ============================================================================
// Extend & resolve
// ============================================================================

func TestCheckExtend(t *testing.T) {
	m := newMarket()
	m.PoolBalance = 10 * sol
	m.TotalYesShares, m.TotalNoShares = 10, 5

	if err := state.CheckExtend(m, alice); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("non-creator: expected Unauthorized, got %v", err)
	}
	if err := state.CheckExtend(m, creator); err != nil {
		t.Fatalf("valid extend rejected: %v", err)
	}

	m.TotalNoShares = 10
	if err := state.CheckExtend(m, creator); !errors.Is(err, errs.ErrInvalidState) {
		t.Errorf("tie: expected InvalidState, got %v", err)
	}

	m.TotalNoShares = 5
	m.PoolBalance = sol
	if err := state.CheckExtend(m, creator); !errors.Is(err, errs.ErrBelowMinimum) {
		t.Errorf("under target: expected BelowMinimum, got %v", err)
	}

	m.PoolBalance = 10 * sol
	m.Phase = state.PhaseFunding
	if err := state.CheckExtend(m, creator); !errors.Is(err, errs.ErrInvalidState) {
		t.Errorf("already funding: expected InvalidState, got %v", err)
	}
}

func TestCheckResolve(t *testing.T) {
	m := newMarket()

	if err := state.CheckResolve(m, alice, 10); !errors.Is(err, errs.ErrInvalidState) {
		t.Errorf("early: expected InvalidState, got %v", err)
	}
	if err := state.CheckResolve(m, alice, 1_000); err != nil {
		t.Errorf("expired: %v", err)
	}

	// Permissionless early failure
	m.PoolBalance = 10 * sol
	m.TotalNoShares, m.TotalYesShares = 10, 5
	if err := state.CheckResolve(m, alice, 10); err != nil {
		t.Errorf("pool full with NO ahead: %v", err)
	}

	// Creator early in Funding
	m.TotalNoShares, m.TotalYesShares = 5, 10
	m.Phase = state.PhaseFunding
	if err := state.CheckResolve(m, alice, 10); !errors.Is(err, errs.ErrInvalidState) {
		t.Errorf("non-creator in funding: expected InvalidState, got %v", err)
	}
	if err := state.CheckResolve(m, creator, 10); err != nil {
		t.Errorf("creator in funding: %v", err)
	}

	m.Resolution = state.ResolutionYesWins
	err := state.CheckResolve(m, creator, 2_000)
	if !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("resolved: expected InvalidState, got %v", err)
	}
}

// ============================================================================
// Once
// ============================================================================

func TestOnce_SetOnlyOnce(t *testing.T) {
	var o state.Once[string]
	if o.IsSet() {
		t.Fatal("zero Once must be unset")
	}
	if err := o.Set("token", "mint-1"); err != nil {
		t.Fatal(err)
	}
	if err := o.Set("token", "mint-2"); !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("second Set: expected InvalidState, got %v", err)
	}
	if v, _ := o.Get(); v != "mint-1" {
		t.Errorf("got %q, want mint-1", v)
	}
}

func TestOnce_ValueZeroWhenUnset(t *testing.T) {
	var o state.Once[int64]
	if o.Value() != 0 {
		t.Errorf("unset: got %d, want 0", o.Value())
	}
	_ = o.Set("excess", 7)
	if o.Value() != 7 {
		t.Errorf("set: got %d, want 7", o.Value())
	}
}

func TestOnce_JSONRoundTrip(t *testing.T) {
	var o state.Once[int64]
	b, _ := o.MarshalJSON()
	if string(b) != "null" {
		t.Errorf("unset: got %s, want null", b)
	}

	_ = o.Set("excess", 42)
	b, _ = o.MarshalJSON()

	var back state.Once[int64]
	if err := back.UnmarshalJSON(b); err != nil {
		t.Fatal(err)
	}
	if v, ok := back.Get(); !ok || v != 42 {
		t.Errorf("got %d/%v, want 42/true", v, ok)
	}
}

// ============================================================================
// Buy application
// ============================================================================

func TestApplyBuy(t *testing.T) {
	m := newMarket()
	pos := &state.Position{MarketID: m.ID, Owner: alice}
	sched := fees.DefaultSchedule()

	charge, err := sched.CapDeposit(5*sol, m.RemainingCapacity(), fees.CapClamp)
	if err != nil {
		t.Fatal(err)
	}
	q, err := amm.QuoteBuy(m.YesPool, m.NoPool, charge.Net, amm.SideYes, amm.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	if err := state.ApplyBuy(m, pos, q, charge); err != nil {
		t.Fatal(err)
	}

	if m.PoolBalance != charge.Net {
		t.Errorf("pool: got %d, want %d", m.PoolBalance, charge.Net)
	}
	if m.TotalYesShares != q.Shares || pos.YesShares != q.Shares {
		t.Errorf("shares: market=%d position=%d, want %d", m.TotalYesShares, pos.YesShares, q.Shares)
	}
	if pos.TotalInvested != 5*sol {
		t.Errorf("invested: got %d, want %d", pos.TotalInvested, 5*sol)
	}
}

func TestRegistry_ReturnsClones(t *testing.T) {
	r := state.NewRegistry(nil)
	m := newMarket()
	r.PutMarket(m)

	loaded, err := r.Market(m.ID)
	if err != nil {
		t.Fatal(err)
	}
	loaded.PoolBalance = 999

	again, _ := r.Market(m.ID)
	if again.PoolBalance != 0 {
		t.Error("mutation of loaded market leaked into registry")
	}

	if _, err := r.Market(uuid.New()); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestMarketParams_Validate(t *testing.T) {
	p := state.DefaultMarketParams
	if err := state.ValidateMarketParams(&p); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if !p.IsAllowedTarget(10 * sol) {
		t.Error("10 SOL should be allowed")
	}
	if p.IsAllowedTarget(sol / 10) {
		t.Error("0.1 SOL should be rejected")
	}

	p.AllowedTargetPools = []int64{5 * sol, 10 * sol}
	if p.IsAllowedTarget(7 * sol) {
		t.Error("7 SOL not in allowed list")
	}
}
