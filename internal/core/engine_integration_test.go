package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"PLPLedger/internal/amm"
	"PLPLedger/internal/core"
	"PLPLedger/internal/errs"
	"PLPLedger/internal/event"
	"PLPLedger/internal/launch"
	"PLPLedger/internal/ledger"
	"PLPLedger/internal/observability"
	"PLPLedger/internal/state"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

const sol int64 = 1_000_000_000

var t0 = time.Unix(1_700_000_000, 0).UTC()

// --- Test helpers ---

type harness struct {
	t       *testing.T
	eng     *core.Engine
	persist chan core.CoreOutput
	launch  *launch.Simulated
	admin   uuid.UUID
	seq     int64
	now     time.Time
}

// newHarness creates an Engine with buffered channels, no DB checker, and a
// simulated launch service.
func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		persist: make(chan core.CoreOutput, 1024),
		launch:  launch.NewSimulated(),
		admin:   uuid.New(),
		now:     t0,
	}
	eng, err := core.NewEngine(core.Config{
		Params:              state.DefaultMarketParams,
		TreasuryAdmin:       h.admin,
		Launch:              h.launch,
		GlobalCheckInterval: 1,
	}, h.persist, nil)
	require.NoError(t, err)
	h.eng = eng
	return h
}

func (h *harness) meta(caller uuid.UUID) event.Meta {
	m := event.Meta{Key: uuid.NewString(), Caller: caller, Sequence: h.seq, Timestamp: h.now}
	h.seq++
	return m
}

func (h *harness) do(evt event.Event) (*core.Result, error) {
	return h.eng.ProcessEvent(context.Background(), evt)
}

func (h *harness) mustDo(evt event.Event) *core.Result {
	h.t.Helper()
	res, err := h.do(evt)
	if err != nil {
		h.t.Fatalf("%s: %v", evt.EventType(), err)
	}
	return res
}

func (h *harness) createMarket(creator uuid.UUID, target int64) uuid.UUID {
	h.t.Helper()
	res := h.mustDo(&event.CreateMarket{
		Meta:        h.meta(creator),
		Name:        "Test Project",
		Symbol:      "TEST",
		MetadataURI: "ipfs://bafytest",
		MetadataCID: "bafytest" + uuid.NewString()[:8],
		TargetPool:  target,
		ExpiryTime:  h.now.Add(24 * time.Hour).Unix(),
	})
	return res.Market.ID
}

func (h *harness) buy(caller, market uuid.UUID, side amm.Side, amount int64) (*core.Result, error) {
	return h.do(&event.Buy{Meta: h.meta(caller), Market: market, Side: side, Amount: amount})
}

func (h *harness) assertZeroSum() {
	h.t.Helper()
	for asset, total := range h.eng.GlobalBalance() {
		if total != 0 {
			name, _ := ledger.GetAssetName(asset)
			h.t.Errorf("global %s balance: got %d, want 0", name, total)
		}
	}
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

// --- Tests ---

func TestBuy_PricesNetDeposit(t *testing.T) {
	h := newHarness(t)
	creator, alice := uuid.New(), uuid.New()
	id := h.createMarket(creator, 10*sol)

	res, err := h.buy(alice, id, amm.SideYes, 5*sol)
	require.NoError(t, err)

	if res.Charge.Fee != 75_000_000 || res.Charge.Net != 4_925_000_000 {
		t.Fatalf("charge: got fee=%d net=%d, want 75000000/4925000000", res.Charge.Fee, res.Charge.Net)
	}
	if res.Shares <= 0 {
		t.Fatalf("shares: got %d, want > 0", res.Shares)
	}
	m := res.Market
	if m.NoPool != 10*sol+4_925_000_000 {
		t.Errorf("no_pool: got %d, want %d", m.NoPool, 10*sol+4_925_000_000)
	}
	if m.YesPool >= 10*sol {
		t.Errorf("yes_pool should shrink, got %d", m.YesPool)
	}
	if m.YesPool != 10*sol-res.Shares {
		t.Errorf("shares should equal reserve delta: yes_pool=%d shares=%d", m.YesPool, res.Shares)
	}
	price, err := amm.Price(m.YesPool, m.NoPool, amm.SideYes)
	require.NoError(t, err)
	if price <= amm.PriceScale/2 {
		t.Errorf("price(YES): got %d, want > 0.5", price)
	}

	if got := h.eng.Balance(ledger.VaultAccount(id)); got != m.PoolBalance {
		t.Errorf("vault: got %d, want pool_balance %d", got, m.PoolBalance)
	}
	if got := h.eng.Treasury().TotalFees; got != state.DefaultMarketParams.CreationFee+75_000_000 {
		t.Errorf("treasury: got %d", got)
	}
	h.assertZeroSum()
}

func TestBuy_OnePositionRule(t *testing.T) {
	h := newHarness(t)
	creator, alice := uuid.New(), uuid.New()
	id := h.createMarket(creator, 10*sol)

	_, err := h.buy(alice, id, amm.SideYes, sol)
	require.NoError(t, err)

	_, err = h.buy(alice, id, amm.SideNo, sol)
	if !errors.Is(err, errs.ErrConflictingPosition) {
		t.Fatalf("expected ConflictingPosition, got %v", err)
	}

	pos, _ := h.eng.Position(id, alice)
	if pos.NoShares != 0 {
		t.Errorf("rejected trade leaked into position: %+v", pos)
	}
}

func TestBuy_BelowMinimum(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(uuid.New(), 10*sol)

	_, err := h.buy(uuid.New(), id, amm.SideYes, state.DefaultMarketParams.MinInvestment-1)
	if !errors.Is(err, errs.ErrBelowMinimum) {
		t.Fatalf("expected BelowMinimum, got %v", err)
	}
}

func TestBuy_CappedAtTarget(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(uuid.New(), sol)

	res, err := h.buy(uuid.New(), id, amm.SideNo, 2*sol)
	require.NoError(t, err)
	if !res.Charge.Capped || res.Charge.Net != sol {
		t.Fatalf("charge: got %+v, want capped net %d", res.Charge, sol)
	}
	if res.Charge.Gross >= 2*sol {
		t.Errorf("gross should be reduced, got %d", res.Charge.Gross)
	}

	// Pool is full: the next Prediction-phase deposit has nowhere to go.
	_, err = h.buy(uuid.New(), id, amm.SideNo, sol)
	if !errors.Is(err, errs.ErrCapacityExceeded) {
		t.Errorf("expected CapacityExceeded, got %v", err)
	}
}

func TestResolve_PermissionlessNoWins(t *testing.T) {
	h := newHarness(t)
	creator, alice, stranger := uuid.New(), uuid.New(), uuid.New()
	id := h.createMarket(creator, sol)

	_, err := h.buy(alice, id, amm.SideNo, 2*sol)
	require.NoError(t, err)

	res := h.mustDo(&event.ResolveMarket{Meta: h.meta(stranger), Market: id})
	if res.Resolution != state.ResolutionNoWins {
		t.Fatalf("resolution: got %s, want NoWins", res.Resolution)
	}
	m := res.Market
	if m.DistributionPool != 950_000_000 {
		t.Errorf("distribution_pool: got %d, want 950000000", m.DistributionPool)
	}
	if m.PoolBalance != 950_000_000 {
		t.Errorf("pool_balance: got %d, want 950000000", m.PoolBalance)
	}

	claim := h.mustDo(&event.Claim{Meta: h.meta(alice), Market: id})
	if claim.Payout != 950_000_000 {
		t.Errorf("payout: got %d, want 950000000", claim.Payout)
	}
	if !claim.Position.Claimed {
		t.Error("position should be marked claimed")
	}

	_, err = h.do(&event.Claim{Meta: h.meta(alice), Market: id})
	if !errors.Is(err, errs.ErrAlreadyClaimed) {
		t.Errorf("expected AlreadyClaimed, got %v", err)
	}
	h.assertZeroSum()
}

func TestResolve_TooEarly(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(uuid.New(), 10*sol)
	_, err := h.buy(uuid.New(), id, amm.SideNo, sol)
	require.NoError(t, err)

	_, err = h.do(&event.ResolveMarket{Meta: h.meta(uuid.New()), Market: id})
	if !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("expected InvalidState, got %v", err)
	}
	m, _ := h.eng.Market(id)
	if m.Resolution != state.ResolutionUnresolved {
		t.Errorf("market should stay unresolved, got %s", m.Resolution)
	}
}

func TestClaim_NoWinsSplitNeverExceedsPool(t *testing.T) {
	h := newHarness(t)
	creator, a, b, yes := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	id := h.createMarket(creator, sol)

	for _, buy := range []struct {
		who    uuid.UUID
		side   amm.Side
		amount int64
	}{
		{yes, amm.SideYes, 100_000_000},
		{a, amm.SideNo, 300_000_000},
		{b, amm.SideNo, 2 * sol},
	} {
		_, err := h.buy(buy.who, id, buy.side, buy.amount)
		require.NoError(t, err)
	}

	res := h.mustDo(&event.ResolveMarket{Meta: h.meta(uuid.New()), Market: id})
	require.Equal(t, state.ResolutionNoWins, res.Resolution)
	dist := res.Market.DistributionPool

	var paid int64
	for _, who := range []uuid.UUID{b, a} {
		paid += h.mustDo(&event.Claim{Meta: h.meta(who), Market: id}).Payout
	}
	if paid > dist {
		t.Errorf("paid %d exceeds distribution pool %d", paid, dist)
	}

	_, err := h.do(&event.Claim{Meta: h.meta(yes), Market: id})
	if !errors.Is(err, errs.ErrNothingToClaim) {
		t.Errorf("losing side: expected NothingToClaim, got %v", err)
	}
	h.assertZeroSum()
}

func TestResolve_RefundAfterExpiry(t *testing.T) {
	h := newHarness(t)
	alice := uuid.New()
	id := h.createMarket(uuid.New(), 10*sol)

	_, err := h.buy(alice, id, amm.SideYes, 100_000_000)
	require.NoError(t, err)

	h.now = h.now.Add(25 * time.Hour)
	res := h.mustDo(&event.ResolveMarket{Meta: h.meta(uuid.New()), Market: id})
	if res.Resolution != state.ResolutionRefund {
		t.Fatalf("resolution: got %s, want Refund", res.Resolution)
	}

	claim := h.mustDo(&event.Claim{Meta: h.meta(alice), Market: id})
	if claim.Payout != 98_500_000 {
		t.Errorf("refund: got %d, want 98500000", claim.Payout)
	}

	// Trading after expiry is closed.
	_, err = h.buy(uuid.New(), id, amm.SideYes, sol)
	if !errors.Is(err, errs.ErrInvalidState) {
		t.Errorf("expected InvalidState, got %v", err)
	}
	h.assertZeroSum()
}

func TestExtend_OnlyCreator(t *testing.T) {
	h := newHarness(t)
	creator := uuid.New()
	id := h.createMarket(creator, sol)
	_, err := h.buy(uuid.New(), id, amm.SideYes, 2*sol)
	require.NoError(t, err)

	_, err = h.do(&event.ExtendMarket{Meta: h.meta(uuid.New()), Market: id})
	if !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}

	res := h.mustDo(&event.ExtendMarket{Meta: h.meta(creator), Market: id})
	if res.Market.Phase != state.PhaseFunding {
		t.Errorf("phase: got %s, want Funding", res.Market.Phase)
	}

	// Funding accepts deposits past the target.
	if _, err := h.buy(uuid.New(), id, amm.SideYes, sol); err != nil {
		t.Errorf("funding buy: %v", err)
	}
}

// yesWinsMarket drives a market to YesWins with a 90% launch fill.
func yesWinsMarket(t *testing.T, h *harness) (market, creator, voter uuid.UUID) {
	t.Helper()
	creator, voter = uuid.New(), uuid.New()
	market = h.createMarket(creator, sol)

	_, err := h.buy(voter, market, amm.SideYes, 2*sol)
	require.NoError(t, err)
	h.mustDo(&event.ExtendMarket{Meta: h.meta(creator), Market: market})

	h.launch.FillBps = 9_000
	res := h.mustDo(&event.ResolveMarket{Meta: h.meta(creator), Market: market})
	require.Equal(t, state.ResolutionYesWins, res.Resolution)
	return market, creator, voter
}

func TestResolve_YesWinsLaunch(t *testing.T) {
	h := newHarness(t)
	id, _, voter := yesWinsMarket(t, h)

	m, err := h.eng.Market(id)
	require.NoError(t, err)

	token := m.Token.Value()
	if token.TokensReceived != 855_000_000_000 {
		t.Errorf("tokens: got %d, want 855000000000", token.TokensReceived)
	}
	alloc := m.Allocation.Value()
	if alloc.Platform != 17_100_000_000 || alloc.Team != 282_150_000_000 || alloc.Voters != 555_750_000_000 {
		t.Errorf("allocation: got %+v", alloc)
	}
	if alloc.Platform+alloc.Team+alloc.Voters != token.TokensReceived {
		t.Error("allocation must sum to tokens received")
	}
	// 950M after fee, 855M spent; the rest stays for the founder.
	excess, ok := m.FounderExcess.Get()
	if !ok || excess != 95_000_000 || m.PoolBalance != excess {
		t.Errorf("founder excess: got %d (set=%v), pool %d", excess, ok, m.PoolBalance)
	}

	claim := h.mustDo(&event.Claim{Meta: h.meta(voter), Market: id})
	if claim.Payout != alloc.Voters {
		t.Errorf("voter tokens: got %d, want %d", claim.Payout, alloc.Voters)
	}
	if got := h.eng.Balance(ledger.UserTokenAccount(voter, id)); got != alloc.Voters {
		t.Errorf("token account: got %d", got)
	}
	h.assertZeroSum()
}

func TestClaimPlatformTokens(t *testing.T) {
	h := newHarness(t)
	id, creator, _ := yesWinsMarket(t, h)

	_, err := h.do(&event.ClaimPlatformTokens{Meta: h.meta(creator), Market: id})
	if !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}

	res := h.mustDo(&event.ClaimPlatformTokens{Meta: h.meta(h.admin), Market: id})
	if res.Payout != 17_100_000_000 {
		t.Errorf("platform tokens: got %d", res.Payout)
	}

	_, err = h.do(&event.ClaimPlatformTokens{Meta: h.meta(h.admin), Market: id})
	if !errors.Is(err, errs.ErrAlreadyClaimed) {
		t.Errorf("expected AlreadyClaimed, got %v", err)
	}
}

func TestResolve_LaunchFailureLeavesUnresolved(t *testing.T) {
	h := newHarness(t)
	creator := uuid.New()
	id := h.createMarket(creator, sol)
	_, err := h.buy(uuid.New(), id, amm.SideYes, 2*sol)
	require.NoError(t, err)
	h.mustDo(&event.ExtendMarket{Meta: h.meta(creator), Market: id})

	h.launch.FailBuy = true
	resolve := &event.ResolveMarket{Meta: h.meta(creator), Market: id}
	_, err = h.do(resolve)
	if !errors.Is(err, errs.ErrExternalServiceFailure) {
		t.Fatalf("expected ExternalServiceFailure, got %v", err)
	}

	m, _ := h.eng.Market(id)
	if m.Resolution != state.ResolutionUnresolved || m.Token.IsSet() {
		t.Fatalf("failed launch must leave the market untouched: %s token=%v", m.Resolution, m.Token.IsSet())
	}
	if m.PoolBalance != sol {
		t.Errorf("pool_balance: got %d, want %d", m.PoolBalance, sol)
	}

	// A retry with the same key is evaluated again.
	h.launch.FailBuy = false
	retry := &event.ResolveMarket{Meta: resolve.Meta, Market: id}
	retry.Sequence = h.seq
	h.seq++
	res := h.mustDo(retry)
	if res.Duplicate || res.Resolution != state.ResolutionYesWins {
		t.Errorf("retry: got %+v", res)
	}
}

func TestVesting_TeamAndFounder(t *testing.T) {
	h := newHarness(t)
	id, creator, voter := yesWinsMarket(t, h)
	start := h.now

	_, err := h.do(&event.InitTeamVesting{Meta: h.meta(voter), Market: id, TotalSupply: 855_000_000_000})
	if !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}

	team := h.mustDo(&event.InitTeamVesting{Meta: h.meta(creator), Market: id, TotalSupply: 855_000_000_000}).Schedule
	if team.TotalAmount != 282_150_000_000 || team.ImmediateAmount != 68_400_000_000 {
		t.Fatalf("team schedule: %+v", team)
	}

	first := h.mustDo(&event.ClaimVesting{Meta: h.meta(creator), Schedule: team.ID})
	if first.Payout != team.ImmediateAmount {
		t.Errorf("immediate: got %d, want %d", first.Payout, team.ImmediateAmount)
	}
	_, err = h.do(&event.ClaimVesting{Meta: h.meta(creator), Schedule: team.ID})
	if !errors.Is(err, errs.ErrNothingToClaim) {
		t.Errorf("same instant: expected NothingToClaim, got %v", err)
	}

	h.now = start.Add(time.Duration(state.DefaultMarketParams.VestingDuration/2) * time.Second)
	half := h.mustDo(&event.ClaimVesting{Meta: h.meta(creator), Schedule: team.ID})
	if half.Payout != team.VestingAmount/2 {
		t.Errorf("halfway: got %d, want %d", half.Payout, team.VestingAmount/2)
	}

	founder := h.mustDo(&event.InitFounderVesting{Meta: h.meta(creator), Market: id}).Schedule
	if founder.TotalAmount != 95_000_000 || founder.ImmediateAmount != 7_600_000 {
		t.Fatalf("founder schedule: %+v", founder)
	}
	_, err = h.do(&event.ClaimVesting{Meta: h.meta(voter), Schedule: founder.ID})
	if !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("expected Unauthorized, got %v", err)
	}
	paid := h.mustDo(&event.ClaimVesting{Meta: h.meta(creator), Schedule: founder.ID})
	if paid.Payout != 7_600_000 {
		t.Errorf("founder immediate: got %d", paid.Payout)
	}
	if paid.Market.PoolBalance != 95_000_000-7_600_000 {
		t.Errorf("pool after founder claim: got %d", paid.Market.PoolBalance)
	}

	h.now = start.Add(time.Duration(2*state.DefaultMarketParams.VestingDuration) * time.Second)
	rest := h.mustDo(&event.ClaimVesting{Meta: h.meta(creator), Schedule: founder.ID})
	if rest.Schedule.ClaimedAmount != founder.TotalAmount || rest.Market.PoolBalance != 0 {
		t.Errorf("fully vested: claimed=%d pool=%d", rest.Schedule.ClaimedAmount, rest.Market.PoolBalance)
	}
	h.assertZeroSum()
}

func TestIdempotency_DuplicateSkipped(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(uuid.New(), 10*sol)
	alice := uuid.New()

	buy := &event.Buy{Meta: h.meta(alice), Market: id, Side: amm.SideYes, Amount: sol}
	h.mustDo(buy)
	before := h.eng.GetSequence()

	dup := &event.Buy{Meta: buy.Meta, Market: id, Side: amm.SideYes, Amount: sol}
	dup.Sequence = h.seq
	h.seq++
	res := h.mustDo(dup)
	if !res.Duplicate {
		t.Fatal("expected duplicate")
	}
	if h.eng.GetSequence() != before {
		t.Errorf("duplicate consumed a global sequence: %d -> %d", before, h.eng.GetSequence())
	}
	pos, _ := h.eng.Position(id, alice)
	if pos.TotalInvested != sol {
		t.Errorf("duplicate applied twice: invested %d", pos.TotalInvested)
	}

	// The duplicate still advanced the source sequence.
	if _, err := h.buy(alice, id, amm.SideYes, sol); err != nil {
		t.Errorf("next command after duplicate: %v", err)
	}
}

func TestSequence_GapRejected(t *testing.T) {
	h := newHarness(t)
	h.seq = 5
	_, err := h.do(&event.CreateMarket{Meta: h.meta(uuid.New()), Name: "x", Symbol: "X", MetadataCID: "cid", TargetPool: sol, ExpiryTime: t0.Unix() + 60})
	if err == nil {
		t.Fatal("expected sequence gap error")
	}
	if h.eng.GetSequence() != 0 {
		t.Errorf("gap must not be logged, sequence %d", h.eng.GetSequence())
	}
}

func TestRejection_LoggedAndCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	persist := make(chan core.CoreOutput, 16)
	eng, err := core.NewEngine(core.Config{Params: state.DefaultMarketParams, Metrics: metrics}, persist, nil)
	require.NoError(t, err)

	_, err = eng.ProcessEvent(context.Background(), &event.Claim{
		Meta:   event.Meta{Key: "k1", Caller: uuid.New(), Sequence: 0, Timestamp: t0},
		Market: uuid.New(),
	})
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}

	outs := drainOutputs(persist)
	require.Len(t, outs, 1)
	if outs[0].Envelope.EventType != event.EventTypeCommandRejected || outs[0].Rejection == nil {
		t.Errorf("expected a CommandRejected envelope, got %+v", outs[0].Envelope)
	}
	if outs[0].Envelope.PrevHash != core.GenesisHash() {
		t.Error("first envelope must chain from genesis")
	}
	if got := promtest.ToFloat64(metrics.CommandsRejected.WithLabelValues("Claim", "NotFound")); got != 1 {
		t.Errorf("rejections counter: got %v, want 1", got)
	}
}

func TestReplay_ReproducesStateHash(t *testing.T) {
	h := newHarness(t)
	id, creator, voter := yesWinsMarket(t, h)
	h.mustDo(&event.Claim{Meta: h.meta(voter), Market: id})
	_, _ = h.buy(uuid.New(), id, amm.SideNo, sol) // rejected: resolved
	h.mustDo(&event.InitFounderVesting{Meta: h.meta(creator), Market: id})

	var envs []*event.EventEnvelope
	for _, out := range drainOutputs(h.persist) {
		envs = append(envs, out.Envelope)
	}
	require.Equal(t, int(h.eng.GetSequence()), len(envs))

	// No launch service: the recorded receipt must be enough.
	replayed, err := core.NewEngine(core.Config{
		Params:        state.DefaultMarketParams,
		TreasuryAdmin: h.admin,
	}, nil, nil)
	require.NoError(t, err)

	n, err := replayed.Replay(context.Background(), envs)
	require.NoError(t, err)
	require.Equal(t, len(envs), n)

	if replayed.GetStateHash() != h.eng.GetStateHash() {
		t.Errorf("state hash: replay %x, live %x", replayed.GetStateHash(), h.eng.GetStateHash())
	}
	if replayed.ExpectedSequence(core.IngestPartition) != h.seq {
		t.Errorf("source sequence: got %d, want %d", replayed.ExpectedSequence(core.IngestPartition), h.seq)
	}
	live, _ := h.eng.Market(id)
	again, _ := replayed.Market(id)
	if string(live.CanonicalBytes()) != string(again.CanonicalBytes()) {
		t.Error("replayed market differs from live market")
	}
	if h.launch.Calls() != 2 {
		t.Errorf("launch calls: got %d, want 2 (create + buy, never on replay)", h.launch.Calls())
	}
}

func TestReplay_DetectsTampering(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(uuid.New(), 10*sol)
	_, err := h.buy(uuid.New(), id, amm.SideYes, sol)
	require.NoError(t, err)

	var envs []*event.EventEnvelope
	for _, out := range drainOutputs(h.persist) {
		envs = append(envs, out.Envelope)
	}
	envs[1].StateHash[0] ^= 0xFF

	replayed, err := core.NewEngine(core.Config{Params: state.DefaultMarketParams}, nil, nil)
	require.NoError(t, err)
	n, err := replayed.Replay(context.Background(), envs)
	if err == nil {
		t.Fatal("expected hash mismatch")
	}
	if n != 1 {
		t.Errorf("applied before mismatch: got %d, want 1", n)
	}
}

func TestSnapshot_RestoreThenContinue(t *testing.T) {
	h := newHarness(t)
	id := h.createMarket(uuid.New(), 10*sol)
	alice := uuid.New()
	_, err := h.buy(alice, id, amm.SideYes, sol)
	require.NoError(t, err)

	snap := h.eng.CreateSnapshotState()

	restored, err := core.NewEngine(core.Config{Params: state.DefaultMarketParams, TreasuryAdmin: h.admin}, nil, nil)
	require.NoError(t, err)
	restored.RestoreFromSnapshot(snap)

	if restored.GetStateHash() != h.eng.GetStateHash() || restored.GetSequence() != h.eng.GetSequence() {
		t.Fatal("restored engine differs from source")
	}

	buy := &event.Buy{Meta: h.meta(alice), Market: id, Side: amm.SideYes, Amount: sol}
	live, err := h.eng.ProcessEvent(context.Background(), buy)
	require.NoError(t, err)
	again, err := restored.ProcessEvent(context.Background(), &event.Buy{Meta: buy.Meta, Market: id, Side: amm.SideYes, Amount: sol})
	require.NoError(t, err)
	if live.Shares != again.Shares || restored.GetStateHash() != h.eng.GetStateHash() {
		t.Error("engines diverged after restore")
	}
}

func TestRun_SerializesSubmissions(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan core.Submission)
	done := make(chan error, 1)
	go func() { done <- h.eng.Run(ctx, in) }()

	creator := uuid.New()
	res, err := core.Submit(ctx, in, &event.CreateMarket{
		Meta: h.meta(creator), Name: "Run", Symbol: "RUN", MetadataCID: "cid-run",
		TargetPool: sol, ExpiryTime: t0.Unix() + 3600,
	})
	require.NoError(t, err)

	_, err = core.Submit(ctx, in, &event.ExtendMarket{Meta: h.meta(uuid.New()), Market: res.Market.ID})
	if !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("expected Unauthorized through Run, got %v", err)
	}

	snap, err := core.RequestSnapshot(ctx, in)
	require.NoError(t, err)
	if snap.Sequence != 1 || len(snap.Markets) != 1 {
		t.Errorf("snapshot: seq=%d markets=%d", snap.Sequence, len(snap.Markets))
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run: got %v", err)
	}
}

func TestClaimPlatformTokens_MissingAllocation(t *testing.T) {
	h := newHarness(t)
	id, creator, _ := yesWinsMarket(t, h)

	snap := h.eng.CreateSnapshotState()
	for _, m := range snap.Markets {
		if m.ID == id {
			m.Allocation = state.Once[state.TokenAllocation]{}
		}
	}
	h.eng.RestoreFromSnapshot(snap)

	_, err := h.do(&event.ClaimPlatformTokens{Meta: h.meta(h.admin), Market: id})
	if !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("platform claim: expected InvalidState, got %v", err)
	}
	_, err = h.do(&event.InitTeamVesting{Meta: h.meta(creator), Market: id, TotalSupply: 855_000_000_000})
	if !errors.Is(err, errs.ErrInvalidState) {
		t.Fatalf("team vesting: expected InvalidState, got %v", err)
	}
}

func TestResolve_RejectedLaunchResultCallsAgainOnRetry(t *testing.T) {
	h := newHarness(t)
	creator := uuid.New()
	id := h.createMarket(creator, sol)
	_, err := h.buy(uuid.New(), id, amm.SideYes, 2*sol)
	require.NoError(t, err)
	h.mustDo(&event.ExtendMarket{Meta: h.meta(creator), Market: id})

	// The service answers both calls but fills nothing.
	h.launch.FillBps = 0
	resolve := &event.ResolveMarket{Meta: h.meta(creator), Market: id}
	_, err = h.do(resolve)
	if !errors.Is(err, errs.ErrExternalServiceFailure) {
		t.Fatalf("expected ExternalServiceFailure, got %v", err)
	}
	if h.launch.Calls() != 2 {
		t.Fatalf("launch calls: got %d, want 2", h.launch.Calls())
	}

	h.launch.FillBps = 10_000
	retry := &event.ResolveMarket{Meta: resolve.Meta, Market: id}
	retry.Sequence = h.seq
	h.seq++
	res := h.mustDo(retry)
	if res.Resolution != state.ResolutionYesWins {
		t.Fatalf("retry: got %s, want YesWins", res.Resolution)
	}
	if h.launch.Calls() != 4 {
		t.Errorf("launch calls after retry: got %d, want 4", h.launch.Calls())
	}
}
