package ledger_test

import (
	"testing"

	"PLPLedger/internal/ledger"

	"github.com/google/uuid"
)

var (
	userID   = uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	marketID = uuid.MustParse("7d9f3c1e-0000-4000-8000-000000000001")
)

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	path := ledger.WalletAccount(userID).AccountPath()
	expected := "user:550e8400-e29b-41d4-a716-446655440000:wallet:SOL"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_UserTokenPath(t *testing.T) {
	path := ledger.UserTokenAccount(userID, marketID).AccountPath()
	expected := "user:550e8400-e29b-41d4-a716-446655440000:tokens:7d9f3c1e-0000-4000-8000-000000000001:TOKEN"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_MarketPath(t *testing.T) {
	path := ledger.VaultAccount(marketID).AccountPath()
	if path != "market:7d9f3c1e-0000-4000-8000-000000000001:vault:SOL" {
		t.Errorf("got %q", path)
	}
}

func TestAccountKey_SystemPath(t *testing.T) {
	path := ledger.TreasuryAccount().AccountPath()
	if path != "system:treasury:SOL" {
		t.Errorf("got %q, want %q", path, "system:treasury:SOL")
	}
}

func TestAccountKey_TokenAccountsDifferPerMarket(t *testing.T) {
	other := uuid.MustParse("7d9f3c1e-0000-4000-8000-000000000002")
	if ledger.UserTokenAccount(userID, marketID) == ledger.UserTokenAccount(userID, other) {
		t.Error("token accounts for different markets must not collide")
	}
}

func TestGetAssetID(t *testing.T) {
	id, ok := ledger.GetAssetID("SOL")
	if !ok || id != ledger.AssetSOL {
		t.Fatalf("SOL: got %d/%v", id, ok)
	}
	if _, ok := ledger.GetAssetID("USDT"); ok {
		t.Error("USDT should not be a known asset")
	}
}

// ============================================================================
// Test: JournalGenerator + BalanceTracker
// ============================================================================

func TestTrade_MovesNetAndFee(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(bt)

	b := jg.NewBatch(ledger.Ref{EventRef: "buy-1", Sequence: 1, Timestamp: 100})
	jg.AddTrade(b, userID, marketID, 4_925_000_000, 75_000_000)

	if len(b.Journals) != 2 {
		t.Fatalf("journals: got %d, want 2", len(b.Journals))
	}
	if err := bt.ApplyBatch(b); err != nil {
		t.Fatal(err)
	}

	if got := bt.VaultBalance(marketID); got != 4_925_000_000 {
		t.Errorf("vault: got %d, want 4925000000", got)
	}
	if got := bt.TreasuryBalance(); got != 75_000_000 {
		t.Errorf("treasury: got %d, want 75000000", got)
	}
	if got := bt.WalletBalance(userID); got != -5_000_000_000 {
		t.Errorf("wallet: got %d, want -5000000000", got)
	}

	v := ledger.NewInvariantValidator(bt)
	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("global balance: %v", err)
	}
	if err := v.ValidateVaultMirror(marketID, 4_925_000_000); err != nil {
		t.Errorf("vault mirror: %v", err)
	}
}

func TestNewBatch_DeterministicIDs(t *testing.T) {
	jg := ledger.NewJournalGenerator(ledger.NewBalanceTracker())
	ref := ledger.Ref{EventRef: "buy-1", Sequence: 7, Timestamp: 100}

	a := jg.NewBatch(ref)
	jg.AddTrade(a, userID, marketID, 10, 1)
	b := jg.NewBatch(ref)
	jg.AddTrade(b, userID, marketID, 10, 1)

	if a.BatchID != b.BatchID {
		t.Error("batch ids differ for same ref")
	}
	for i := range a.Journals {
		if a.Journals[i].JournalID != b.Journals[i].JournalID {
			t.Errorf("journal %d ids differ", i)
		}
	}
	if a.Journals[0].JournalID == a.Journals[1].JournalID {
		t.Error("journals within a batch share an id")
	}
}

func TestAddTrade_ZeroFeeSkipped(t *testing.T) {
	jg := ledger.NewJournalGenerator(ledger.NewBalanceTracker())
	b := jg.NewBatch(ledger.Ref{EventRef: "buy-2"})
	jg.AddTrade(b, userID, marketID, 10, 0)
	if len(b.Journals) != 1 {
		t.Errorf("journals: got %d, want 1", len(b.Journals))
	}
}

func TestCurrencyPayout_InsufficientVault(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(bt)
	b := jg.NewBatch(ledger.Ref{EventRef: "claim-1"})

	if err := jg.AddCurrencyPayout(b, marketID, userID, 1, ledger.JournalTypePayout); err == nil {
		t.Fatal("expected pre-check failure on empty vault")
	}
}

func TestLaunch_TokensEnterVault(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	jg := ledger.NewJournalGenerator(bt)

	seed := jg.NewBatch(ledger.Ref{EventRef: "buy-1"})
	jg.AddTrade(seed, userID, marketID, 1_000, 0)
	_ = bt.ApplyBatch(seed)

	b := jg.NewBatch(ledger.Ref{EventRef: "resolve-1"})
	if err := jg.AddCompletionFee(b, marketID, 50); err != nil {
		t.Fatal(err)
	}
	if err := jg.AddLaunch(b, marketID, 950, 1_000_000, 950); err != nil {
		t.Fatal(err)
	}
	if err := bt.ApplyBatch(b); err != nil {
		t.Fatal(err)
	}

	if got := bt.VaultBalance(marketID); got != 0 {
		t.Errorf("vault: got %d, want 0", got)
	}
	if got := bt.TokenVaultBalance(marketID); got != 1_000_000 {
		t.Errorf("token vault: got %d, want 1000000", got)
	}
	if err := ledger.NewInvariantValidator(bt).ValidateGlobalBalance(); err != nil {
		t.Error(err)
	}
}

// ============================================================================
// Test: Batch.Validate
// ============================================================================

func TestBatchValidate_RejectsMixedAssets(t *testing.T) {
	batchID := uuid.New()
	b := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  ledger.TokenVaultAccount(marketID),
			CreditAccount: ledger.WalletAccount(userID),
			AssetID:       ledger.AssetToken,
			Amount:        1,
		}},
	}
	if err := b.Validate(); err == nil {
		t.Fatal("expected mixed-asset journal to fail")
	}
}

func TestBatchValidate_RejectsNonPositive(t *testing.T) {
	batchID := uuid.New()
	b := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  ledger.VaultAccount(marketID),
			CreditAccount: ledger.WalletAccount(userID),
			AssetID:       ledger.AssetSOL,
			Amount:        -5,
		}},
	}
	if err := b.Validate(); err == nil {
		t.Fatal("expected negative amount to fail")
	}
}

func TestBatchValidate_RejectsEmpty(t *testing.T) {
	b := &ledger.Batch{BatchID: uuid.New()}
	if err := b.Validate(); err == nil {
		t.Fatal("expected empty batch to fail")
	}
	if !b.IsEmpty() {
		t.Error("IsEmpty should be true")
	}
}
