package projection_test

import (
	"testing"

	"PLPLedger/internal/ledger"
	"PLPLedger/internal/projection"

	"github.com/google/uuid"
)

func journal(jt ledger.JournalType, debit, credit ledger.AccountKey, amount, seq int64) ledger.Journal {
	return ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		Sequence:      seq,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       debit.AssetID,
		Amount:        amount,
		JournalType:   jt,
	}
}

func TestBalanceDeltas_NetsPerAccount(t *testing.T) {
	market, alice := uuid.New(), uuid.New()
	vault := ledger.VaultAccount(market)
	wallet := ledger.WalletAccount(alice)
	treasury := ledger.TreasuryAccount()

	deltas := projection.BalanceDeltas([]ledger.Journal{
		journal(ledger.JournalTypeTradeDeposit, vault, wallet, 990, 1),
		journal(ledger.JournalTypeTradeFee, treasury, wallet, 10, 1),
		journal(ledger.JournalTypeRefund, wallet, vault, 990, 2),
	})

	if got := deltas[vault]; got != 0 {
		t.Errorf("vault delta = %d, want 0", got)
	}
	if got := deltas[wallet]; got != -10 {
		t.Errorf("wallet delta = %d, want -10", got)
	}
	if got := deltas[treasury]; got != 10 {
		t.Errorf("treasury delta = %d, want 10", got)
	}

	var sum int64
	for _, d := range deltas {
		sum += d
	}
	if sum != 0 {
		t.Errorf("deltas sum to %d, want 0", sum)
	}
}

func TestPayoutHistory_ObserveFilters(t *testing.T) {
	market, alice := uuid.New(), uuid.New()
	p := projection.NewPayoutHistoryProjection(10)

	// Trades and fees are not payouts
	p.Observe(journal(ledger.JournalTypeTradeDeposit, ledger.VaultAccount(market), ledger.WalletAccount(alice), 100, 1))
	p.Observe(journal(ledger.JournalTypePayout, ledger.WalletAccount(alice), ledger.VaultAccount(market), 150, 2))
	p.Observe(journal(ledger.JournalTypeTokenClaim, ledger.UserTokenAccount(alice, market), ledger.TokenVaultAccount(market), 7, 3))

	got := p.QueryByOwner(alice, 10)
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].JournalType != "token_claim" || got[0].Asset != "TOKEN" {
		t.Errorf("newest = %+v, want token_claim in TOKEN", got[0])
	}
	if got[1].Amount != 150 || got[1].MarketID != market {
		t.Errorf("oldest = %+v, want 150 from %s", got[1], market)
	}

	if n := len(p.QueryByOwner(uuid.New(), 10)); n != 0 {
		t.Errorf("stranger has %d entries, want 0", n)
	}
}

func TestPayoutHistory_Capacity(t *testing.T) {
	market, alice := uuid.New(), uuid.New()
	p := projection.NewPayoutHistoryProjection(3)
	for i := int64(1); i <= 5; i++ {
		p.Observe(journal(ledger.JournalTypeRefund, ledger.WalletAccount(alice), ledger.VaultAccount(market), i, i))
	}

	got := p.QueryByOwner(alice, 10)
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	if got[0].Sequence != 5 || got[2].Sequence != 3 {
		t.Errorf("kept sequences %d..%d, want 5..3", got[0].Sequence, got[2].Sequence)
	}

	if n := len(p.QueryByOwner(alice, 1)); n != 1 {
		t.Errorf("limit 1 returned %d", n)
	}
}
