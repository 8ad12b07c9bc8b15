package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// SetBalance directly sets a balance (used for snapshot restore)
func (bt *BalanceTracker) SetBalance(key AccountKey, balance int64) {
	bt.balances[key] = balance
}

// === Domain Queries ===

// VaultBalance returns the lamports escrowed by a market
func (bt *BalanceTracker) VaultBalance(marketID uuid.UUID) int64 {
	return bt.GetBalance(VaultAccount(marketID))
}

// TokenVaultBalance returns the launched tokens a market still holds
func (bt *BalanceTracker) TokenVaultBalance(marketID uuid.UUID) int64 {
	return bt.GetBalance(TokenVaultAccount(marketID))
}

// TreasuryBalance returns the lamports collected as fees
func (bt *BalanceTracker) TreasuryBalance() int64 {
	return bt.GetBalance(TreasuryAccount())
}

// WalletBalance returns a participant's net flow: negative while more has
// been paid in than paid out
func (bt *BalanceTracker) WalletBalance(userID uuid.UUID) int64 {
	return bt.GetBalance(WalletAccount(userID))
}

// UserTokenBalance returns tokens a participant received from one market
func (bt *BalanceTracker) UserTokenBalance(userID, marketID uuid.UUID) int64 {
	return bt.GetBalance(UserTokenAccount(userID, marketID))
}

// === Invariant Checks ===

// ValidateSufficient checks that an account holds at least required
func (bt *BalanceTracker) ValidateSufficient(key AccountKey, required int64) error {
	balance := bt.GetBalance(key)
	if balance < required {
		return fmt.Errorf("insufficient balance in %s: have=%d, need=%d", key.AccountPath(), balance, required)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
