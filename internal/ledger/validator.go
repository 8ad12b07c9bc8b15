package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateVaultMirror verifies a market's pool_balance equals what its vault
// actually holds. pool_balance must never exceed real custody.
func (v *InvariantValidator) ValidateVaultMirror(marketID uuid.UUID, poolBalance int64) error {
	held := v.tracker.VaultBalance(marketID)
	if held != poolBalance {
		return fmt.Errorf("market %s pool_balance %d != vault %d", marketID, poolBalance, held)
	}
	if held < 0 {
		return fmt.Errorf("market %s vault is negative: %d", marketID, held)
	}
	return nil
}

// ValidateTokenVault verifies a market never pays out more tokens than it holds
func (v *InvariantValidator) ValidateTokenVault(marketID uuid.UUID) error {
	return v.tracker.ValidateNonNegative(TokenVaultAccount(marketID))
}

// ValidateTreasuryMirror verifies the treasury's running total matches its account
func (v *InvariantValidator) ValidateTreasuryMirror(totalFees int64) error {
	held := v.tracker.TreasuryBalance()
	if held != totalFees {
		return fmt.Errorf("treasury total_fees %d != account %d", totalFees, held)
	}
	return nil
}

// ValidateGlobalBalance verifies system is zero-sum
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}
