package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeCreationFee JournalType = iota
	JournalTypeTradeDeposit
	JournalTypeTradeFee
	JournalTypeCompletionFee
	JournalTypeLaunchSpend  // Pool lamports paid to the launch service
	JournalTypeLaunchTokens // Tokens received from the launch service
	JournalTypePayout       // NoWins distribution
	JournalTypeRefund
	JournalTypeTokenClaim // YesWins voter tokens
	JournalTypeVestingClaim
	JournalTypePlatformTokenClaim
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeCreationFee:
		return "creation_fee"
	case JournalTypeTradeDeposit:
		return "trade_deposit"
	case JournalTypeTradeFee:
		return "trade_fee"
	case JournalTypeCompletionFee:
		return "completion_fee"
	case JournalTypeLaunchSpend:
		return "launch_spend"
	case JournalTypeLaunchTokens:
		return "launch_tokens"
	case JournalTypePayout:
		return "payout"
	case JournalTypeRefund:
		return "refund"
	case JournalTypeTokenClaim:
		return "token_claim"
	case JournalTypeVestingClaim:
		return "vesting_claim"
	case JournalTypePlatformTokenClaim:
		return "platform_token_claim"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups balanced entries
	EventRef      string      // Idempotency key of source command
	Sequence      int64       // Global event sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        int64       // Fixed-point amount (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Versioned input timestamp (epoch microseconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each journal moves one positive amount from credit to debit, so every
// entry balances on its own; a batch groups the legs of one command.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		// Both legs must carry the journal's asset
		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}

// IsEmpty reports whether the batch carries no journals (state-only commands).
func (b *Batch) IsEmpty() bool {
	return b == nil || len(b.Journals) == 0
}
