package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// batchNamespace seeds deterministic batch ids so a replay rebuilds the same
// journals byte for byte.
var batchNamespace = uuid.MustParse("3b8f0d2a-91c4-5e67-8a1f-c02d7e5b4a90")

// Ref identifies the command a batch is generated for.
type Ref struct {
	EventRef  string // Idempotency key of the command
	Sequence  int64  // Global sequence assigned by the engine
	Timestamp int64  // Versioned input timestamp (epoch microseconds)
}

// JournalGenerator creates balanced journal batches from commands
type JournalGenerator struct {
	balanceTracker *BalanceTracker // For pre-checks
}

func NewJournalGenerator(tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		balanceTracker: tracker,
	}
}

// NewBatch returns an empty batch for ref. State-only commands (extend)
// commit an empty batch.
func (jg *JournalGenerator) NewBatch(ref Ref) *Batch {
	var seq [8]byte
	binary.LittleEndian.PutUint64(seq[:], uint64(ref.Sequence))
	return &Batch{
		BatchID:   uuid.NewSHA1(batchNamespace, append([]byte(ref.EventRef), seq[:]...)),
		EventRef:  ref.EventRef,
		Sequence:  ref.Sequence,
		Timestamp: ref.Timestamp,
		Journals:  make([]Journal, 0, 2),
	}
}

// add appends one transfer; zero amounts are skipped.
func (b *Batch) add(debit, credit AccountKey, amount int64, jt JournalType) {
	if amount == 0 {
		return
	}
	var idx [4]byte
	binary.LittleEndian.PutUint32(idx[:], uint32(len(b.Journals)))
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.NewSHA1(b.BatchID, idx[:]),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       debit.AssetID,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// AddCreationFee moves the creation fee: user:wallet → system:treasury
func (jg *JournalGenerator) AddCreationFee(b *Batch, creator uuid.UUID, fee int64) {
	b.add(TreasuryAccount(), WalletAccount(creator), fee, JournalTypeCreationFee)
}

// AddTrade moves a buy's gross deposit out of the trader's wallet:
// net → market:vault, fee → system:treasury.
func (jg *JournalGenerator) AddTrade(b *Batch, trader, marketID uuid.UUID, net, fee int64) {
	b.add(VaultAccount(marketID), WalletAccount(trader), net, JournalTypeTradeDeposit)
	b.add(TreasuryAccount(), WalletAccount(trader), fee, JournalTypeTradeFee)
}

// AddCompletionFee skims the completion fee: market:vault → system:treasury
func (jg *JournalGenerator) AddCompletionFee(b *Batch, marketID uuid.UUID, fee int64) error {
	if err := jg.balanceTracker.ValidateSufficient(VaultAccount(marketID), fee); err != nil {
		return fmt.Errorf("completion fee pre-check failed: %w", err)
	}
	b.add(TreasuryAccount(), VaultAccount(marketID), fee, JournalTypeCompletionFee)
	return nil
}

// AddLaunch records the token purchase: pool lamports leave the vault for
// the launch service, and the tokens actually received enter the token vault.
func (jg *JournalGenerator) AddLaunch(b *Batch, marketID uuid.UUID, spent, tokens int64, vaultAfterFee int64) error {
	if spent > vaultAfterFee {
		return fmt.Errorf("launch pre-check failed: spend %d exceeds vault %d", spent, vaultAfterFee)
	}
	b.add(LaunchAccount(marketID, AssetSOL), VaultAccount(marketID), spent, JournalTypeLaunchSpend)
	b.add(TokenVaultAccount(marketID), LaunchAccount(marketID, AssetToken), tokens, JournalTypeLaunchTokens)
	return nil
}

// AddCurrencyPayout pays lamports from a market's vault to a participant.
// Used for NoWins payouts, refunds, and founder vesting claims.
func (jg *JournalGenerator) AddCurrencyPayout(b *Batch, marketID, owner uuid.UUID, amount int64, jt JournalType) error {
	if err := jg.balanceTracker.ValidateSufficient(VaultAccount(marketID), amount); err != nil {
		return fmt.Errorf("payout pre-check failed: %w", err)
	}
	b.add(WalletAccount(owner), VaultAccount(marketID), amount, jt)
	return nil
}

// AddTokenPayout moves launched tokens from the market's token vault to a
// participant (voter claims and team vesting).
func (jg *JournalGenerator) AddTokenPayout(b *Batch, marketID, owner uuid.UUID, amount int64, jt JournalType) error {
	if err := jg.balanceTracker.ValidateSufficient(TokenVaultAccount(marketID), amount); err != nil {
		return fmt.Errorf("token payout pre-check failed: %w", err)
	}
	b.add(UserTokenAccount(owner, marketID), TokenVaultAccount(marketID), amount, jt)
	return nil
}

// AddPlatformTokens moves the platform allocation to the platform account
func (jg *JournalGenerator) AddPlatformTokens(b *Batch, marketID uuid.UUID, amount int64) error {
	if err := jg.balanceTracker.ValidateSufficient(TokenVaultAccount(marketID), amount); err != nil {
		return fmt.Errorf("platform token pre-check failed: %w", err)
	}
	b.add(PlatformTokenAccount(marketID), TokenVaultAccount(marketID), amount, JournalTypePlatformTokenClaim)
	return nil
}
