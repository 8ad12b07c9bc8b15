package projection

import (
	"sync"

	"PLPLedger/internal/ledger"

	"github.com/google/uuid"
)

// PayoutEntry is one claim, refund, or vesting payment to a participant.
type PayoutEntry struct {
	Owner       uuid.UUID
	MarketID    uuid.UUID
	Asset       string
	Amount      int64
	JournalType string
	JournalID   uuid.UUID
	Sequence    int64
	Timestamp   int64 // Epoch microseconds
}

// PayoutHistoryProjection keeps the most recent payouts in memory. It starts
// empty after a restart; older history is read from the journal table.
type PayoutHistoryProjection struct {
	mu       sync.RWMutex
	entries  []PayoutEntry
	capacity int
}

func NewPayoutHistoryProjection(capacity int) *PayoutHistoryProjection {
	if capacity <= 0 {
		capacity = 100_000
	}
	return &PayoutHistoryProjection{
		entries:  make([]PayoutEntry, 0, 1024),
		capacity: capacity,
	}
}

// isPayout reports whether jt pays a participant.
func isPayout(jt ledger.JournalType) bool {
	switch jt {
	case ledger.JournalTypePayout, ledger.JournalTypeRefund,
		ledger.JournalTypeTokenClaim, ledger.JournalTypeVestingClaim:
		return true
	}
	return false
}

// Observe records j if it is a participant payout.
func (p *PayoutHistoryProjection) Observe(j ledger.Journal) {
	if !isPayout(j.JournalType) || j.DebitAccount.Scope != ledger.AccountScopeUser {
		return
	}
	asset, _ := ledger.GetAssetName(j.AssetID)
	entry := PayoutEntry{
		Owner:       uuid.UUID(j.DebitAccount.EntityID),
		MarketID:    j.CreditAccount.MarketID(),
		Asset:       asset,
		Amount:      j.Amount,
		JournalType: j.JournalType.String(),
		JournalID:   j.JournalID,
		Sequence:    j.Sequence,
		Timestamp:   j.Timestamp,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.entries) >= p.capacity {
		copy(p.entries, p.entries[1:])
		p.entries = p.entries[:len(p.entries)-1]
	}
	p.entries = append(p.entries, entry)
}

// QueryByOwner returns up to limit payouts to owner, newest first.
func (p *PayoutHistoryProjection) QueryByOwner(owner uuid.UUID, limit int) []PayoutEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]PayoutEntry, 0)
	for i := len(p.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if p.entries[i].Owner == owner {
			result = append(result, p.entries[i])
		}
	}
	return result
}
