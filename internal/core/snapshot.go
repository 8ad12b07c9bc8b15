package core

import (
	"PLPLedger/internal/ledger"
	"PLPLedger/internal/state"
)

// SnapshotState holds the serializable in-memory state for restore.
// persistence.SnapshotData is its JSON form.
type SnapshotState struct {
	Sequence        int64 // Last processed sequence
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]int64
	Markets         []*state.Market
	Positions       []*state.Position
	Schedules       []*state.VestingSchedule
	Treasury        *state.Treasury
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (c *Engine) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        c.balanceTracker.Snapshot(),
		Markets:         c.registry.AllMarkets(),
		Positions:       c.registry.AllPositions(),
		Schedules:       c.registry.AllSchedules(),
		Treasury:        c.registry.Treasury(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}

// RestoreFromSnapshot restores the engine's in-memory state. On warm restart
// the log is replayed from snap.Sequence+1 afterwards.
func (c *Engine) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)

	for key, balance := range snap.Balances {
		c.balanceTracker.SetBalance(key, balance)
	}
	for _, m := range snap.Markets {
		c.registry.PutMarket(m.Clone())
	}
	for _, p := range snap.Positions {
		c.registry.PutPosition(p.Clone())
	}
	for _, s := range snap.Schedules {
		c.registry.PutSchedule(s.Clone())
	}
	if snap.Treasury != nil {
		c.registry.PutTreasury(snap.Treasury.Clone())
	}
	for partition, next := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, next)
	}
	c.WarmLRU(snap.IdempotencyKeys)

	if c.metrics != nil {
		c.metrics.Sequence.Set(float64(c.sequence))
	}
}

// WarmLRU loads recent idempotency keys (oldest first) into the LRU cache so
// restarts avoid cold-path DB lookups.
func (c *Engine) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
	if c.metrics != nil {
		c.metrics.DedupLRUSize.Set(float64(c.idempotency.lru.Size()))
	}
}
