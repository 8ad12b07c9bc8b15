package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"PLPLedger/internal/core"
	"PLPLedger/internal/ledger"
	"PLPLedger/internal/state"

	"github.com/google/uuid"
)

// snapshotFormat is bumped whenever SnapshotData changes shape.
const snapshotFormat = 1

// ErrSnapshotMismatch means a snapshot's hash differs from the event log at
// the same sequence.
var ErrSnapshotMismatch = errors.New("snapshot state hash does not match event log")

// SnapshotManager handles creating and loading state snapshots for recovery.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the JSON form of core.SnapshotState.
type SnapshotData struct {
	Sequence        int64                    `json:"sequence"`
	StateHash       []byte                   `json:"state_hash"`
	Balances        []BalanceEntry           `json:"balances"`
	Markets         []*state.Market          `json:"markets"`
	Positions       []*state.Position        `json:"positions"`
	Schedules       []*state.VestingSchedule `json:"schedules"`
	Treasury        *state.Treasury          `json:"treasury"`
	SequenceState   map[string]int64         `json:"sequence_state"`
	IdempotencyKeys []string                 `json:"idempotency_keys"`
	CreatedAt       time.Time                `json:"created_at"`
}

// BalanceEntry is one ledger account. Path is informational; Key is
// authoritative.
type BalanceEntry struct {
	Path    string            `json:"path"`
	Key     ledger.AccountKey `json:"key"`
	Balance int64             `json:"balance"`
}

// NewSnapshotData converts engine state for storage.
func NewSnapshotData(s *core.SnapshotState, createdAt time.Time) *SnapshotData {
	d := &SnapshotData{
		Sequence:        s.Sequence,
		StateHash:       append([]byte(nil), s.StateHash[:]...),
		Balances:        make([]BalanceEntry, 0, len(s.Balances)),
		Markets:         s.Markets,
		Positions:       s.Positions,
		Schedules:       s.Schedules,
		Treasury:        s.Treasury,
		SequenceState:   s.SequenceState,
		IdempotencyKeys: s.IdempotencyKeys,
		CreatedAt:       createdAt,
	}
	for key, bal := range s.Balances {
		d.Balances = append(d.Balances, BalanceEntry{Path: key.AccountPath(), Key: key, Balance: bal})
	}
	return d
}

// State converts back to the engine form.
func (d *SnapshotData) State() (*core.SnapshotState, error) {
	if len(d.StateHash) != 32 {
		return nil, fmt.Errorf("snapshot %d: state hash has %d bytes", d.Sequence, len(d.StateHash))
	}
	s := &core.SnapshotState{
		Sequence:        d.Sequence,
		Balances:        make(map[ledger.AccountKey]int64, len(d.Balances)),
		Markets:         d.Markets,
		Positions:       d.Positions,
		Schedules:       d.Schedules,
		Treasury:        d.Treasury,
		SequenceState:   d.SequenceState,
		IdempotencyKeys: d.IdempotencyKeys,
	}
	copy(s.StateHash[:], d.StateHash)
	for _, b := range d.Balances {
		s.Balances[b.Key] = b.Balance
	}
	return s, nil
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot and returns its encoded size.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) (int, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return 0, fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6, verified = FALSE
	`, uuid.New(), snap.Sequence, data, snap.StateHash, snapshotFormat, len(data), snap.CreatedAt)
	if err != nil {
		return 0, err
	}
	return len(data), nil
}

// VerifySnapshot compares the snapshot's hash with the logged envelope at
// the same sequence and marks it verified on a match. A snapshot taken
// before the first event has nothing to compare against and is verified.
func (sm *SnapshotManager) VerifySnapshot(ctx context.Context, sequence int64, stateHash []byte) error {
	var logged []byte
	err := sm.db.QueryRowContext(ctx,
		`SELECT state_hash FROM event_log.events WHERE sequence = $1`, sequence,
	).Scan(&logged)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		latest, lerr := sm.GetLatestSequence(ctx)
		if lerr != nil {
			return lerr
		}
		if latest >= sequence {
			return fmt.Errorf("verify snapshot %d: %w (event missing)", sequence, ErrSnapshotMismatch)
		}
		if latest > 0 {
			return fmt.Errorf("verify snapshot %d: event not yet persisted", sequence)
		}
	case err != nil:
		return fmt.Errorf("verify snapshot %d: %w", sequence, err)
	case string(logged) != string(stateHash):
		return fmt.Errorf("verify snapshot %d: %w", sequence, ErrSnapshotMismatch)
	}
	return sm.MarkVerified(ctx, sequence)
}

// LoadLatestSnapshot loads the most recent verified snapshot, or nil when
// none exists (cold start).
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		WHERE verified = TRUE AND format_version = $1
		ORDER BY sequence DESC
		LIMIT 1
	`, snapshotFormat)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE event_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadEventsFrom loads events from a given sequence for replay.
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_type, idempotency_key, market_id, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventType, &e.IdempotencyKey, &e.MarketID,
			&e.Payload, &e.StateHash, &e.PrevHash, &e.Timestamp, &e.SourceSequence,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// GetLatestSequence returns the highest sequence in the event log, or 0.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM event_log.events
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
