package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"PLPLedger/internal/event"
	"PLPLedger/internal/ledger"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	MarketID       *string
	Payload        []byte // JSON-encoded command
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
	SourceSequence int64
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        int64
	JournalType   int32
	Timestamp     int64
}

// NewEventRow converts an envelope for storage.
func NewEventRow(env *event.EventEnvelope) EventRow {
	row := EventRow{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Payload:        env.Payload,
		StateHash:      append([]byte(nil), env.StateHash[:]...),
		PrevHash:       append([]byte(nil), env.PrevHash[:]...),
		Timestamp:      env.Timestamp,
		SourceSequence: env.SourceSequence,
	}
	if env.MarketID != uuid.Nil {
		id := env.MarketID.String()
		row.MarketID = &id
	}
	return row
}

// Envelope rebuilds the logged envelope for replay.
func (e EventRow) Envelope() (*event.EventEnvelope, error) {
	et, ok := event.ParseEventType(e.EventType)
	if !ok {
		return nil, fmt.Errorf("seq %d: unknown event type %q", e.Sequence, e.EventType)
	}
	if len(e.StateHash) != 32 || len(e.PrevHash) != 32 {
		return nil, fmt.Errorf("seq %d: malformed hash", e.Sequence)
	}
	env := &event.EventEnvelope{
		Sequence:       e.Sequence,
		IdempotencyKey: e.IdempotencyKey,
		EventType:      et,
		Timestamp:      e.Timestamp,
		SourceSequence: e.SourceSequence,
		Payload:        e.Payload,
	}
	copy(env.StateHash[:], e.StateHash)
	copy(env.PrevHash[:], e.PrevHash)
	if e.MarketID != nil {
		id, err := uuid.Parse(*e.MarketID)
		if err != nil {
			return nil, fmt.Errorf("seq %d: market id: %w", e.Sequence, err)
		}
		env.MarketID = id
	}
	return env, nil
}

// NewJournalRows flattens a batch for storage. A nil or empty batch yields
// no rows.
func NewJournalRows(b *ledger.Batch) []JournalRow {
	if b.IsEmpty() {
		return nil
	}
	rows := make([]JournalRow, 0, len(b.Journals))
	for _, j := range b.Journals {
		rows = append(rows, JournalRow{
			JournalID:     j.JournalID.String(),
			BatchID:       j.BatchID.String(),
			EventRef:      j.EventRef,
			Sequence:      j.Sequence,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			AssetID:       uint16(j.AssetID),
			Amount:        j.Amount,
			JournalType:   int32(j.JournalType),
			Timestamp:     j.Timestamp,
		})
	}
	return rows
}

// EventLogWriter writes events and journals using multi-row INSERTs inside
// the caller's transaction. Writes are idempotent on sequence and
// journal_id, so a retried batch is harmless.
type EventLogWriter struct{}

func NewEventLogWriter() *EventLogWriter {
	return &EventLogWriter{}
}

// WriteEventBatch writes a batch of events to event_log.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, market_id, payload, state_hash, prev_hash, timestamp, source_sequence)
		VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*9)

	for i, e := range events {
		base := i * 9
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9,
		))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.MarketID,
			string(e.Payload), e.StateHash, e.PrevHash, e.Timestamp, e.SourceSequence,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return classify(err)
}

// WriteJournalBatch writes a batch of journal entries to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, tx *sql.Tx, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, asset_id, amount, journal_type, timestamp)
		VALUES `

	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*10)

	for i, j := range journals {
		base := i * 10
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10,
		))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.AssetID, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (journal_id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return classify(err)
}

// ErrIdempotencyConflict means a second applied command carried a key the
// log already holds. The engine's dedup should have caught it; the batch
// is not retryable.
var ErrIdempotencyConflict = errors.New("idempotency key already logged")

func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == "idx_events_idem" {
		return fmt.Errorf("%w: %s", ErrIdempotencyConflict, pqErr.Detail)
	}
	return err
}
