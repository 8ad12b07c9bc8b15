package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"PLPLedger/internal/observability"

	"github.com/rs/zerolog"
)

// CoreOutput is the persistence view of one engine output.
// The orchestrator bridges core.CoreOutput into this.
type CoreOutput struct {
	EventRow    EventRow
	JournalRows []JournalRow
}

// FlushHook runs after a batch commits, in sequence order. events is only
// valid for the duration of the call.
type FlushHook func(events []EventRow)

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The engine sends on the persist channel with blocking sends, so if this
// worker falls behind the engine stalls and no output is lost.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *EventLogWriter
	inputChan    <-chan CoreOutput
	batchSize    int
	flushTimeout time.Duration
	onFlush      FlushHook
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	return &PersistenceWorker{
		db:           db,
		writer:       NewEventLogWriter(),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          logger,
	}
}

// OnFlush registers a hook; outbound publishing uses it so that only
// durable events leave the process.
func (pw *PersistenceWorker) OnFlush(hook FlushHook) {
	pw.onFlush = hook
}

// Run batches incoming outputs and flushes either when the batch is full or
// the flush timeout expires. Blocks until ctx is cancelled or the input
// channel is closed.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	eventBatch := make([]EventRow, 0, pw.batchSize)
	journalBatch := make([]JournalRow, 0, pw.batchSize*3)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	flush := func(ctx context.Context, reason string) error {
		if len(eventBatch) == 0 {
			return nil
		}
		err := pw.flushWithRetry(ctx, eventBatch, journalBatch)
		if err != nil {
			pw.log.Error().Err(err).Str("reason", reason).Int("events", len(eventBatch)).Msg("flush failed")
		}
		eventBatch = eventBatch[:0]
		journalBatch = journalBatch[:0]
		return err
	}

	for {
		select {
		case <-ctx.Done():
			_ = flush(context.Background(), "shutdown")
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return flush(context.Background(), "closed")
			}

			eventBatch = append(eventBatch, output.EventRow)
			journalBatch = append(journalBatch, output.JournalRows...)

			if len(eventBatch) >= pw.batchSize {
				if err := flush(ctx, "full"); errors.Is(err, ErrIdempotencyConflict) {
					return err
				}
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if err := flush(ctx, "timeout"); errors.Is(err, ErrIdempotencyConflict) {
				return err
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff. The worker never drops
// events: it retries until the write succeeds, the error is permanent, or
// the context is cancelled, in which case one last attempt is made.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, events []EventRow, journals []JournalRow) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(events)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				if err := pw.Flush(context.Background(), events, journals); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.Flush(ctx, events, journals)
		if err == nil {
			if attempt > 0 {
				pw.log.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		if errors.Is(err, ErrIdempotencyConflict) {
			return err
		}

		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("retry").Inc()
		}
	}
}

// Flush writes one batch of events and journals in a single transaction.
func (pw *PersistenceWorker) Flush(ctx context.Context, events []EventRow, journals []JournalRow) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, tx, events); err != nil {
		pw.countError("write_events")
		return err
	}

	if err := pw.writer.WriteJournalBatch(ctx, tx, journals); err != nil {
		pw.countError("write_journals")
		return err
	}

	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(events)))
		pw.metrics.PersistEventsWritten.Add(float64(len(events)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		if len(events) > 0 {
			pw.metrics.PersistLastSequence.Set(float64(events[len(events)-1].Sequence))
		}
	}

	if pw.onFlush != nil {
		pw.onFlush(events)
	}
	return nil
}

func (pw *PersistenceWorker) countError(stage string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(stage).Inc()
	}
}
