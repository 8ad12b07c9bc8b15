package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"PLPLedger/internal/core"
	"PLPLedger/internal/ledger"
	"PLPLedger/internal/observability"
	"PLPLedger/internal/state"

	"github.com/rs/zerolog"
)

const watermarkName = "main"

// ProjectionOutput is the read-model view of one engine output.
type ProjectionOutput struct {
	Sequence  int64
	EventType string
	Journals  []ledger.Journal

	// Post-command copies; nil when untouched
	Market   *state.Market
	Position *state.Position
	Schedule *state.VestingSchedule
	Treasury *state.Treasury
}

// FromCore bridges an engine output.
func FromCore(out core.CoreOutput) ProjectionOutput {
	po := ProjectionOutput{
		Sequence:  out.Envelope.Sequence,
		EventType: out.Envelope.EventType.String(),
		Market:    out.Market,
		Position:  out.Position,
		Schedule:  out.Schedule,
		Treasury:  out.Treasury,
	}
	if !out.Batch.IsEmpty() {
		po.Journals = out.Batch.Journals
	}
	return po
}

// MarketCache receives market snapshots for low-latency price reads.
type MarketCache interface {
	PutMarket(ctx context.Context, m *state.Market) error
}

// ProjectionWorker updates projection tables from engine outputs. The
// projection channel drops when full; lost updates are repaired by
// RebuildProjections from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	cache     MarketCache
	payouts   *PayoutHistoryProjection
	metrics   *observability.Metrics
	log       zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(
	db *sql.DB,
	inputChan <-chan ProjectionOutput,
	cache MarketCache,
	payouts *PayoutHistoryProjection,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		cache:     cache,
		payouts:   payouts,
		metrics:   metrics,
		log:       logger,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			start := time.Now()
			if err := pw.Apply(ctx, output); err != nil {
				// Eventually consistent; rebuildable from the event log
				pw.log.Warn().Err(err).Int64("sequence", output.Sequence).Msg("projection update failed")
				if pw.metrics != nil {
					pw.metrics.ProjectionErrors.WithLabelValues("postgres").Inc()
				}
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues("postgres").Observe(time.Since(start).Seconds())
			}
			pw.lastSeq = output.Sequence
		}
	}
}

// LastSequence returns the last sequence the worker saw.
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

// Apply writes one output. Every upsert is guarded by last_sequence, so
// applying an output twice is a no-op.
func (pw *ProjectionWorker) Apply(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := applyBalances(ctx, tx, output.Sequence, output.Journals); err != nil {
		return fmt.Errorf("balance projection: %w", err)
	}
	if output.Market != nil {
		if err := upsertMarket(ctx, tx, output.Sequence, output.Market); err != nil {
			return fmt.Errorf("market projection: %w", err)
		}
	}
	if output.Position != nil {
		if err := upsertPosition(ctx, tx, output.Sequence, output.Position); err != nil {
			return fmt.Errorf("position projection: %w", err)
		}
	}
	if output.Schedule != nil {
		if err := upsertSchedule(ctx, tx, output.Sequence, output.Schedule); err != nil {
			return fmt.Errorf("vesting projection: %w", err)
		}
	}
	if output.Treasury != nil {
		if err := upsertTreasury(ctx, tx, output.Sequence, output.Treasury); err != nil {
			return fmt.Errorf("treasury projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection_name, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection_name) DO UPDATE SET last_sequence = GREATEST(projections.watermark.last_sequence, $2), updated_at = NOW()
	`, watermarkName, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	if pw.payouts != nil {
		for _, j := range output.Journals {
			pw.payouts.Observe(j)
		}
	}
	if pw.cache != nil && output.Market != nil {
		if err := pw.cache.PutMarket(ctx, output.Market); err != nil {
			pw.log.Warn().Err(err).Str("market", output.Market.ID.String()).Msg("price cache update failed")
			if pw.metrics != nil {
				pw.metrics.ProjectionErrors.WithLabelValues("redis").Inc()
			}
		}
	}
	return nil
}

// BalanceDeltas nets a batch per account: debits add, credits subtract,
// the same convention as the engine's balance tracker.
func BalanceDeltas(journals []ledger.Journal) map[ledger.AccountKey]int64 {
	deltas := make(map[ledger.AccountKey]int64)
	for _, j := range journals {
		deltas[j.DebitAccount] += j.Amount
		deltas[j.CreditAccount] -= j.Amount
	}
	return deltas
}

func applyBalances(ctx context.Context, tx *sql.Tx, seq int64, journals []ledger.Journal) error {
	deltas := BalanceDeltas(journals)
	paths := make([]string, 0, len(deltas))
	byPath := make(map[string]ledger.AccountKey, len(deltas))
	for key := range deltas {
		p := key.AccountPath()
		paths = append(paths, p)
		byPath[p] = key
	}
	// Stable lock order across concurrent rebuilds
	sort.Strings(paths)

	for _, p := range paths {
		key := byPath[p]
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (account_path) DO UPDATE
				SET balance = projections.balances.balance + EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
				WHERE projections.balances.last_sequence < EXCLUDED.last_sequence
		`, p, int16(key.AssetID), deltas[key], seq); err != nil {
			return err
		}
	}
	return nil
}

func upsertMarket(ctx context.Context, tx *sql.Tx, seq int64, m *state.Market) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	var assetID sql.NullString
	var tokens, excess sql.NullInt64
	if tl, ok := m.Token.Get(); ok {
		assetID = sql.NullString{String: tl.AssetID, Valid: true}
		tokens = sql.NullInt64{Int64: tl.TokensReceived, Valid: true}
	}
	if fe, ok := m.FounderExcess.Get(); ok {
		excess = sql.NullInt64{Int64: fe, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO projections.markets (
			market_id, creator, name, symbol, metadata_uri, metadata_cid,
			target_pool, pool_balance, yes_pool, no_pool, total_yes_shares, total_no_shares,
			expiry_time, phase, resolution, distribution_pool,
			token_asset_id, tokens_received, founder_excess, data, version, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, NOW())
		ON CONFLICT (market_id) DO UPDATE SET
			pool_balance = EXCLUDED.pool_balance,
			yes_pool = EXCLUDED.yes_pool,
			no_pool = EXCLUDED.no_pool,
			total_yes_shares = EXCLUDED.total_yes_shares,
			total_no_shares = EXCLUDED.total_no_shares,
			expiry_time = EXCLUDED.expiry_time,
			phase = EXCLUDED.phase,
			resolution = EXCLUDED.resolution,
			distribution_pool = EXCLUDED.distribution_pool,
			token_asset_id = EXCLUDED.token_asset_id,
			tokens_received = EXCLUDED.tokens_received,
			founder_excess = EXCLUDED.founder_excess,
			data = EXCLUDED.data,
			version = EXCLUDED.version,
			last_sequence = EXCLUDED.last_sequence,
			updated_at = NOW()
		WHERE projections.markets.last_sequence < EXCLUDED.last_sequence
	`, m.ID, m.Creator, m.Name, m.Symbol, m.MetadataURI, m.MetadataCID,
		m.TargetPool, m.PoolBalance, m.YesPool, m.NoPool, m.TotalYesShares, m.TotalNoShares,
		m.ExpiryTime, m.Phase.String(), m.Resolution.String(), m.DistributionPool,
		assetID, tokens, excess, string(data), m.Version, seq)
	return err
}

func upsertPosition(ctx context.Context, tx *sql.Tx, seq int64, p *state.Position) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions (
			market_id, owner, yes_shares, no_shares, total_invested, claimed, claimed_amount, version, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (market_id, owner) DO UPDATE SET
			yes_shares = EXCLUDED.yes_shares,
			no_shares = EXCLUDED.no_shares,
			total_invested = EXCLUDED.total_invested,
			claimed = EXCLUDED.claimed,
			claimed_amount = EXCLUDED.claimed_amount,
			version = EXCLUDED.version,
			last_sequence = EXCLUDED.last_sequence
		WHERE projections.positions.last_sequence < EXCLUDED.last_sequence
	`, p.MarketID, p.Owner, p.YesShares, p.NoShares, p.TotalInvested, p.Claimed, p.ClaimedAmount, p.Version, seq)
	return err
}

func upsertSchedule(ctx context.Context, tx *sql.Tx, seq int64, s *state.VestingSchedule) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.vesting_schedules (
			schedule_id, market_id, kind, beneficiary, total_amount, immediate_amount, vesting_amount,
			claimed_amount, immediate_claimed, vesting_start, vesting_duration, version, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (schedule_id) DO UPDATE SET
			claimed_amount = EXCLUDED.claimed_amount,
			immediate_claimed = EXCLUDED.immediate_claimed,
			version = EXCLUDED.version,
			last_sequence = EXCLUDED.last_sequence
		WHERE projections.vesting_schedules.last_sequence < EXCLUDED.last_sequence
	`, s.ID, s.MarketID, s.Kind.String(), s.Beneficiary, s.TotalAmount, s.ImmediateAmount, s.VestingAmount,
		s.ClaimedAmount, s.ImmediateClaimed, s.VestingStart, s.VestingDuration, s.Version, seq)
	return err
}

func upsertTreasury(ctx context.Context, tx *sql.Tx, seq int64, t *state.Treasury) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.treasury (id, admin, total_fees, last_sequence)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			admin = EXCLUDED.admin,
			total_fees = EXCLUDED.total_fees,
			last_sequence = EXCLUDED.last_sequence
		WHERE projections.treasury.last_sequence < EXCLUDED.last_sequence
	`, t.Admin, t.TotalFees, seq)
	return err
}

// RebuildProjections recomputes the balance projection from the journal.
// Entity tables are restored from the engine's snapshot by the caller.
func RebuildProjections(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `TRUNCATE projections.balances`); err != nil {
		return fmt.Errorf("truncate balances: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT account_path, asset_id, SUM(delta), MAX(sequence)
		FROM (
			SELECT debit_account AS account_path, asset_id, amount AS delta, sequence FROM event_log.journal
			UNION ALL
			SELECT credit_account AS account_path, asset_id, -amount AS delta, sequence FROM event_log.journal
		) legs
		GROUP BY account_path, asset_id
	`)
	if err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	var seq sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq); err != nil {
		return fmt.Errorf("read log head: %w", err)
	}
	if seq.Valid {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.watermark (projection_name, last_sequence, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (projection_name) DO UPDATE SET last_sequence = $2, updated_at = NOW()
		`, watermarkName, seq.Int64); err != nil {
			return fmt.Errorf("watermark update: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logger.Info().Msg("projection rebuild complete")
	return nil
}
