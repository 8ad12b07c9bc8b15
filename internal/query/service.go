package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"PLPLedger/internal/amm"
	plpredis "PLPLedger/internal/cache/redis"
	"PLPLedger/internal/errs"
	"PLPLedger/internal/ledger"
	"PLPLedger/internal/projection"
	"PLPLedger/internal/state"
	"PLPLedger/internal/vesting"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// QuoteCache is the low-latency price source. *plpredis.PriceCache
// satisfies it.
type QuoteCache interface {
	GetQuote(ctx context.Context, id uuid.UUID) (*plpredis.MarketQuote, error)
}

// QueryService provides read-only access to projection tables. Responses
// carry as_of_sequence so callers can judge freshness.
type QueryService struct {
	db      *sql.DB
	cache   QuoteCache
	payouts *projection.PayoutHistoryProjection
	now     func() time.Time
}

// NewQueryService builds a service. cache and payouts may be nil.
func NewQueryService(db *sql.DB, cache QuoteCache, payouts *projection.PayoutHistoryProjection) *QueryService {
	return &QueryService{db: db, cache: cache, payouts: payouts, now: time.Now}
}

// SetClock replaces the clock used for claimable amounts.
func (qs *QueryService) SetClock(now func() time.Time) {
	qs.now = now
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

const marketColumns = `
	market_id, creator, name, symbol, metadata_uri, metadata_cid,
	target_pool, pool_balance, yes_pool, no_pool, total_yes_shares, total_no_shares,
	expiry_time, phase, resolution, distribution_pool,
	token_asset_id, tokens_received, founder_excess, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMarket(row rowScanner) (*MarketResponse, error) {
	var m MarketResponse
	var assetID sql.NullString
	var tokens, excess sql.NullInt64
	if err := row.Scan(
		&m.MarketID, &m.Creator, &m.Name, &m.Symbol, &m.MetadataURI, &m.MetadataCID,
		&m.TargetPool, &m.PoolBalance, &m.YesPool, &m.NoPool, &m.TotalYesShares, &m.TotalNoShares,
		&m.ExpiryTime, &m.Phase, &m.Resolution, &m.DistributionPool,
		&assetID, &tokens, &excess, &m.Version,
	); err != nil {
		return nil, err
	}
	if assetID.Valid {
		m.TokenAssetID = &assetID.String
	}
	if tokens.Valid {
		m.TokensReceived = &tokens.Int64
	}
	if excess.Valid {
		m.FounderExcess = &excess.Int64
	}

	yes, no, err := amm.Prices(m.YesPool, m.NoPool)
	if err != nil {
		return nil, fmt.Errorf("price market %s: %w", m.MarketID, err)
	}
	m.YesPrice = FormatPrice(yes)
	m.NoPrice = FormatPrice(no)
	m.PoolDisplay = FormatLamports(m.PoolBalance)
	return &m, nil
}

// GetMarket returns one market.
func (qs *QueryService) GetMarket(ctx context.Context, marketID uuid.UUID) (*MarketResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	m, err := scanMarket(qs.db.QueryRowContext(ctx,
		`SELECT `+marketColumns+` FROM projections.markets WHERE market_id = $1`, marketID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("market", marketID.String())
	}
	if err != nil {
		return nil, err
	}
	m.AsOfSequence = asOfSeq
	return m, nil
}

// ListMarkets returns markets ordered by ID. resolution filters by outcome
// name when non-empty; after is an exclusive cursor.
func (qs *QueryService) ListMarkets(
	ctx context.Context,
	resolution string,
	limit int,
	after *uuid.UUID,
) ([]MarketResponse, error) {
	if resolution != "" {
		if _, ok := state.ParseResolution(resolution); !ok {
			return nil, errs.InvalidArgument("resolution", fmt.Sprintf("unknown resolution %q", resolution))
		}
	}
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + marketColumns + ` FROM projections.markets WHERE TRUE`
	args := []interface{}{}
	argIdx := 1

	if resolution != "" {
		query += fmt.Sprintf(" AND resolution = $%d", argIdx)
		args = append(args, resolution)
		argIdx++
	}
	if after != nil {
		query += fmt.Sprintf(" AND market_id > $%d", argIdx)
		args = append(args, *after)
		argIdx++
	}

	query += " ORDER BY market_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	markets := make([]MarketResponse, 0)
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		m.AsOfSequence = asOfSeq
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

// GetQuote returns current prices, preferring the Redis cache.
func (qs *QueryService) GetQuote(ctx context.Context, marketID uuid.UUID) (*QuoteResponse, error) {
	if qs.cache != nil {
		q, err := qs.cache.GetQuote(ctx, marketID)
		if err == nil {
			return &QuoteResponse{
				MarketID:    marketID,
				YesPrice:    FormatPrice(q.YesPrice),
				NoPrice:     FormatPrice(q.NoPrice),
				PoolBalance: FormatLamports(q.PoolBalance),
				Resolution:  q.Resolution,
				Version:     q.Version,
				Source:      "cache",
			}, nil
		}
		// Cache misses and outages fall through to the projection
	}

	m, err := qs.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	return &QuoteResponse{
		MarketID:    marketID,
		YesPrice:    m.YesPrice,
		NoPrice:     m.NoPrice,
		PoolBalance: m.PoolDisplay,
		Resolution:  m.Resolution,
		Version:     m.Version,
		Source:      "projection",
	}, nil
}

// GetBalance returns a participant's wallet mirror and token holdings.
func (qs *QueryService) GetBalance(ctx context.Context, userID uuid.UUID) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	wallet, err := qs.getProjectedBalance(ctx, ledger.WalletAccount(userID).AccountPath())
	if err != nil {
		return nil, err
	}

	resp := &BalanceResponse{
		UserID:        userID,
		Wallet:        wallet,
		WalletDisplay: FormatLamports(wallet),
		AsOfSequence:  asOfSeq,
	}

	// Paths look like user:<id>:tokens:<market>:TOKEN
	prefix := fmt.Sprintf("user:%s:tokens:", userID)
	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_path, balance
		FROM projections.balances
		WHERE account_path LIKE $1 AND balance <> 0
		ORDER BY account_path
	`, prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var path string
		var tb TokenBalance
		if err := rows.Scan(&path, &tb.Amount); err != nil {
			return nil, err
		}
		marketPart, _, _ := strings.Cut(strings.TrimPrefix(path, prefix), ":")
		if tb.MarketID, err = uuid.Parse(marketPart); err != nil {
			return nil, fmt.Errorf("token account %s: %w", path, err)
		}
		resp.Tokens = append(resp.Tokens, tb)
	}
	return resp, rows.Err()
}

// GetPositions returns all positions for a user.
func (qs *QueryService) GetPositions(ctx context.Context, userID uuid.UUID) ([]PositionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT market_id, yes_shares, no_shares, total_invested, claimed, claimed_amount, version
		FROM projections.positions
		WHERE owner = $1
		ORDER BY market_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	positions := make([]PositionResponse, 0)
	for rows.Next() {
		p := PositionResponse{Owner: userID, AsOfSequence: asOfSeq}
		if err := rows.Scan(
			&p.MarketID, &p.YesShares, &p.NoShares, &p.TotalInvested,
			&p.Claimed, &p.ClaimedAmount, &p.Version,
		); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}

	return positions, rows.Err()
}

// GetPosition returns one participant's position in one market.
func (qs *QueryService) GetPosition(ctx context.Context, marketID, userID uuid.UUID) (*PositionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	p := PositionResponse{MarketID: marketID, Owner: userID, AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, `
		SELECT yes_shares, no_shares, total_invested, claimed, claimed_amount, version
		FROM projections.positions
		WHERE market_id = $1 AND owner = $2
	`, marketID, userID).Scan(
		&p.YesShares, &p.NoShares, &p.TotalInvested, &p.Claimed, &p.ClaimedAmount, &p.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("position", marketID.String()+"/"+userID.String())
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetVestingSchedules returns a beneficiary's schedules with the amount
// claimable right now.
func (qs *QueryService) GetVestingSchedules(ctx context.Context, beneficiary uuid.UUID) ([]VestingResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT schedule_id, market_id, kind, total_amount, immediate_amount, vesting_amount,
		       claimed_amount, immediate_claimed, vesting_start, vesting_duration, version
		FROM projections.vesting_schedules
		WHERE beneficiary = $1
		ORDER BY market_id, kind
	`, beneficiary)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	now := qs.now().Unix()
	schedules := make([]VestingResponse, 0)
	for rows.Next() {
		v := VestingResponse{Beneficiary: beneficiary, AsOfSequence: asOfSeq}
		if err := rows.Scan(
			&v.ScheduleID, &v.MarketID, &v.Kind, &v.TotalAmount, &v.ImmediateAmount, &v.VestingAmount,
			&v.ClaimedAmount, &v.ImmediateClaimed, &v.VestingStart, &v.VestingDuration, &v.Version,
		); err != nil {
			return nil, err
		}
		claimable, err := vesting.Claimable(&state.VestingSchedule{
			ImmediateAmount:  v.ImmediateAmount,
			VestingAmount:    v.VestingAmount,
			ClaimedAmount:    v.ClaimedAmount,
			ImmediateClaimed: v.ImmediateClaimed,
			VestingStart:     v.VestingStart,
			VestingDuration:  v.VestingDuration,
		}, now)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", v.ScheduleID, err)
		}
		v.Claimable = claimable
		schedules = append(schedules, v)
	}
	return schedules, rows.Err()
}

// GetPayoutHistory returns recent payouts to a participant, newest first.
// Entries come from the in-memory projection; after a restart it is empty
// and the journal table answers instead.
func (qs *QueryService) GetPayoutHistory(ctx context.Context, userID uuid.UUID, limit int) ([]PayoutResponse, error) {
	limit = clampLimit(limit)

	if qs.payouts != nil {
		if entries := qs.payouts.QueryByOwner(userID, limit); len(entries) > 0 {
			out := make([]PayoutResponse, 0, len(entries))
			for _, e := range entries {
				out = append(out, PayoutResponse{
					MarketID:    e.MarketID,
					Asset:       e.Asset,
					Amount:      e.Amount,
					JournalType: e.JournalType,
					Sequence:    e.Sequence,
					Timestamp:   e.Timestamp,
				})
			}
			return out, nil
		}
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e.market_id, j.asset_id, j.amount, j.journal_type, j.sequence, j.timestamp
		FROM event_log.journal j
		JOIN event_log.events e ON e.sequence = j.sequence
		WHERE j.debit_account LIKE $1 AND j.journal_type = ANY($2)
		ORDER BY j.sequence DESC
		LIMIT $3
	`, fmt.Sprintf("user:%s:%%", userID), payoutTypes(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]PayoutResponse, 0)
	for rows.Next() {
		var p PayoutResponse
		var marketID uuid.NullUUID
		var assetID uint16
		var jt int32
		if err := rows.Scan(&marketID, &assetID, &p.Amount, &jt, &p.Sequence, &p.Timestamp); err != nil {
			return nil, err
		}
		p.MarketID = marketID.UUID
		p.Asset, _ = ledger.GetAssetName(ledger.AssetID(assetID))
		p.JournalType = ledger.JournalType(jt).String()
		out = append(out, p)
	}
	return out, rows.Err()
}

// payoutTypes is the journal_type set matching PayoutHistoryProjection.
func payoutTypes() interface{} {
	return pq.Array([]int64{
		int64(ledger.JournalTypePayout), int64(ledger.JournalTypeRefund),
		int64(ledger.JournalTypeTokenClaim), int64(ledger.JournalTypeVestingClaim),
	})
}

// GetTreasury returns the fee treasury.
func (qs *QueryService) GetTreasury(ctx context.Context) (*TreasuryResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}
	t := TreasuryResponse{AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx,
		`SELECT admin, total_fees FROM projections.treasury WHERE id = 1`,
	).Scan(&t.Admin, &t.TotalFees)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("treasury", "1")
	}
	if err != nil {
		return nil, err
	}
	t.FeesDisplay = FormatLamports(t.TotalFees)
	return &t, nil
}

// GetJournalHistory returns journal entries for a user with pagination.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", userID)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]JournalHistoryEntry, 0)
	for rows.Next() {
		var e JournalHistoryEntry
		var jt int32
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&jt, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.JournalType = ledger.JournalType(jt).String()
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks the hash chain, the per-asset zero sum of the
// balance projection, and that every vault matches its market's pool.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash <> e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			rows.Close()
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance) AS total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) <> 0
	`)
	if err != nil {
		return nil, err
	}
	for balanceRows.Next() {
		var u UnbalancedAsset
		if err := balanceRows.Scan(&u.AssetID, &u.Imbalance); err != nil {
			balanceRows.Close()
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, u)
	}
	balanceRows.Close()
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	vaultRows, err := qs.db.QueryContext(ctx, `
		SELECT m.market_id
		FROM projections.markets m
		LEFT JOIN projections.balances b
		  ON b.account_path = 'market:' || m.market_id::text || ':vault:SOL'
		WHERE COALESCE(b.balance, 0) <> m.pool_balance
		ORDER BY m.market_id
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer vaultRows.Close()
	for vaultRows.Next() {
		var id uuid.UUID
		if err := vaultRows.Scan(&id); err != nil {
			return nil, err
		}
		report.VaultMismatches = append(report.VaultMismatches, id)
	}
	if err := vaultRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.UnbalancedAssets) == 0 &&
		len(report.VaultMismatches) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE projection_name = 'main'`,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string) (int64, error) {
	var balance int64
	err := qs.db.QueryRowContext(ctx,
		`SELECT balance FROM projections.balances WHERE account_path = $1`, accountPath,
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}
