package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"PLPLedger/internal/errs"
	"PLPLedger/internal/event"
	"PLPLedger/internal/fees"
	"PLPLedger/internal/launch"
	"PLPLedger/internal/ledger"
	"PLPLedger/internal/observability"
	"PLPLedger/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config wires an Engine.
type Config struct {
	StartSequence int64
	Params        state.MarketParams
	TreasuryAdmin uuid.UUID

	Launch        launch.Service
	LaunchTimeout time.Duration

	LRUCapacity         int
	GlobalCheckInterval int64 // Zero-sum check every N sequences; 1 checks every command
	DBChecker           DBIdempotencyChecker

	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

// Engine is the single-threaded command processor. It owns every market,
// position, vesting schedule, and the treasury.
type Engine struct {
	sequence          int64
	params            state.MarketParams
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	registry          *state.Registry
	authorizer        Authorizer
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	outcomes          map[state.Resolution]outcomeHandler

	launch        launch.Service
	launchTimeout time.Duration

	globalCheckInterval int64
	replaying           bool

	metrics *observability.Metrics
	log     zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything downstream workers need for one sequence.
type CoreOutput struct {
	Envelope   *event.EventEnvelope
	Batch      *ledger.Batch
	StateDelta []byte

	// Post-command copies of the touched entities (nil when untouched)
	Market   *state.Market
	Position *state.Position
	Schedule *state.VestingSchedule
	Treasury *state.Treasury

	Rejection *errs.Error
}

// Result is returned to the submitter of a command.
type Result struct {
	Sequence   int64
	Duplicate  bool
	Market     *state.Market
	Position   *state.Position
	Schedule   *state.VestingSchedule
	Charge     fees.Charge
	Shares     int64
	Payout     int64
	Resolution state.Resolution
}

// effects is a handler's staged outcome. Nothing is visible to the registry
// until the engine commits it.
type effects struct {
	batch    *ledger.Batch
	market   *state.Market
	position *state.Position
	schedule *state.VestingSchedule
	treasury *state.Treasury

	charge     fees.Charge
	shares     int64
	payout     int64
	resolution state.Resolution
}

func NewEngine(cfg Config, persistChan, projectionChan chan<- CoreOutput) (*Engine, error) {
	params := cfg.Params
	if err := state.ValidateMarketParams(&params); err != nil {
		return nil, fmt.Errorf("market params: %w", err)
	}
	if cfg.LRUCapacity <= 0 {
		cfg.LRUCapacity = 1_000_000
	}
	if cfg.GlobalCheckInterval <= 0 {
		cfg.GlobalCheckInterval = 1000
	}
	if cfg.LaunchTimeout <= 0 {
		cfg.LaunchTimeout = 30 * time.Second
	}

	balanceTracker := ledger.NewBalanceTracker()
	registry := state.NewRegistry(state.NewTreasury(cfg.TreasuryAdmin))

	e := &Engine{
		sequence:            cfg.StartSequence,
		params:              params,
		hasher:              NewStateHasher(),
		balanceTracker:      balanceTracker,
		journalGen:          ledger.NewJournalGenerator(balanceTracker),
		validator:           ledger.NewInvariantValidator(balanceTracker),
		registry:            registry,
		authorizer:          NewRegistryAuthorizer(registry),
		idempotency:         NewIdempotencyChecker(cfg.LRUCapacity, cfg.DBChecker, cfg.Metrics),
		sequenceValidator:   NewSequenceValidator(cfg.Metrics),
		launch:              cfg.Launch,
		launchTimeout:       cfg.LaunchTimeout,
		globalCheckInterval: cfg.GlobalCheckInterval,
		metrics:             cfg.Metrics,
		log:                 cfg.Logger,
		persistChan:         persistChan,
		projectionChan:      projectionChan,
	}
	e.outcomes = map[state.Resolution]outcomeHandler{
		state.ResolutionYesWins: e.resolveYesWins,
		state.ResolutionNoWins:  e.resolveNoWins,
		state.ResolutionRefund:  e.resolveRefund,
	}
	return e, nil
}

// ProcessEvent is the main processing pipeline
func (c *Engine) ProcessEvent(ctx context.Context, evt event.Event) (*Result, error) {
	start := time.Now()
	eventType := evt.EventType().String()
	meta := evt.Header()

	// Step 1: Idempotency check (two-tier). The log holds no duplicates, and
	// the durable tier already knows every replayed key.
	isDuplicate := !c.replaying && c.idempotency.IsDuplicate(eventType, meta.Key)

	// Step 2: Sequence validation. Replayed envelopes were validated when
	// they were first accepted.
	if !c.replaying {
		if err := c.sequenceValidator.ValidateSequence(IngestPartition, meta.Sequence, isDuplicate); err != nil {
			c.countRejection(eventType, "sequence")
			return nil, fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	if isDuplicate {
		c.countRejection(eventType, "duplicate")
		return &Result{Duplicate: true}, nil
	}

	// Step 3: Dispatch to the command handler
	ref := ledger.Ref{EventRef: meta.Key, Sequence: c.sequence, Timestamp: meta.Timestamp.UnixMicro()}
	eff, err := c.dispatch(ctx, evt, ref)
	if err != nil {
		var domainErr *errs.Error
		if !errors.As(err, &domainErr) {
			domainErr = errs.Wrap(errs.KindUnknown, "", err)
		}
		c.reject(evt, domainErr)
		return nil, err
	}

	// Steps 4-9: validate, apply, commit, post-check
	if !eff.batch.IsEmpty() {
		if err := c.validator.ValidateBatchBalance(eff.batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
		if err := c.balanceTracker.ApplyBatch(eff.batch); err != nil {
			panic(fmt.Sprintf("FATAL: apply batch failed after validation: %v", err))
		}
	}
	c.commit(eff)

	if err := c.postCheckInvariants(eff); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 10: hash chain and envelope
	payload, err := event.Encode(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode %s: %v", eventType, err))
	}

	hashStart := time.Now()
	prevHash := c.hasher.GetPrevHash()
	stateDigest := c.computeStateDigest(eff)
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)
	if c.metrics != nil {
		c.metrics.StateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: meta.Key,
		EventType:      evt.EventType(),
		MarketID:       evt.MarketID(),
		Timestamp:      meta.Timestamp,
		SourceSequence: meta.Sequence,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{
		Envelope:   envelope,
		Batch:      eff.batch,
		StateDelta: stateDigest,
		Market:     cloneMarket(eff.market),
		Position:   clonePosition(eff.position),
		Schedule:   cloneSchedule(eff.schedule),
		Treasury:   cloneTreasury(eff.treasury),
	}

	result := &Result{
		Sequence:   c.sequence,
		Market:     output.Market,
		Position:   output.Position,
		Schedule:   output.Schedule,
		Charge:     eff.charge,
		Shares:     eff.shares,
		Payout:     eff.payout,
		Resolution: eff.resolution,
	}
	c.sequence++

	// Step 11: Emit outputs
	c.emit(output)

	// Step 12: Mark as processed
	c.idempotency.MarkProcessed(eventType, meta.Key)

	c.recordApplied(eventType, eff, start)

	c.log.Debug().
		Int64("sequence", envelope.Sequence).
		Str("command", eventType).
		Str("key", meta.Key).
		Msg("command applied")

	return result, nil
}

// reject logs a CommandRejected envelope in place of evt. State is
// untouched; the envelope keeps the source sequence contiguous in the log.
func (c *Engine) reject(evt event.Event, cause *errs.Error) {
	meta := evt.Header()
	eventType := evt.EventType().String()
	c.countRejection(eventType, cause.Kind.String())

	rejected := &event.CommandRejected{
		Meta:     *meta,
		Market:   evt.MarketID(),
		Original: evt.EventType(),
		Kind:     cause.Kind.String(),
		Reason:   cause.Error(),
	}
	payload, err := event.Encode(rejected)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode rejection: %v", err))
	}

	prevHash := c.hasher.GetPrevHash()
	digest := rejectionDigest(rejected)
	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: meta.Key,
		EventType:      event.EventTypeCommandRejected,
		MarketID:       rejected.Market,
		Timestamp:      meta.Timestamp,
		SourceSequence: meta.Sequence,
		Payload:        payload,
		StateHash:      c.hasher.ComputeHash(c.sequence, digest),
		PrevHash:       prevHash,
	}
	c.sequence++

	c.emit(CoreOutput{Envelope: envelope, StateDelta: digest, Rejection: cause})

	c.log.Info().
		Int64("sequence", envelope.Sequence).
		Str("command", eventType).
		Str("key", meta.Key).
		Str("kind", cause.Kind.String()).
		Str("reason", cause.Error()).
		Msg("command rejected")
}

func rejectionDigest(r *event.CommandRejected) []byte {
	digest := make([]byte, 0, 64)
	digest = append(digest, byte(r.Original))
	digest = append(digest, r.Kind...)
	return digest
}

// emit sends to persistence (blocking, backpressure) and projections
// (non-blocking, dropped when full). Replay emits nothing.
func (c *Engine) emit(output CoreOutput) {
	if c.replaying {
		return
	}
	if c.persistChan != nil {
		select {
		case c.persistChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- output
		}
	}
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
			}
		}
	}
}

// commit publishes staged entities to the registry.
func (c *Engine) commit(eff *effects) {
	if eff.market != nil {
		c.registry.PutMarket(eff.market)
	}
	if eff.position != nil {
		c.registry.PutPosition(eff.position)
	}
	if eff.schedule != nil {
		c.registry.PutSchedule(eff.schedule)
	}
	if eff.treasury != nil {
		c.registry.PutTreasury(eff.treasury)
	}
}

func (c *Engine) dispatch(ctx context.Context, evt event.Event, ref ledger.Ref) (*effects, error) {
	if evt.Header().Timestamp.IsZero() {
		return nil, errs.InvalidArgument("timestamp", "command carries no timestamp")
	}

	switch e := evt.(type) {
	case *event.CreateMarket:
		return c.handleCreateMarket(e, ref)
	case *event.Buy:
		return c.handleBuy(e, ref)
	case *event.ExtendMarket:
		return c.handleExtendMarket(e, ref)
	case *event.ResolveMarket:
		return c.handleResolveMarket(ctx, e, ref)
	case *event.Claim:
		return c.handleClaim(e, ref)
	case *event.ClaimPlatformTokens:
		return c.handleClaimPlatformTokens(e, ref)
	case *event.InitTeamVesting:
		return c.handleInitTeamVesting(e, ref)
	case *event.InitFounderVesting:
		return c.handleInitFounderVesting(e, ref)
	case *event.ClaimVesting:
		return c.handleClaimVesting(e, ref)
	default:
		return nil, errs.Newf(errs.KindInvalidArgument, "event_type", "unsupported command %T", evt)
	}
}

// postCheckInvariants validates ledger mirrors after a command is committed
func (c *Engine) postCheckInvariants(eff *effects) error {
	if eff.market != nil {
		if err := c.validator.ValidateVaultMirror(eff.market.ID, eff.market.PoolBalance); err != nil {
			return fmt.Errorf("post-check vault mirror: %w", err)
		}
		if err := c.validator.ValidateTokenVault(eff.market.ID); err != nil {
			return fmt.Errorf("post-check token vault: %w", err)
		}
		if eff.market.YesPool <= 0 || eff.market.NoPool <= 0 {
			return fmt.Errorf("post-check reserves: market %s has non-positive reserve", eff.market.ID)
		}
	}
	if eff.position != nil && eff.position.YesShares > 0 && eff.position.NoShares > 0 {
		return fmt.Errorf("post-check one-position rule: %s holds both sides in %s",
			eff.position.Owner, eff.position.MarketID)
	}
	if eff.schedule != nil && eff.schedule.ClaimedAmount > eff.schedule.TotalAmount {
		return fmt.Errorf("post-check vesting: schedule %s over-claimed", eff.schedule.ID)
	}
	if err := c.validator.ValidateTreasuryMirror(c.registry.Treasury().TotalFees); err != nil {
		return fmt.Errorf("post-check treasury mirror: %w", err)
	}

	// Periodic global zero-sum check
	if c.sequence%c.globalCheckInterval == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("post-check zero-sum at seq %d: %w", c.sequence, err)
		}
	}
	return nil
}

// computeStateDigest creates canonical bytes for state hash: every account
// the batch touched with its new balance, then every touched entity.
func (c *Engine) computeStateDigest(eff *effects) []byte {
	affected := make(map[ledger.AccountKey]bool)
	if eff.batch != nil {
		for _, j := range eff.batch.Journals {
			affected[j.DebitAccount] = true
			affected[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64+256)
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)
		digest = appendInt64LE(digest, c.balanceTracker.GetBalance(key))
	}

	if eff.market != nil {
		digest = append(digest, eff.market.CanonicalBytes()...)
	}
	if eff.position != nil {
		digest = append(digest, eff.position.CanonicalBytes()...)
	}
	if eff.schedule != nil {
		digest = append(digest, eff.schedule.CanonicalBytes()...)
	}
	if eff.treasury != nil {
		digest = append(digest, eff.treasury.CanonicalBytes()...)
	}
	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

func (c *Engine) countRejection(eventType, kind string) {
	if c.metrics != nil {
		c.metrics.CommandsRejected.WithLabelValues(eventType, kind).Inc()
	}
}

func (c *Engine) recordApplied(eventType string, eff *effects, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.CommandsApplied.WithLabelValues(eventType).Inc()
	c.metrics.CommandDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	c.metrics.Sequence.Set(float64(c.sequence))
	if eff.batch != nil {
		for _, j := range eff.batch.Journals {
			c.metrics.Journals.WithLabelValues(j.JournalType.String()).Inc()
		}
	}
	if eff.treasury != nil {
		c.metrics.TreasuryFees.Set(float64(eff.treasury.TotalFees))
	}
	if eff.market != nil {
		c.metrics.PoolBalance.WithLabelValues(eff.market.ID.String()).Set(float64(eff.market.PoolBalance))
	}
}

// --- Accessors ---

// GetSequence returns the next global sequence to be assigned.
func (c *Engine) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *Engine) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// ExpectedSequence returns the next source sequence the engine accepts on
// partition. The ingestion sequencer starts from it.
func (c *Engine) ExpectedSequence(partition string) int64 {
	return c.sequenceValidator.GetExpectedSequence(partition)
}

// Market returns a copy of a market. Engine state is single-threaded; call
// only from the engine goroutine or before Run starts.
func (c *Engine) Market(id uuid.UUID) (*state.Market, error) {
	return c.registry.Market(id)
}

// Position returns a copy of a position.
func (c *Engine) Position(marketID, owner uuid.UUID) (*state.Position, bool) {
	return c.registry.Position(marketID, owner)
}

// Schedule returns a copy of a vesting schedule.
func (c *Engine) Schedule(id uuid.UUID) (*state.VestingSchedule, error) {
	return c.registry.Schedule(id)
}

// Treasury returns a copy of the treasury.
func (c *Engine) Treasury() *state.Treasury {
	return c.registry.Treasury()
}

// Balance returns one ledger account balance.
func (c *Engine) Balance(key ledger.AccountKey) int64 {
	return c.balanceTracker.GetBalance(key)
}

// GlobalBalance returns the per-asset sum of all accounts (zero when sound).
func (c *Engine) GlobalBalance() map[ledger.AssetID]int64 {
	return c.balanceTracker.ComputeGlobalBalance()
}

func cloneMarket(m *state.Market) *state.Market {
	if m == nil {
		return nil
	}
	return m.Clone()
}

func clonePosition(p *state.Position) *state.Position {
	if p == nil {
		return nil
	}
	return p.Clone()
}

func cloneSchedule(s *state.VestingSchedule) *state.VestingSchedule {
	if s == nil {
		return nil
	}
	return s.Clone()
}

func cloneTreasury(t *state.Treasury) *state.Treasury {
	if t == nil {
		return nil
	}
	return t.Clone()
}
