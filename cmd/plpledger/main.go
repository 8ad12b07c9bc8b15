package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PLPLedger/internal/cache/redis"
	"PLPLedger/internal/config"
	"PLPLedger/internal/core"
	"PLPLedger/internal/ingestion"
	"PLPLedger/internal/launch"
	"PLPLedger/internal/observability"
	"PLPLedger/internal/persistence"
	"PLPLedger/internal/projection"
	"PLPLedger/internal/query"
	"PLPLedger/internal/server"
	"PLPLedger/migrations"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	replayBatchSize = 1000
	warmKeyLimit    = 100_000
	publishChanSize = 4096
	rawChanSize     = 4096
)

func main() {
	configPath := flag.String("config", "plpledger.toml", "path to TOML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	level := observability.ParseLogLevel(cfg.LogLevel)
	newLogger := func(component string) zerolog.Logger {
		return observability.NewLoggerWithLevel(component, level)
	}
	logger := newLogger("plpledger")
	if os.Getenv("GOGC") == "" {
		logger.Warn().Msg("GOGC not set, recommend GOGC=400 for production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, stop, cfg, logger, newLogger); err != nil {
		logger.Fatal().Err(err).Msg("plpledger stopped")
	}
	logger.Info().Msg("plpledger shutdown complete")
}

func run(ctx context.Context, stop context.CancelFunc, cfg *config.Config, logger zerolog.Logger, newLogger func(string) zerolog.Logger) error {
	params, err := cfg.MarketParams()
	if err != nil {
		return err
	}

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("postgres connected")

	if err := persistence.NewMigrator(db, migrations.FS, logger).Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()
	healthChecker.AddCheck("postgres", db.PingContext)

	// --- Redis: leader lock and price cache ---
	var (
		quoteCache  query.QuoteCache
		marketCache projection.MarketCache
		leaderLock  *redis.LeaderLock
	)
	if cfg.Redis.Addr != "" {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
		})
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rc.Close()

		leaderLock = redis.NewLeaderLock(rc, "plpledger", cfg.Redis.LockTTL.Duration)
		if err := leaderLock.Acquire(ctx); err != nil {
			return fmt.Errorf("leader lock: %w", err)
		}
		defer leaderLock.Release()
		logger.Info().Msg("leader lock acquired")

		pc := redis.NewPriceCache(rc)
		quoteCache, marketCache = pc, pc
		healthChecker.AddCheck("redis", rc.Ping)
	} else {
		logger.Warn().Msg("redis disabled: no leader lock, quotes served from projections")
	}

	// --- Engine ---
	persistCore := make(chan core.CoreOutput, cfg.Engine.PersistChanSize)
	projectionCore := make(chan core.CoreOutput, cfg.Engine.ProjectionChanSize)
	inbox := make(chan core.Submission, cfg.Engine.InboxSize)

	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	eng, err := core.NewEngine(core.Config{
		StartSequence:       1,
		Params:              params,
		TreasuryAdmin:       cfg.TreasuryAdmin(),
		Launch:              launchService(cfg),
		LaunchTimeout:       cfg.Launch.Timeout.Duration,
		LRUCapacity:         cfg.Engine.LRUCapacity,
		GlobalCheckInterval: cfg.Engine.GlobalCheckInterval,
		DBChecker:           dbChecker,
		Metrics:             metrics,
		Logger:              newLogger("engine"),
	}, persistCore, projectionCore)
	if err != nil {
		return err
	}

	snapMgr := persistence.NewSnapshotManager(db)
	if err := recoverEngine(ctx, eng, snapMgr, dbChecker, metrics, logger); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}

	// --- Downstream pipeline ---
	// The pipeline outlives the engine so every emitted output is flushed
	// before exit. It only stops once the bridge closes its channels.
	pipeCtx, pipeCancel := context.WithCancel(context.Background())
	defer pipeCancel()
	pipe, pipeCtx := errgroup.WithContext(pipeCtx)

	persistOut := make(chan persistence.CoreOutput, cfg.Engine.PersistChanSize)
	projectionOut := make(chan projection.ProjectionOutput, cfg.Engine.ProjectionChanSize)
	publishChan := make(chan ingestion.PublishableEvent, publishChanSize)

	payouts := projection.NewPayoutHistoryProjection(cfg.Engine.PayoutHistorySize)

	persistWorker := persistence.NewPersistenceWorker(db, persistOut, cfg.Engine.BatchSize,
		cfg.Engine.FlushTimeout.Duration, metrics, newLogger("persistence"))
	projWorker := projection.NewProjectionWorker(db, projectionOut, marketCache, payouts,
		metrics, newLogger("projection"))

	// --- NATS ---
	var (
		js         jetstream.JetStream
		subscriber *ingestion.NATSSubscriber
	)
	if cfg.NATS.URL != "" {
		nc, jsc, err := ingestion.ConnectNATS(cfg.NATS.URL, newLogger("nats"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
		js = jsc

		if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
			return fmt.Errorf("ensure nats streams: %w", err)
		}
		if cfg.NATS.Publish {
			if err := ingestion.EnsureOutboundStream(ctx, js, logger); err != nil {
				return fmt.Errorf("ensure outbound stream: %w", err)
			}
		}
		healthChecker.AddCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("nats disconnected")
			}
			return nil
		})
	} else {
		logger.Warn().Msg("nats disabled: commands accepted over gRPC/HTTP only")
	}

	publishing := js != nil && cfg.NATS.Publish
	if publishing {
		// Only durable envelopes leave the process.
		persistWorker.OnFlush(func(rows []persistence.EventRow) {
			for _, row := range rows {
				env, err := row.Envelope()
				if err != nil {
					logger.Error().Err(err).Int64("sequence", row.Sequence).Msg("cannot publish persisted event")
					continue
				}
				select {
				case publishChan <- ingestion.NewPublishableEvent(env):
				default:
					metrics.PublishDrops.Inc()
				}
			}
		})
	}

	pipe.Go(func() error {
		defer close(publishChan)
		err := persistWorker.Run(pipeCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			// The engine cannot make progress without durable writes.
			stop()
		}
		return err
	})
	pipe.Go(func() error {
		return projWorker.Run(pipeCtx)
	})
	pipe.Go(func() error {
		bridgeCoreOutputs(pipeCtx, persistCore, projectionCore, persistOut, projectionOut, metrics)
		return nil
	})
	if publishing {
		publisher := ingestion.NewOutboundPublisher(js, publishChan, newLogger("publisher"))
		pipe.Go(func() error {
			return publisher.Run(pipeCtx)
		})
	}

	// --- Ingress, engine and servers ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return eng.Run(gctx, inbox)
	})

	seq := ingestion.NewSequencer(eng.ExpectedSequence(core.IngestPartition), inbox)

	if js != nil {
		rawChan := make(chan ingestion.RawEvent, rawChanSize)
		subscriber = ingestion.NewNATSSubscriber(js, rawChan, newLogger("nats"))
		if err := subscriber.Subscribe(gctx, ingestion.DefaultSubjects()); err != nil {
			return fmt.Errorf("nats subscribe: %w", err)
		}
		g.Go(func() error {
			return ingestion.RunIngestionLoop(gctx, rawChan, seq, newLogger("ingestion"))
		})
	}

	if leaderLock != nil {
		g.Go(func() error {
			if err := leaderLock.Keep(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("leader lock: %w", err)
			}
			return nil
		})
	}

	takeSnapshot := func(ctx context.Context) (int64, error) {
		snap, err := core.RequestSnapshot(ctx, inbox)
		if err != nil {
			return 0, err
		}
		return saveSnapshot(ctx, snapMgr, snap, metrics)
	}

	grpcServer := server.NewGRPCServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, &server.ServerDeps{
		Query:         query.NewQueryService(db, quoteCache, payouts),
		Commands:      ingestion.NewGateway(seq, newLogger("gateway")),
		Admin:         server.NewLedgerAdmin(db, snapMgr, takeSnapshot, newLogger("admin")),
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        newLogger("server"),
	})
	g.Go(func() error {
		return grpcServer.StartGRPC(gctx)
	})
	g.Go(func() error {
		return grpcServer.StartHTTPGateway(gctx)
	})
	g.Go(func() error {
		return serveMetrics(gctx, cfg.Server.MetricsAddr, logger)
	})
	g.Go(func() error {
		runPeriodicSnapshots(gctx, cfg.Engine.SnapshotInterval.Duration, takeSnapshot, logger)
		return nil
	})
	g.Go(func() error {
		reportChannels(gctx, metrics, map[string]chan core.CoreOutput{
			"persist":    persistCore,
			"projection": projectionCore,
		}, inbox)
		return nil
	})

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)
	logger.Info().
		Int64("sequence", eng.GetSequence()).
		Str("grpc", cfg.Server.GRPCAddr).
		Str("http", cfg.Server.HTTPAddr).
		Str("metrics", cfg.Server.MetricsAddr).
		Msg("plpledger ready")

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	// --- Graceful shutdown ---
	// The engine goroutine has returned, so its state can be read directly
	// and its output channels closed.
	healthChecker.SetReady(false)
	grpcServer.SetServing(false)
	if subscriber != nil {
		subscriber.Stop()
	}
	close(persistCore)
	close(projectionCore)

	if err := pipe.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("pipeline stopped with error")
		if runErr == nil {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if last, err := saveSnapshot(shutdownCtx, snapMgr, eng.CreateSnapshotState(), metrics); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else {
		logger.Info().Int64("sequence", last).Msg("final snapshot saved")
	}

	return runErr
}

func launchService(cfg *config.Config) launch.Service {
	if cfg.Launch.Mode == "http" {
		return launch.NewHTTPClient(cfg.Launch.BaseURL, cfg.Launch.Timeout.Duration)
	}
	return launch.NewSimulated()
}

// recoverEngine restores the latest verified snapshot, warms the
// idempotency cache and replays the log tail. Every replayed envelope is
// checked against its logged state hash.
func recoverEngine(
	ctx context.Context,
	eng *core.Engine,
	snapMgr *persistence.SnapshotManager,
	dbChecker *persistence.PostgresIdempotencyChecker,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) error {
	start := time.Now()

	snap, err := snapMgr.LoadLatestSnapshot(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load snapshot, replaying full log")
		snap = nil
	}
	if snap != nil {
		st, err := snap.State()
		if err != nil {
			return err
		}
		eng.RestoreFromSnapshot(st)
		logger.Info().Int64("sequence", snap.Sequence).Msg("restored snapshot")
	} else {
		logger.Info().Msg("no snapshot found, cold start")
	}

	keys, err := dbChecker.RecentKeys(ctx, warmKeyLimit)
	if err != nil {
		logger.Warn().Err(err).Msg("idempotency warmup skipped")
	} else {
		eng.WarmLRU(keys)
	}

	from := eng.GetSequence()
	var replayed int64
	for {
		rows, err := snapMgr.LoadEventsFrom(ctx, from, replayBatchSize)
		if err != nil {
			return fmt.Errorf("load events from %d: %w", from, err)
		}
		if len(rows) == 0 {
			break
		}
		for _, row := range rows {
			env, err := row.Envelope()
			if err != nil {
				return err
			}
			if err := eng.ReplayEnvelope(ctx, env); err != nil {
				return err
			}
			replayed++
		}
		from = rows[len(rows)-1].Sequence + 1
	}

	metrics.ReplayDuration.Set(time.Since(start).Seconds())
	logger.Info().
		Int64("replayed", replayed).
		Int64("next_sequence", eng.GetSequence()).
		Dur("took", time.Since(start)).
		Msg("recovery complete")
	return nil
}

// bridgeCoreOutputs fans engine outputs into the persistence and projection
// workers. Persistence is blocking; projections drop when full and are
// repaired by a rebuild. Both outputs close once both inputs are closed.
// If the persistence worker has died (ctx done) outputs are discarded so
// the engine can still reach its shutdown check.
func bridgeCoreOutputs(
	ctx context.Context,
	persistIn, projectionIn <-chan core.CoreOutput,
	persistOut chan<- persistence.CoreOutput,
	projectionOut chan<- projection.ProjectionOutput,
	metrics *observability.Metrics,
) {
	defer close(persistOut)
	defer close(projectionOut)

	for persistIn != nil || projectionIn != nil {
		select {
		case out, ok := <-persistIn:
			if !ok {
				persistIn = nil
				continue
			}
			select {
			case persistOut <- persistence.CoreOutput{
				EventRow:    persistence.NewEventRow(out.Envelope),
				JournalRows: persistence.NewJournalRows(out.Batch),
			}:
			case <-ctx.Done():
			}

		case out, ok := <-projectionIn:
			if !ok {
				projectionIn = nil
				continue
			}
			select {
			case projectionOut <- projection.FromCore(out):
			default:
				metrics.ProjectionDrops.WithLabelValues("bridge").Inc()
			}
		}
	}
}

// saveSnapshot stores snap and verifies it against the event log. The
// envelope at snap.Sequence may still be in flight to Postgres, so
// verification is retried briefly before giving up.
func saveSnapshot(ctx context.Context, snapMgr *persistence.SnapshotManager, snap *core.SnapshotState, metrics *observability.Metrics) (int64, error) {
	start := time.Now()
	data := persistence.NewSnapshotData(snap, time.Now().UTC())

	size, err := snapMgr.SaveSnapshot(ctx, data)
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}

	backoff := 50 * time.Millisecond
	for attempt := 0; ; attempt++ {
		err = snapMgr.VerifySnapshot(ctx, data.Sequence, data.StateHash)
		if err == nil {
			break
		}
		if errors.Is(err, persistence.ErrSnapshotMismatch) || attempt == 5 {
			return 0, err
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	metrics.SnapshotTaken.Inc()
	metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	metrics.SnapshotSizeBytes.Set(float64(size))
	metrics.SnapshotLastSeq.Set(float64(data.Sequence))
	return data.Sequence, nil
}

// runPeriodicSnapshots snapshots on a fixed interval, skipping ticks where
// the engine has not advanced.
func runPeriodicSnapshots(ctx context.Context, interval time.Duration, take server.SnapshotFunc, logger zerolog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := int64(-1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			seq, err := take(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn().Err(err).Msg("periodic snapshot failed")
				}
				continue
			}
			if seq != last {
				logger.Info().Int64("sequence", seq).Msg("periodic snapshot")
				last = seq
			}
		}
	}
}

func reportChannels(ctx context.Context, metrics *observability.Metrics, outputs map[string]chan core.CoreOutput, inbox chan core.Submission) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, ch := range outputs {
				metrics.SetChannelMetrics(name, len(ch), cap(ch))
			}
			metrics.SetChannelMetrics("inbox", len(inbox), cap(inbox))
		}
	}
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
