package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for PLPLedger.
type Metrics struct {
	// --- Engine ---
	CommandsApplied  *prometheus.CounterVec
	CommandsRejected *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	Journals         *prometheus.CounterVec
	StateHashDur     prometheus.Histogram
	Sequence         prometheus.Gauge

	// --- Markets ---
	MarketsCreated    prometheus.Counter
	Resolutions       *prometheus.CounterVec
	TradeVolume       *prometheus.CounterVec
	CappedTrades      prometheus.Counter
	TreasuryFees      prometheus.Gauge
	PoolBalance       *prometheus.GaugeVec
	ClaimsPaid        *prometheus.CounterVec
	LaunchCalls       *prometheus.CounterVec
	LaunchDuration    prometheus.Histogram
	VestingClaimsPaid *prometheus.CounterVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Errors      prometheus.Counter
	EventSequenceGap      *prometheus.CounterVec
	EventOutOfOrder       *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistLastSequence    prometheus.Gauge

	// --- Projections ---
	ProjectionUpdateDur *prometheus.HistogramVec
	ProjectionErrors    *prometheus.CounterVec

	// --- Snapshot & Replay ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Engine
		CommandsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plp_core_commands_applied_total",
			Help: "Commands successfully applied by the engine",
		}, []string{"command"}),

		CommandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plp_core_commands_rejected_total",
			Help: "Commands rejected, by error kind (duplicate, sequence, domain kinds)",
		}, []string{"command", "kind"}),

		CommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "plp_core_command_apply_duration_seconds",
			Help:    "Time to apply a single command",
			Buckets: latencyBuckets,
		}, []string{"command"}),

		Journals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plp_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		StateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "plp_core_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		Sequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "plp_core_sequence",
			Help: "Next global sequence number",
		}),

		// Markets
		MarketsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "plp_markets_created_total",
			Help: "Markets opened",
		}),

		Resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plp_market_resolutions_total",
			Help: "Markets resolved, by outcome",
		}, []string{"outcome"}),

		TradeVolume: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plp_trade_volume_lamports_total",
			Help: "Gross lamports deposited, by side",
		}, []string{"side"}),

		CappedTrades: f.NewCounter(prometheus.CounterOpts{
			Name: "plp_trades_capped_total",
			Help: "Deposits reduced to fit the target pool",
		}),

		TreasuryFees: f.NewGauge(prometheus.GaugeOpts{
			Name: "plp_treasury_fees_lamports",
			Help: "Running total of fees collected",
		}),

		PoolBalance: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "plp_market_pool_balance_lamports",
			Help: "Pool balance per market",
		}, []string{"market_id"}),

		ClaimsPaid: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plp_claims_paid_total",
			Help: "Participant claims paid, by outcome",
		}, []string{"outcome"}),

		LaunchCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plp_launch_calls_total",
			Help: "Launch service invocations",
		}, []string{"result"}),

		LaunchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "plp_launch_duration_seconds",
			Help:    "Launch service round trip",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		VestingClaimsPaid: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plp_vesting_claims_paid_total",
			Help: "Vesting claims paid, by schedule kind",
		}, []string{"kind"}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "plp_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "plp_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "plp_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plp_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "plp_publish_drops_total",
			Help: "Outbound events that failed to publish",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "plp_persist_backpressure_total",
			Help: "Times the engine blocked on the persist channel",
		}),

		// Idempotency & Ordering
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plp_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"command", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "plp_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "plp_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "plp_dedup_tier2_errors_total",
			Help: "Postgres dedup lookups that failed",
		}),

		EventSequenceGap: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plp_event_sequence_gap_total",
			Help: "Source sequence gaps",
		}, []string{"partition"}),

		EventOutOfOrder: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plp_event_out_of_order_total",
			Help: "Out-of-order rejections",
		}, []string{"partition"}),

		// Persistence
		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "plp_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "plp_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "plp_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "plp_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plp_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "plp_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Projections
		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "plp_projection_update_duration_seconds",
			Help:    "Projection update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		ProjectionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plp_projection_errors_total",
			Help: "Projection update failures",
		}, []string{"projection"}),

		// Snapshot & Replay
		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "plp_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "plp_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "plp_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "plp_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "plp_replay_events_total",
			Help: "Events replayed on startup",
		}),

		ReplayDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "plp_replay_duration_seconds",
			Help: "Total replay time",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "plp_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "plp_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
