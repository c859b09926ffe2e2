package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector of the service.
type Metrics struct {
	// --- Core ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreJournals       *prometheus.CounterVec
	CoreAuditRecords   *prometheus.CounterVec
	CoreStateHashDur   prometheus.Histogram
	CoreSequence       prometheus.Gauge

	// --- Lending ---
	VaultTotalAssets    prometheus.Gauge
	VaultLoanedAssets   prometheus.Gauge
	VaultUtilizationBps prometheus.Gauge
	VaultRateBps        prometheus.Gauge
	VaultEpoch          prometheus.Gauge
	RewardsSettled      *prometheus.CounterVec
	BreachAccounts      *prometheus.GaugeVec
	ProtocolFees        prometheus.Gauge

	// --- Latency ---
	IngestToApply       *prometheus.HistogramVec
	ApplyToPersist      prometheus.Histogram
	NATSPullLatency     *prometheus.HistogramVec
	PersistBatchDur     prometheus.Histogram
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Channels & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter
	IngestRateLimited   *prometheus.CounterVec
	IngestParseErrors   *prometheus.CounterVec

	// --- Idempotency & ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupCacheEntries     prometheus.Gauge
	DedupTier2Errors      prometheus.Counter
	EventSequenceGap      *prometheus.CounterVec
	EventOutOfOrder       *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistAuditWritten    prometheus.Counter
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
	QueryCache    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg, or with
// the default registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}
	ioBuckets := []float64{
		0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
	}

	return &Metrics{
		CoreEventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_core_events_applied_total",
			Help: "Events applied by core",
		}, []string{"event_type"}),
		CoreEventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_core_events_rejected_total",
			Help: "Events rejected (duplicate, sequence, business rule)",
		}, []string{"event_type", "reason"}),
		CoreEventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_core_event_apply_duration_seconds",
			Help:    "Time to apply a single event in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),
		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),
		CoreAuditRecords: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_core_audit_records_total",
			Help: "Audit records emitted",
		}, []string{"kind"}),
		CoreStateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_core_state_hash_duration_seconds",
			Help:    "Time to compute the state digest and hash",
			Buckets: latencyBuckets,
		}),
		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "lend_core_sequence",
			Help: "Next global sequence to assign",
		}),

		VaultTotalAssets: f.NewGauge(prometheus.GaugeOpts{
			Name: "lend_vault_total_assets",
			Help: "Liquid plus loaned assets, fixed-point units",
		}),
		VaultLoanedAssets: f.NewGauge(prometheus.GaugeOpts{
			Name: "lend_vault_loaned_assets",
			Help: "Outstanding principal across all borrowers",
		}),
		VaultUtilizationBps: f.NewGauge(prometheus.GaugeOpts{
			Name: "lend_vault_utilization_bps",
			Help: "Pool utilization in basis points",
		}),
		VaultRateBps: f.NewGauge(prometheus.GaugeOpts{
			Name: "lend_vault_rate_bps",
			Help: "Rate curve evaluated at current utilization",
		}),
		VaultEpoch: f.NewGauge(prometheus.GaugeOpts{
			Name: "lend_vault_epoch",
			Help: "Current vault epoch",
		}),
		RewardsSettled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_rewards_settled_total",
			Help: "Vested rewards folded into debt, by destination",
		}, []string{"part"}),
		BreachAccounts: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_breach_accounts",
			Help: "Accounts with a non-zero breach counter",
		}, []string{"level"}),
		ProtocolFees: f.NewGauge(prometheus.GaugeOpts{
			Name: "lend_protocol_fees_balance",
			Help: "Protocol fee collector balance",
		}),

		IngestToApply: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_ingest_to_apply_seconds",
			Help:    "Time from ingest to core apply",
			Buckets: ioBuckets,
		}, []string{"source"}),
		ApplyToPersist: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_apply_to_persist_seconds",
			Help:    "Time from core apply to durable write",
			Buckets: ioBuckets,
		}),
		NATSPullLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_nats_pull_latency_seconds",
			Help:    "JetStream fetch latency",
			Buckets: ioBuckets,
		}, []string{"consumer"}),
		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_persist_batch_duration_seconds",
			Help:    "Time to write one persistence batch",
			Buckets: ioBuckets,
		}),
		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_projection_update_duration_seconds",
			Help:    "Time to apply one output to a projection",
			Buckets: ioBuckets,
		}, []string{"projection"}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_channel_size",
			Help: "Items buffered in an internal channel",
		}, []string{"channel"}),
		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lend_channel_capacity",
			Help: "Capacity of an internal channel",
		}, []string{"channel"}),
		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_projection_drops_total",
			Help: "Outputs dropped because the projection channel was full",
		}, []string{"projection"}),
		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "lend_publish_drops_total",
			Help: "Audit records not published to NATS",
		}),
		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_backpressure_total",
			Help: "Times the core blocked on a full persist channel",
		}),
		IngestRateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_ingest_rate_limited_total",
			Help: "Commands refused by the ingest rate limiter",
		}, []string{"source"}),
		IngestParseErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_ingest_parse_errors_total",
			Help: "Commands dropped because they could not be parsed",
		}, []string{"event_type"}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_idempotency_duplicates_total",
			Help: "Duplicate events detected, by tier",
		}, []string{"tier"}),
		DedupCacheEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "lend_dedup_cache_entries",
			Help: "Entries in the tier-1 idempotency cache",
		}),
		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "lend_dedup_tier2_errors_total",
			Help: "Postgres idempotency lookups that failed",
		}),
		EventSequenceGap: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_event_sequence_gap_total",
			Help: "Source sequence gaps",
		}, []string{"event_type"}),
		EventOutOfOrder: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_event_out_of_order_total",
			Help: "Out-of-order source sequences",
		}, []string{"event_type"}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_events_written_total",
			Help: "Event envelopes written",
		}),
		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_journals_written_total",
			Help: "Journals written",
		}),
		PersistAuditWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_audit_written_total",
			Help: "Audit records written",
		}),
		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_persist_errors_total",
			Help: "Persistence failures",
		}, []string{"operation"}),
		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "lend_persist_retry_total",
			Help: "Persistence retries",
		}),
		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "lend_persist_last_sequence",
			Help: "Last sequence durably written",
		}),

		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "lend_snapshot_taken_total",
			Help: "Snapshots written",
		}),
		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "lend_snapshot_duration_seconds",
			Help:    "Time to capture and write a snapshot",
			Buckets: ioBuckets,
		}),
		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "lend_snapshot_size_bytes",
			Help: "Size of the last snapshot",
		}),
		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "lend_snapshot_last_sequence",
			Help: "Sequence of the last snapshot",
		}),
		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "lend_replay_events_total",
			Help: "Events replayed at startup",
		}),
		ReplayDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "lend_replay_duration_seconds",
			Help: "Duration of the startup replay",
		}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_query_requests_total",
			Help: "Query API requests",
		}, []string{"endpoint"}),
		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lend_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: ioBuckets,
		}, []string{"endpoint"}),
		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_query_errors_total",
			Help: "Query API errors",
		}, []string{"endpoint"}),
		QueryCache: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lend_query_cache_total",
			Help: "Query cache lookups by result",
		}, []string{"result"}),
	}
}
