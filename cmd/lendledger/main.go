package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"LendLedger/internal/config"
	"LendLedger/internal/core"
	"LendLedger/internal/event"
	"LendLedger/internal/ingestion"
	"LendLedger/internal/observability"
	"LendLedger/internal/persistence"
	"LendLedger/internal/projection"
	"LendLedger/internal/query"
	"LendLedger/internal/server"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func main() {
	var configFile string

	root := &cobra.Command{
		Use:           "lendledger",
		Short:         "Collateralized lending ledger service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile)
		},
	}
	root.Flags().StringVarP(&configFile, "config", "c", "", "config file (env LENDLEDGER_* overrides it)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "lendledger:", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	logger := observability.NewLoggerWithOptions("lendledger", observability.LogOptions{
		Level: cfg.LogLevel,
		File:  cfg.LogFile,
	})
	logger.Info().Msg("LendLedger starting")

	if os.Getenv("GOGC") == "" {
		logger.Warn().Msg("GOGC not set, recommend GOGC=400 for production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics(nil)
	healthChecker := observability.NewHealthChecker()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	healthChecker.AddCheck("postgres", db.PingContext)

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, logger.With().Str("subsystem", "migrator").Logger())
	applied, err := migrator.Up(ctx)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Int("applied", applied).Msg("migrations up to date")

	// --- Market ---
	market, err := config.LoadMarket(cfg.MarketFile)
	if err != nil {
		return err
	}
	logger.Info().
		Uint16("asset", uint16(market.Vault.Asset)).
		Int64("ltv_bps", market.Risk.LTVBps).
		Int64("max_utilization_bps", market.Vault.MaxUtilizationBps).
		Str("curve", market.CurveSpec.Kind).
		Dur("epoch", time.Duration(market.Vault.Clock.DurationMicros)*time.Microsecond).
		Msg("market loaded")

	// --- Channels ---
	// persist blocks (backpressure); projection and publish drop when full
	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	coreOutChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	publishChan := make(chan core.CoreOutput, cfg.PublishChanSize)
	eventChan := make(chan event.Event, cfg.InputChanSize)
	rawChan := make(chan ingestion.RawEvent, cfg.InputChanSize)

	// --- Deterministic core ---
	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	deterministicCore, err := core.NewDeterministicCore(ctx,
		market.CoreConfig(0, cfg.IdempotencyTTL),
		persistChan, coreOutChan, dbChecker, metrics,
		logger.With().Str("subsystem", "core").Logger(),
	)
	if err != nil {
		return fmt.Errorf("create core: %w", err)
	}
	defer deterministicCore.Close()

	// Intake (NATS, gRPC, HTTP, the core loop) stops with ctx. Output
	// workers run on their own context and stop when their channels close,
	// so everything the core applied is persisted before the final snapshot.
	errChan := make(chan error, 16)
	intake := newWorkerGroup(ctx, errChan, logger)
	drainCtx, drainCancel := context.WithCancel(context.Background())
	defer drainCancel()
	output := newWorkerGroup(drainCtx, errChan, logger)

	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout,
		metrics, logger.With().Str("subsystem", "persist").Logger())
	persistDone := output.start("persist", persistWorker.Run)

	feed := projection.NewAuditFeed(cfg.AuditFeedCapacity)
	projWorker := projection.NewProjectionWorker(db, projectionChan, feed, metrics,
		logger.With().Str("subsystem", "projection").Logger())
	projectionDone := output.start("projection", projWorker.Run)

	// replayed outputs were published by the previous run
	var publishFrom atomic.Int64
	publishFrom.Store(math.MaxInt64)
	teeDone := make(chan struct{})
	go func() {
		defer close(teeDone)
		teeCoreOutputs(coreOutChan, projectionChan, publishChan, &publishFrom, metrics)
	}()

	// --- Recovery ---
	snapMgr := persistence.NewSnapshotManager(db)
	replayed, err := persistence.Recover(ctx, deterministicCore, snapMgr, metrics,
		logger.With().Str("subsystem", "recovery").Logger())
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	publishFrom.Store(deterministicCore.GetSequence())
	logger.Info().Int("replayed", replayed).Int64("sequence", deterministicCore.GetSequence()).Msg("state recovered")

	// --- Redis query cache ---
	var cache *query.Cache
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		cache = query.NewCache(rdb, cfg.CacheTTL, metrics)
		healthChecker.AddCheck("redis", cache.Ping)
	}
	queryService := query.NewQueryService(db, cache, feed)

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, logger.With().Str("subsystem", "nats").Logger())
	if err != nil {
		return err
	}
	defer nc.Close()
	healthChecker.AddCheck("nats", func(context.Context) error {
		if !nc.IsConnected() {
			return errors.New("nats disconnected")
		}
		return nil
	})

	if err := ingestion.EnsureStreams(ctx, js); err != nil {
		return fmt.Errorf("ensure command stream: %w", err)
	}
	if err := ingestion.EnsureAuditStream(ctx, js); err != nil {
		return fmt.Errorf("ensure audit stream: %w", err)
	}

	publisher := ingestion.NewAuditPublisher(js, publishChan, metrics, logger.With().Str("subsystem", "publisher").Logger())
	publisherDone := output.start("publisher", publisher.Run)

	subscriber := ingestion.NewNATSSubscriber(js, rawChan, metrics, logger.With().Str("subsystem", "subscriber").Logger())
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	dispatcher := ingestion.NewDispatcher(rawChan, eventChan, metrics, logger.With().Str("subsystem", "dispatcher").Logger())
	intake.start("dispatcher", dispatcher.Run)

	// --- Core loop ---
	loop := newCoreLoop(deterministicCore, snapMgr, eventChan, cfg.SnapshotInterval, cfg.SnapshotCheckPeriod,
		metrics, logger.With().Str("subsystem", "core_loop").Logger())
	coreDone := intake.start("core", loop.Run)

	// --- gRPC + HTTP ---
	ingestService := ingestion.NewGRPCIngestService(eventChan, cfg.IngestRatePerSecond, cfg.IngestBurst, metrics)
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, server.Deps{
		DB:            db,
		QueryService:  queryService,
		IngestService: ingestService,
		SnapshotMgr:   snapMgr,
		TakeSnapshot:  loop.RequestSnapshot,
		StartTime:     time.Now(),
		HealthChecker: healthChecker,
		Metrics:       metrics,
		Logger:        logger.With().Str("subsystem", "api").Logger(),
	})
	intake.start("grpc", grpcServer.StartGRPC)
	intake.start("http", grpcServer.StartHTTPGateway)
	intake.start("metrics", func(ctx context.Context) error {
		return serveMetrics(ctx, cfg.MetricsAddr, healthChecker, logger)
	})

	healthChecker.SetReady(true)
	logger.Info().
		Int64("sequence", deterministicCore.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("LendLedger ready")

	// --- Wait for shutdown ---
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case runErr = <-errChan:
		logger.Error().Err(runErr).Msg("worker failed, shutting down")
	}

	healthChecker.SetReady(false)
	subscriber.Stop()
	intake.stop()
	<-coreDone

	close(persistChan)
	<-persistDone
	close(coreOutChan)
	<-teeDone
	select {
	case <-waitAll(projectionDone, publisherDone):
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("projection/publisher drain timed out")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if seq, size, err := saveSnapshot(shutdownCtx, deterministicCore, snapMgr, metrics); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else {
		logger.Info().Int64("sequence", seq).Int("size_bytes", size).Msg("final snapshot saved")
	}

	logger.Info().Msg("LendLedger shutdown complete")
	return runErr
}

func serveMetrics(ctx context.Context, addr string, health *observability.HealthChecker, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.LivenessHandler)
	mux.HandleFunc("/readyz", health.ReadinessHandler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

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

// teeCoreOutputs fans core outputs out to the projection worker and the
// audit publisher. Neither may stall the core, so both sends drop when full.
func teeCoreOutputs(in <-chan core.CoreOutput, projection, publish chan<- core.CoreOutput, publishFrom *atomic.Int64, metrics *observability.Metrics) {
	defer close(projection)
	defer close(publish)
	for out := range in {
		select {
		case projection <- out:
		default:
			metrics.ProjectionDrops.WithLabelValues("projection").Inc()
		}
		if out.Envelope.Sequence < publishFrom.Load() {
			continue
		}
		select {
		case publish <- out:
		default:
			metrics.PublishDrops.Inc()
		}
	}
}
