package main

import (
	"context"
	"fmt"
	"time"

	"LendLedger/internal/core"
	"LendLedger/internal/event"
	"LendLedger/internal/observability"
	"LendLedger/internal/persistence"

	"github.com/rs/zerolog"
)

// coreLoop is the only goroutine that touches the deterministic core. Events
// from every intake source and snapshot requests are serialized through it.
type coreLoop struct {
	core        *core.DeterministicCore
	snapshots   *persistence.SnapshotManager
	events      <-chan event.Event
	requests    chan snapshotRequest
	interval    int64
	checkPeriod time.Duration
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

type snapshotRequest struct {
	ctx   context.Context
	reply chan snapshotResult
}

type snapshotResult struct {
	sequence int64
	size     int
	err      error
}

func newCoreLoop(
	c *core.DeterministicCore,
	snapshots *persistence.SnapshotManager,
	events <-chan event.Event,
	interval int64,
	checkPeriod time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *coreLoop {
	if checkPeriod <= 0 {
		checkPeriod = 10 * time.Second
	}
	return &coreLoop{
		core:        c,
		snapshots:   snapshots,
		events:      events,
		requests:    make(chan snapshotRequest),
		interval:    interval,
		checkPeriod: checkPeriod,
		metrics:     metrics,
		logger:      logger,
	}
}

func (l *coreLoop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.checkPeriod)
	defer ticker.Stop()

	lastSnapshot := l.core.GetSequence()
	for {
		select {
		case <-ctx.Done():
			l.drain()
			return ctx.Err()

		case evt := <-l.events:
			l.apply(evt)

		case <-ticker.C:
			if l.core.GetSequence()-lastSnapshot < l.interval {
				continue
			}
			seq, _, err := saveSnapshot(ctx, l.core, l.snapshots, l.metrics)
			if err != nil {
				l.logger.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			lastSnapshot = seq
			l.logger.Info().Int64("sequence", seq).Msg("periodic snapshot")

		case req := <-l.requests:
			seq, size, err := saveSnapshot(req.ctx, l.core, l.snapshots, l.metrics)
			if err == nil {
				lastSnapshot = seq
			}
			req.reply <- snapshotResult{sequence: seq, size: size, err: err}
		}
	}
}

// drain applies events already queued when intake stopped.
func (l *coreLoop) drain() {
	for {
		select {
		case evt := <-l.events:
			l.apply(evt)
		default:
			return
		}
	}
}

func (l *coreLoop) apply(evt event.Event) {
	if l.metrics != nil {
		l.metrics.ChannelSize.WithLabelValues("core_input").Set(float64(len(l.events)))
	}
	if err := l.core.ProcessEvent(evt); err != nil {
		l.logger.Error().Err(err).
			Str("event_type", evt.EventType().String()).
			Str("idempotency_key", evt.IdempotencyKey()).
			Msg("event not applied")
	}
}

// RequestSnapshot asks the loop to snapshot between two events and waits
// for the result.
func (l *coreLoop) RequestSnapshot(ctx context.Context) (int64, int, error) {
	req := snapshotRequest{ctx: ctx, reply: make(chan snapshotResult, 1)}
	select {
	case l.requests <- req:
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res.sequence, res.size, res.err
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}
}

// saveSnapshot captures the core state and stores it. It is taken from the
// live core, so it is marked verified at once.
func saveSnapshot(ctx context.Context, c *core.DeterministicCore, sm *persistence.SnapshotManager, metrics *observability.Metrics) (int64, int, error) {
	start := time.Now()
	state := c.CreateSnapshotState()

	size, err := sm.SaveSnapshot(ctx, &persistence.SnapshotData{
		Sequence:  state.Sequence,
		StateHash: state.StateHash[:],
		State:     *state,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return 0, 0, fmt.Errorf("save snapshot: %w", err)
	}
	if err := sm.MarkVerified(ctx, state.Sequence); err != nil {
		return 0, 0, fmt.Errorf("mark snapshot %d verified: %w", state.Sequence, err)
	}

	if metrics != nil {
		metrics.SnapshotTaken.Inc()
		metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
		metrics.SnapshotSizeBytes.Set(float64(size))
		metrics.SnapshotLastSeq.Set(float64(state.Sequence))
	}
	return state.Sequence, size, nil
}
