package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"LendLedger/internal/core"
	"LendLedger/internal/observability"

	"github.com/rs/zerolog"
)

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The core sends with a BLOCKING send, so if this worker falls behind the
// core stalls and no event is lost.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *EventLogWriter
	inputChan    <-chan core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

type pendingBatch struct {
	events   []EventRow
	journals []JournalRow
	audits   []AuditRow
	applied  []time.Time
}

func (b *pendingBatch) reset() {
	b.events = b.events[:0]
	b.journals = b.journals[:0]
	b.audits = b.audits[:0]
	b.applied = b.applied[:0]
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 256
	}
	if flushTimeout <= 0 {
		flushTimeout = 50 * time.Millisecond
	}
	return &PersistenceWorker{
		db:           db,
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       logger,
	}
}

// Run batches incoming outputs and flushes when the batch is full or the
// flush timeout expires. Blocks until ctx is cancelled or the channel closes.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := &pendingBatch{
		events:   make([]EventRow, 0, pw.batchSize),
		journals: make([]JournalRow, 0, pw.batchSize*4),
	}

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Graceful shutdown: flush remaining
			if len(batch.events) > 0 {
				if err := pw.flush(context.Background(), batch); err != nil {
					pw.logger.Error().Err(err).Int("events", len(batch.events)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				if len(batch.events) > 0 {
					if err := pw.flush(context.Background(), batch); err != nil {
						pw.logger.Error().Err(err).Int("events", len(batch.events)).Msg("final flush failed")
					}
				}
				return nil
			}

			ev, journals, audits, err := RowsFromOutput(output)
			if err != nil {
				return fmt.Errorf("sequence %d: %w", output.Envelope.Sequence, err)
			}
			batch.events = append(batch.events, ev)
			batch.journals = append(batch.journals, journals...)
			batch.audits = append(batch.audits, audits...)
			batch.applied = append(batch.applied, time.Now())

			if len(batch.events) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("batch flush failed after retries")
				}
				batch.reset()
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(batch.events) > 0 {
				if err := pw.flushWithRetry(ctx, batch); err != nil {
					pw.logger.Error().Err(err).Msg("timeout flush failed after retries")
				}
				batch.reset()
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or the context is cancelled. The worker never drops events.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, batch *pendingBatch) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(batch.events)).
				Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				// one last attempt so the batch is not lost on shutdown
				if err := pw.flush(context.Background(), batch); err != nil {
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

		err := pw.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		pw.logger.Warn().Err(err).Msg("persistence flush failed")
	}
}

func (pw *PersistenceWorker) flush(ctx context.Context, batch *pendingBatch) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, tx, batch.events); err != nil {
		pw.countError("write_events")
		return fmt.Errorf("write events: %w", err)
	}
	if err := pw.writer.WriteJournalBatch(ctx, tx, batch.journals); err != nil {
		pw.countError("write_journals")
		return fmt.Errorf("write journals: %w", err)
	}
	if err := pw.writer.WriteAuditBatch(ctx, tx, batch.audits); err != nil {
		pw.countError("write_audit")
		return fmt.Errorf("write audit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return fmt.Errorf("commit: %w", err)
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistEventsWritten.Add(float64(len(batch.events)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(batch.journals)))
		pw.metrics.PersistAuditWritten.Add(float64(len(batch.audits)))
		pw.metrics.PersistLastSequence.Set(float64(batch.events[len(batch.events)-1].Sequence))
		now := time.Now()
		for _, applied := range batch.applied {
			pw.metrics.ApplyToPersist.Observe(now.Sub(applied).Seconds())
		}
	}
	return nil
}

func (pw *PersistenceWorker) countError(op string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(op).Inc()
	}
}
