package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"LendLedger/internal/core"
	"LendLedger/internal/event"
	"LendLedger/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	AuditStream     = "LEND_AUDIT"
	AuditSubject    = "lend.audit"
	RejectedSubject = "lend.rejected"
)

// Publisher is the part of jetstream.JetStream the outbound path uses.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// AuditMessage is one published audit record.
type AuditMessage struct {
	Sequence  int64             `json:"sequence"`
	EventType string            `json:"event_type"`
	RequestID string            `json:"request_id"`
	Record    event.AuditRecord `json:"record"`
	StateHash string            `json:"state_hash"`
	Timestamp time.Time         `json:"timestamp"`
}

// RejectionMessage tells the submitter its command was refused.
type RejectionMessage struct {
	Sequence  int64  `json:"sequence"`
	EventType string `json:"event_type"`
	RequestID string `json:"request_id"`
	Reason    string `json:"reason"`
}

// AuditPublisher fans the audit trail out to NATS for downstream
// consumers: lend.audit.<kind>.<account> per record and
// lend.rejected.<event_type> per rejected command. Publishing is best
// effort; the event log is the source of truth.
type AuditPublisher struct {
	js        Publisher
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewAuditPublisher(js Publisher, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *AuditPublisher {
	return &AuditPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
	}
}

func (ap *AuditPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out, ok := <-ap.inputChan:
			if !ok {
				return nil
			}
			if err := ap.Publish(ctx, out); err != nil {
				ap.logger.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("audit publish failed")
			}
		}
	}
}

// Publish sends every message derived from one core output and returns
// the first error.
func (ap *AuditPublisher) Publish(ctx context.Context, out core.CoreOutput) error {
	env := out.Envelope
	if env == nil {
		return nil
	}
	var firstErr error
	keep := func(err error) {
		if err != nil {
			if ap.metrics != nil {
				ap.metrics.PublishDrops.Inc()
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if env.Rejected {
		keep(ap.send(ctx, fmt.Sprintf("%s.%s", RejectedSubject, env.EventType), RejectionMessage{
			Sequence:  env.Sequence,
			EventType: env.EventType.String(),
			RequestID: env.IdempotencyKey,
			Reason:    env.RejectReason,
		}))
		return firstErr
	}

	for _, rec := range out.Records {
		subject := fmt.Sprintf("%s.%s.%s", AuditSubject, rec.Kind, rec.Account)
		keep(ap.send(ctx, subject, AuditMessage{
			Sequence:  env.Sequence,
			EventType: env.EventType.String(),
			RequestID: env.IdempotencyKey,
			Record:    rec,
			StateHash: fmt.Sprintf("%x", env.StateHash),
			Timestamp: env.Timestamp,
		}))
	}
	return firstErr
}

func (ap *AuditPublisher) send(ctx context.Context, subject string, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	_, err = ap.js.Publish(ctx, subject, data)
	return err
}

// EnsureAuditStream creates the outbound audit stream.
func EnsureAuditStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      AuditStream,
		Subjects:  []string{AuditSubject + ".>", RejectedSubject + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", AuditStream, err)
	}
	return nil
}
