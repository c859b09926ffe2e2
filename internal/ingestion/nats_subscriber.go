package ingestion

import (
	"context"
	"fmt"
	"time"

	"LendLedger/internal/event"
	"LendLedger/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	CommandStream  = "LEND_COMMANDS"
	CommandSubject = "lend.commands"
)

// NATSSubscriber consumes lending commands from JetStream and feeds them
// to the shell as RawEvents. Producers publish to
// lend.commands.<EventType>.<partition>.
type NATSSubscriber struct {
	js        jetstream.JetStream
	eventChan chan<- RawEvent
	consumers []jetstream.ConsumeContext
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// RawEvent is an untyped command, ready for the shell to parse into a
// typed event.Event before sending it to the core.
type RawEvent struct {
	Subject   string
	EventType string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // ACK after the event reached the core channel
	NakFunc   func() // NAK on shutdown (will be redelivered)
}

// SubjectConfig binds one event type to its subject filter and durable
// consumer.
type SubjectConfig struct {
	Subject      string
	EventType    string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns one consumer per input event type, so a slow
// type cannot starve the others.
func DefaultSubjects() []SubjectConfig {
	var out []SubjectConfig
	for t := event.EventTypeAccountRegistered; t <= event.EventTypeWalletApproval; t++ {
		name := t.String()
		out = append(out, SubjectConfig{
			Subject:      fmt.Sprintf("%s.%s.>", CommandSubject, name),
			EventType:    name,
			ConsumerName: "ledger-" + name,
			StreamName:   CommandStream,
		})
	}
	return out
}

func NewNATSSubscriber(js jetstream.JetStream, eventChan chan<- RawEvent, metrics *observability.Metrics, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:        js,
		eventChan: eventChan,
		metrics:   metrics,
		logger:    logger,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		cfg := cfg
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			ns.observePull(cfg.EventType, msg)
			raw := RawEvent{
				Subject:   msg.Subject(),
				EventType: cfg.EventType,
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { _ = msg.Ack() },
				NakFunc:   func() { _ = msg.Nak() },
			}

			select {
			case ns.eventChan <- raw:
			case <-ctx.Done():
				_ = msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

func (ns *NATSSubscriber) observePull(eventType string, msg jetstream.Msg) {
	if ns.metrics == nil {
		return
	}
	if md, err := msg.Metadata(); err == nil {
		ns.metrics.NATSPullLatency.WithLabelValues(eventType).Observe(time.Since(md.Timestamp).Seconds())
	}
}

// EnsureStreams creates the command stream if it doesn't exist.
// FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      CommandStream,
		Subjects:  []string{CommandSubject + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", CommandStream, err)
	}
	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("lendledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
