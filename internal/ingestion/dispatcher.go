package ingestion

import (
	"context"

	"LendLedger/internal/event"
	"LendLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Dispatcher parses RawEvents and forwards them to the core's input
// channel. Messages are acked once the typed event is on the channel,
// not after the core applied it, so a slow core backs up into NATS
// instead of expiring AckWait. Unparseable messages are acked and
// dropped to avoid a redelivery loop.
type Dispatcher struct {
	rawChan   <-chan RawEvent
	eventChan chan<- event.Event
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewDispatcher(rawChan <-chan RawEvent, eventChan chan<- event.Event, metrics *observability.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{rawChan: rawChan, eventChan: eventChan, metrics: metrics, logger: logger}
}

func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-d.rawChan:
			if !ok {
				return nil
			}

			evt, err := ParseRawEvent(raw, raw.EventType)
			if err != nil {
				d.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping unparseable command")
				if d.metrics != nil {
					d.metrics.IngestParseErrors.WithLabelValues(raw.EventType).Inc()
				}
				ack(raw)
				continue
			}

			select {
			case d.eventChan <- evt:
				ack(raw)
				if d.metrics != nil {
					d.metrics.ChannelSize.WithLabelValues("core_input").Set(float64(len(d.eventChan)))
				}
			case <-ctx.Done():
				if raw.NakFunc != nil {
					raw.NakFunc()
				}
				return ctx.Err()
			}
		}
	}
}

func ack(raw RawEvent) {
	if raw.AckFunc != nil {
		raw.AckFunc()
	}
}
