package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"LendLedger/internal/event"
	"LendLedger/internal/observability"

	"golang.org/x/time/rate"
)

var ErrRateLimited = errors.New("ingestion: rate limited")

// GRPCIngestService accepts commands over gRPC for admin tooling and
// manual injection. NATS stays the high-throughput path. Each source
// (caller identity) gets its own token bucket.
type GRPCIngestService struct {
	eventChan chan<- event.Event
	limit     rate.Limit
	burst     int
	metrics   *observability.Metrics

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewGRPCIngestService(eventChan chan<- event.Event, perSecond float64, burst int, metrics *observability.Metrics) *GRPCIngestService {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &GRPCIngestService{
		eventChan: eventChan,
		limit:     limit,
		burst:     burst,
		metrics:   metrics,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Submit parses payload as eventType and queues it for the core. It
// returns once the command is queued, not applied; the outcome appears in
// the event log and on lend.rejected.
func (s *GRPCIngestService) Submit(ctx context.Context, source, eventType string, payload []byte) (event.Event, error) {
	if !s.limiter(source).Allow() {
		if s.metrics != nil {
			s.metrics.IngestRateLimited.WithLabelValues("grpc").Inc()
		}
		return nil, fmt.Errorf("%w: source %q", ErrRateLimited, source)
	}

	evt, err := ParseRawEvent(RawEvent{Subject: "grpc", EventType: eventType, Data: payload}, eventType)
	if err != nil {
		if s.metrics != nil {
			s.metrics.IngestParseErrors.WithLabelValues(eventType).Inc()
		}
		return nil, err
	}

	select {
	case s.eventChan <- evt:
		return evt, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *GRPCIngestService) limiter(source string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[source]
	if !ok {
		l = rate.NewLimiter(s.limit, s.burst)
		s.limiters[source] = l
	}
	return l
}
