package ingestion_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"LendLedger/internal/core"
	"LendLedger/internal/event"
	"LendLedger/internal/ingestion"
	"LendLedger/internal/observability"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func borrowPayload(t *testing.T) []byte {
	t.Helper()
	data, err := json.Marshal(callPayload(map[string]interface{}{"amount": 10}))
	require.NoError(t, err)
	return data
}

func TestGRPCIngest_RateLimitedPerSource(t *testing.T) {
	events := make(chan event.Event, 8)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	svc := ingestion.NewGRPCIngestService(events, 0.001, 2, metrics)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := svc.Submit(ctx, "ops", "BorrowRequest", borrowPayload(t))
		require.NoError(t, err)
	}
	_, err := svc.Submit(ctx, "ops", "BorrowRequest", borrowPayload(t))
	assert.ErrorIs(t, err, ingestion.ErrRateLimited)

	// another source has its own bucket
	_, err = svc.Submit(ctx, "admin", "BorrowRequest", borrowPayload(t))
	require.NoError(t, err)

	assert.Len(t, events, 3)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.IngestRateLimited.WithLabelValues("grpc")))
}

func TestGRPCIngest_ParseErrorNotQueued(t *testing.T) {
	events := make(chan event.Event, 1)
	svc := ingestion.NewGRPCIngestService(events, 0, 0, nil)

	_, err := svc.Submit(context.Background(), "ops", "BorrowRequest", []byte(`{"amount": 1}`))
	assert.Error(t, err)
	assert.Empty(t, events)
}

func TestGRPCIngest_ContextCancelledWhileBlocked(t *testing.T) {
	events := make(chan event.Event) // unbuffered, nobody reading
	svc := ingestion.NewGRPCIngestService(events, 0, 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := svc.Submit(ctx, "ops", "BorrowRequest", borrowPayload(t))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatcher_AcksParsedAndDroppedCommands(t *testing.T) {
	rawChan := make(chan ingestion.RawEvent, 2)
	events := make(chan event.Event, 2)
	d := ingestion.NewDispatcher(rawChan, events, nil, zerolog.Nop())

	var acked []string
	rawChan <- ingestion.RawEvent{
		Subject: "lend.commands.BorrowRequest.x", EventType: "BorrowRequest",
		Data: borrowPayload(t), AckFunc: func() { acked = append(acked, "good") },
	}
	rawChan <- ingestion.RawEvent{
		Subject: "lend.commands.BorrowRequest.x", EventType: "BorrowRequest",
		Data: []byte("{"), AckFunc: func() { acked = append(acked, "bad") },
	}
	close(rawChan)

	require.NoError(t, d.Run(context.Background()))
	assert.Equal(t, []string{"good", "bad"}, acked)
	require.Len(t, events, 1)
	assert.IsType(t, &event.BorrowRequest{}, <-events)
}

type fakePublisher struct {
	subjects []string
	fail     bool
}

func (f *fakePublisher) Publish(_ context.Context, subject string, _ []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.fail {
		return nil, errors.New("nats: no responders")
	}
	f.subjects = append(f.subjects, subject)
	return &jetstream.PubAck{}, nil
}

func TestAuditPublisher_RecordsAndRejections(t *testing.T) {
	pub := &fakePublisher{}
	ap := ingestion.NewAuditPublisher(pub, nil, nil, zerolog.Nop())
	account := uuid.MustParse(accountID)

	err := ap.Publish(context.Background(), core.CoreOutput{
		Envelope: &event.EventEnvelope{Sequence: 4, EventType: event.EventTypeBorrowRequest},
		Records: []event.AuditRecord{
			{Kind: event.AuditDebtIncreased, Account: account, Amount: 150},
			{Kind: event.AuditFeePaid, Account: account, Amount: 1},
		},
	})
	require.NoError(t, err)

	err = ap.Publish(context.Background(), core.CoreOutput{
		Envelope: &event.EventEnvelope{Sequence: 5, EventType: event.EventTypeBorrowRequest, Rejected: true, RejectReason: "utilization cap"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"lend.audit.debt_increased." + accountID,
		"lend.audit.fee_paid." + accountID,
		"lend.rejected.BorrowRequest",
	}, pub.subjects)
}

func TestAuditPublisher_CountsDrops(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	ap := ingestion.NewAuditPublisher(&fakePublisher{fail: true}, nil, metrics, zerolog.Nop())

	err := ap.Publish(context.Background(), core.CoreOutput{
		Envelope: &event.EventEnvelope{Sequence: 1, EventType: event.EventTypeVaultDeposit},
		Records:  []event.AuditRecord{{Kind: event.AuditVaultDeposit}, {Kind: event.AuditVaultDeposit}},
	})
	assert.Error(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.PublishDrops))
}
