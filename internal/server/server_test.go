package server_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"LendLedger/internal/event"
	"LendLedger/internal/ingestion"
	"LendLedger/internal/projection"
	"LendLedger/internal/query"
	"LendLedger/internal/server"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const borrowJSON = `{
	"request_id": "550e8400-e29b-41d4-a716-446655440000",
	"account": "660e8400-e29b-41d4-a716-446655440001",
	"caller": "660e8400-e29b-41d4-a716-446655440001",
	"sequence": 3,
	"amount": 150
}`

type fixture struct {
	handlers *server.Handlers
	events   chan event.Event
	feed     *projection.AuditFeed
}

func newFixture(perSecond float64, burst int) *fixture {
	events := make(chan event.Event, 8)
	feed := projection.NewAuditFeed(32)
	h := server.NewHandlers(server.Deps{
		QueryService:  query.NewQueryService(nil, nil, feed),
		IngestService: ingestion.NewGRPCIngestService(events, perSecond, burst, nil),
		Logger:        zerolog.Nop(),
	})
	return &fixture{handlers: h, events: events, feed: feed}
}

func TestHTTP_SubmitCommand(t *testing.T) {
	f := newFixture(0, 0)
	handler, err := server.NewHTTPHandler(f.handlers, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/commands/BorrowRequest", strings.NewReader(borrowJSON))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp server.SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Accepted)
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", resp.RequestID)
	assert.Equal(t, "account:660e8400-e29b-41d4-a716-446655440001", resp.Partition)

	require.Len(t, f.events, 1)
	assert.Equal(t, int64(150), (<-f.events).(*event.BorrowRequest).Amount)
}

func TestHTTP_BadPayloadIsBadRequest(t *testing.T) {
	f := newFixture(0, 0)
	handler, err := server.NewHTTPHandler(f.handlers, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/commands/BorrowRequest", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.events)
}

func TestHTTP_RateLimitedIsTooManyRequests(t *testing.T) {
	f := newFixture(0.001, 1)
	handler, err := server.NewHTTPHandler(f.handlers, nil)
	require.NoError(t, err)

	got := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/commands/BorrowRequest", strings.NewReader(borrowJSON))
		req.Header.Set(server.SourceHeader, "ops")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		got = append(got, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, got)
}

func TestHTTP_AuditFeedAndInvalidAccount(t *testing.T) {
	f := newFixture(0, 0)
	account := uuid.New()
	f.feed.Add(9, []event.AuditRecord{{Kind: event.AuditCollateralAdded, Account: account, Quantity: 400}})

	handler, err := server.NewHTTPHandler(f.handlers, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/accounts/"+account.String()+"/audit?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp server.AuditFeedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, int64(9), resp.Entries[0].Sequence)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/accounts/not-a-uuid/audit", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGRPC_SubmitCommandOverJSONCodec(t *testing.T) {
	f := newFixture(0, 0)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	server.RegisterServices(srv, f.handlers)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	ctx := metadata.AppendToOutgoingContext(context.Background(), server.SourceHeader, "ops")
	req := &server.SubmitRequest{EventType: "BorrowRequest", Payload: json.RawMessage(borrowJSON)}
	var resp server.SubmitResponse
	require.NoError(t, conn.Invoke(ctx, "/"+server.IngestServiceName+"/SubmitCommand", req, &resp))
	assert.True(t, resp.Accepted)
	require.Len(t, f.events, 1)

	var pool query.PoolResponse
	err = conn.Invoke(ctx, "/"+server.QueryServiceName+"/GetDebtAccount", &server.AccountRequest{Account: "bad"}, &pool)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
