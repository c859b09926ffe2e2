package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"LendLedger/internal/ingestion"
	"LendLedger/internal/observability"
	"LendLedger/internal/persistence"
	"LendLedger/internal/projection"
	"LendLedger/internal/query"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// --- request / response messages ---

type AccountRequest struct {
	Account string `json:"account"`
}

type PageRequest struct {
	Account string `json:"account,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Before  int64  `json:"before,omitempty"` // exclusive cursor: sequence or epoch
}

type SubmitRequest struct {
	Source    string          `json:"source,omitempty"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

type SubmitResponse struct {
	Accepted  bool   `json:"accepted"`
	RequestID string `json:"request_id"`
	Partition string `json:"partition"`
}

type Empty struct{}

type JournalsResponse struct {
	Journals []query.JournalHistoryEntry `json:"journals"`
}

type PoolHistoryResponse struct {
	History []query.PoolHistoryEntry `json:"history"`
}

type AuditFeedResponse struct {
	Entries []projection.FeedEntry `json:"entries"`
}

type BreachesResponse struct {
	Accounts []query.DebtAccountResponse `json:"accounts"`
}

type EventLogInfoResponse struct {
	LastSequence int64     `json:"last_sequence"`
	Uptime       string    `json:"uptime"`
	StartedAt    time.Time `json:"started_at"`
}

type SnapshotResponse struct {
	Sequence  int64 `json:"sequence"`
	SizeBytes int   `json:"size_bytes"`
}

type RebuildResponse struct {
	Started bool `json:"started"`
}

// SnapshotFunc asks the core goroutine for a snapshot and returns its
// sequence and size.
type SnapshotFunc func(ctx context.Context) (int64, int, error)

// Deps holds all dependencies needed by the handlers.
type Deps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	IngestService *ingestion.GRPCIngestService
	SnapshotMgr   *persistence.SnapshotManager
	TakeSnapshot  SnapshotFunc
	StartTime     time.Time
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

// Handlers implements the query, ingest and admin APIs once; the gRPC
// service descriptors and the HTTP routes both call into it.
type Handlers struct {
	deps Deps
}

func NewHandlers(deps Deps) *Handlers {
	if deps.StartTime.IsZero() {
		deps.StartTime = time.Now()
	}
	return &Handlers{deps: deps}
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func pageSize(n int) int {
	if n <= 0 {
		return defaultPageSize
	}
	return min(n, maxPageSize)
}

func parseAccount(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, status.Error(codes.InvalidArgument, "account is required")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid account: %v", err)
	}
	return id, nil
}

func cursor(v int64) *int64 {
	if v <= 0 {
		return nil
	}
	return &v
}

// toStatus maps service errors onto gRPC codes; HTTP derives its status
// from the same code.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, ingestion.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// --- query ---

func (h *Handlers) GetAccountBalances(ctx context.Context, req *AccountRequest) (*query.BalancesResponse, error) {
	id, err := parseAccount(req.Account)
	if err != nil {
		return nil, err
	}
	resp, err := h.deps.QueryService.GetAccountBalances(ctx, id)
	return resp, toStatus(err)
}

func (h *Handlers) GetDebtAccount(ctx context.Context, req *AccountRequest) (*query.DebtAccountResponse, error) {
	id, err := parseAccount(req.Account)
	if err != nil {
		return nil, err
	}
	resp, err := h.deps.QueryService.GetDebtAccount(ctx, id)
	return resp, toStatus(err)
}

func (h *Handlers) GetVaultPool(ctx context.Context, _ *Empty) (*query.PoolResponse, error) {
	resp, err := h.deps.QueryService.GetVaultPool(ctx)
	return resp, toStatus(err)
}

func (h *Handlers) ListPoolHistory(ctx context.Context, req *PageRequest) (*PoolHistoryResponse, error) {
	history, err := h.deps.QueryService.GetPoolHistory(ctx, pageSize(req.Limit), cursor(req.Before))
	if err != nil {
		return nil, toStatus(err)
	}
	return &PoolHistoryResponse{History: history}, nil
}

func (h *Handlers) ListJournals(ctx context.Context, req *PageRequest) (*JournalsResponse, error) {
	id, err := parseAccount(req.Account)
	if err != nil {
		return nil, err
	}
	entries, err := h.deps.QueryService.GetJournalHistory(ctx, id, pageSize(req.Limit), cursor(req.Before))
	if err != nil {
		return nil, toStatus(err)
	}
	return &JournalsResponse{Journals: entries}, nil
}

func (h *Handlers) GetAuditFeed(ctx context.Context, req *PageRequest) (*AuditFeedResponse, error) {
	id, err := parseAccount(req.Account)
	if err != nil {
		return nil, err
	}
	entries, err := h.deps.QueryService.GetAuditFeed(ctx, id, pageSize(req.Limit))
	if err != nil {
		return nil, toStatus(err)
	}
	return &AuditFeedResponse{Entries: entries}, nil
}

func (h *Handlers) ListBreachedAccounts(ctx context.Context, req *PageRequest) (*BreachesResponse, error) {
	accounts, err := h.deps.QueryService.GetBreachedAccounts(ctx, pageSize(req.Limit))
	if err != nil {
		return nil, toStatus(err)
	}
	return &BreachesResponse{Accounts: accounts}, nil
}

// --- ingest ---

func (h *Handlers) SubmitCommand(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	if req.EventType == "" {
		return nil, status.Error(codes.InvalidArgument, "event_type is required")
	}
	source := req.Source
	if source == "" {
		source = "anonymous"
	}
	evt, err := h.deps.IngestService.Submit(ctx, source, req.EventType, req.Payload)
	if err != nil {
		if errors.Is(err, ingestion.ErrRateLimited) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, toStatus(err)
		}
		return nil, status.Errorf(codes.InvalidArgument, "parse payload: %v", err)
	}
	return &SubmitResponse{
		Accepted:  true,
		RequestID: evt.IdempotencyKey(),
		Partition: evt.PartitionKey(),
	}, nil
}

// --- admin ---

func (h *Handlers) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	report, err := h.deps.QueryService.VerifyIntegrity(ctx)
	return report, toStatus(err)
}

func (h *Handlers) RebuildProjections(ctx context.Context, _ *Empty) (*RebuildResponse, error) {
	if h.deps.DB == nil {
		return nil, status.Error(codes.FailedPrecondition, "no database")
	}
	if err := projection.RebuildProjections(ctx, h.deps.DB, h.deps.Logger); err != nil {
		return nil, status.Errorf(codes.Internal, "rebuild failed: %v", err)
	}
	if err := h.deps.QueryService.InvalidateCache(ctx); err != nil {
		h.deps.Logger.Warn().Err(err).Msg("cache invalidation after rebuild failed")
	}
	return &RebuildResponse{Started: true}, nil
}

func (h *Handlers) GetEventLogInfo(ctx context.Context, _ *Empty) (*EventLogInfoResponse, error) {
	if h.deps.SnapshotMgr == nil {
		return nil, status.Error(codes.FailedPrecondition, "no event log")
	}
	latestSeq, err := h.deps.SnapshotMgr.GetLatestSequence(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get latest sequence: %v", err)
	}
	return &EventLogInfoResponse{
		LastSequence: latestSeq,
		Uptime:       time.Since(h.deps.StartTime).Round(time.Second).String(),
		StartedAt:    h.deps.StartTime,
	}, nil
}

func (h *Handlers) TakeSnapshot(ctx context.Context, _ *Empty) (*SnapshotResponse, error) {
	if h.deps.TakeSnapshot == nil {
		return nil, status.Error(codes.Unimplemented, "snapshots disabled")
	}
	seq, size, err := h.deps.TakeSnapshot(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SnapshotResponse{Sequence: seq, SizeBytes: size}, nil
}

// observe records request metrics for one endpoint.
func (h *Handlers) observe(endpoint string, start time.Time, err error) {
	m := h.deps.Metrics
	if m == nil {
		return
	}
	m.QueryRequests.WithLabelValues(endpoint).Inc()
	m.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		m.QueryErrors.WithLabelValues(endpoint).Inc()
	}
}
