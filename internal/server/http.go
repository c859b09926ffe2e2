package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"LendLedger/internal/observability"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/status"
)

const maxCommandBytes = 1 << 20

type route struct {
	method  string
	pattern string
	name    string
	call    func(h *Handlers, r *http.Request, params map[string]string) (interface{}, error)
}

var routes = []route{
	{"GET", "/v1/accounts/{account}/balances", "GetAccountBalances", func(h *Handlers, r *http.Request, p map[string]string) (interface{}, error) {
		return h.GetAccountBalances(r.Context(), &AccountRequest{Account: p["account"]})
	}},
	{"GET", "/v1/accounts/{account}/debt", "GetDebtAccount", func(h *Handlers, r *http.Request, p map[string]string) (interface{}, error) {
		return h.GetDebtAccount(r.Context(), &AccountRequest{Account: p["account"]})
	}},
	{"GET", "/v1/accounts/{account}/journals", "ListJournals", func(h *Handlers, r *http.Request, p map[string]string) (interface{}, error) {
		req := pageFromQuery(r)
		req.Account = p["account"]
		return h.ListJournals(r.Context(), req)
	}},
	{"GET", "/v1/accounts/{account}/audit", "GetAuditFeed", func(h *Handlers, r *http.Request, p map[string]string) (interface{}, error) {
		req := pageFromQuery(r)
		req.Account = p["account"]
		return h.GetAuditFeed(r.Context(), req)
	}},
	{"GET", "/v1/vault/pool", "GetVaultPool", func(h *Handlers, r *http.Request, _ map[string]string) (interface{}, error) {
		return h.GetVaultPool(r.Context(), &Empty{})
	}},
	{"GET", "/v1/vault/history", "ListPoolHistory", func(h *Handlers, r *http.Request, _ map[string]string) (interface{}, error) {
		return h.ListPoolHistory(r.Context(), pageFromQuery(r))
	}},
	{"GET", "/v1/breaches", "ListBreachedAccounts", func(h *Handlers, r *http.Request, _ map[string]string) (interface{}, error) {
		return h.ListBreachedAccounts(r.Context(), pageFromQuery(r))
	}},
	{"POST", "/v1/commands/{event_type}", "SubmitCommand", func(h *Handlers, r *http.Request, p map[string]string) (interface{}, error) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes))
		if err != nil {
			return nil, err
		}
		return h.SubmitCommand(r.Context(), &SubmitRequest{
			Source:    r.Header.Get(SourceHeader),
			EventType: p["event_type"],
			Payload:   body,
		})
	}},
	{"GET", "/v1/admin/integrity", "VerifyIntegrity", func(h *Handlers, r *http.Request, _ map[string]string) (interface{}, error) {
		return h.VerifyIntegrity(r.Context(), &Empty{})
	}},
	{"POST", "/v1/admin/projections/rebuild", "RebuildProjections", func(h *Handlers, r *http.Request, _ map[string]string) (interface{}, error) {
		return h.RebuildProjections(r.Context(), &Empty{})
	}},
	{"GET", "/v1/admin/event-log", "GetEventLogInfo", func(h *Handlers, r *http.Request, _ map[string]string) (interface{}, error) {
		return h.GetEventLogInfo(r.Context(), &Empty{})
	}},
	{"POST", "/v1/admin/snapshots", "TakeSnapshot", func(h *Handlers, r *http.Request, _ map[string]string) (interface{}, error) {
		return h.TakeSnapshot(r.Context(), &Empty{})
	}},
}

// NewHTTPHandler builds the HTTP/JSON surface on a grpc-gateway runtime
// mux, plus /healthz and /readyz.
func NewHTTPHandler(h *Handlers, healthChecker *observability.HealthChecker) (http.Handler, error) {
	mux := runtime.NewServeMux()
	for _, rt := range routes {
		rt := rt
		err := mux.HandlePath(rt.method, rt.pattern, func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			start := time.Now()
			resp, err := rt.call(h, r, params)
			h.observe("http."+rt.name, start, err)
			writeJSON(w, resp, err)
		})
		if err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}

	httpMux := http.NewServeMux()
	if healthChecker != nil {
		httpMux.HandleFunc("/healthz", healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", healthChecker.ReadinessHandler)
	}
	httpMux.Handle("/", mux)
	return httpMux, nil
}

func pageFromQuery(r *http.Request) *PageRequest {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	before, _ := strconv.ParseInt(q.Get("before"), 10, 64)
	return &PageRequest{Limit: limit, Before: before}
}

func writeJSON(w http.ResponseWriter, resp interface{}, err error) {
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		st := status.Convert(toStatus(err))
		w.WriteHeader(runtime.HTTPStatusFromCode(st.Code()))
		_ = json.NewEncoder(w).Encode(map[string]string{
			"code":    st.Code().String(),
			"message": st.Message(),
		})
		return
	}
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
