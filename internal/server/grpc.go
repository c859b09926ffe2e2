package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"LendLedger/internal/observability"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
)

const (
	QueryServiceName  = "lendledger.v1.Query"
	IngestServiceName = "lendledger.v1.Ingest"
	AdminServiceName  = "lendledger.v1.Admin"

	// SourceHeader identifies the submitter for ingest rate limiting.
	SourceHeader = "x-lend-source"
)

// API is the handler type registered with every service descriptor.
type API interface {
	SubmitCommand(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error)
}

// unary adapts a typed handler method to a grpc.MethodDesc handler.
func unary[Req any, Resp any](fullMethod string, call func(*Handlers, context.Context, *Req) (*Resp, error)) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		h := srv.(*Handlers)
		if interceptor == nil {
			return call(h, ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, req, info, func(ctx context.Context, r interface{}) (interface{}, error) {
			return call(h, ctx, r.(*Req))
		})
	}
}

func method[Req any, Resp any](service, name string, call func(*Handlers, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler:    unary(fmt.Sprintf("/%s/%s", service, name), call),
	}
}

var queryServiceDesc = grpc.ServiceDesc{
	ServiceName: QueryServiceName,
	HandlerType: (*API)(nil),
	Methods: []grpc.MethodDesc{
		method(QueryServiceName, "GetAccountBalances", (*Handlers).GetAccountBalances),
		method(QueryServiceName, "GetDebtAccount", (*Handlers).GetDebtAccount),
		method(QueryServiceName, "GetVaultPool", (*Handlers).GetVaultPool),
		method(QueryServiceName, "ListPoolHistory", (*Handlers).ListPoolHistory),
		method(QueryServiceName, "ListJournals", (*Handlers).ListJournals),
		method(QueryServiceName, "GetAuditFeed", (*Handlers).GetAuditFeed),
		method(QueryServiceName, "ListBreachedAccounts", (*Handlers).ListBreachedAccounts),
	},
}

var ingestServiceDesc = grpc.ServiceDesc{
	ServiceName: IngestServiceName,
	HandlerType: (*API)(nil),
	Methods: []grpc.MethodDesc{
		method(IngestServiceName, "SubmitCommand", func(h *Handlers, ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
			if req.Source == "" {
				if md, ok := metadata.FromIncomingContext(ctx); ok {
					if v := md.Get(SourceHeader); len(v) > 0 {
						req.Source = v[0]
					}
				}
			}
			return h.SubmitCommand(ctx, req)
		}),
	},
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: AdminServiceName,
	HandlerType: (*API)(nil),
	Methods: []grpc.MethodDesc{
		method(AdminServiceName, "VerifyIntegrity", (*Handlers).VerifyIntegrity),
		method(AdminServiceName, "RebuildProjections", (*Handlers).RebuildProjections),
		method(AdminServiceName, "GetEventLogInfo", (*Handlers).GetEventLogInfo),
		method(AdminServiceName, "TakeSnapshot", (*Handlers).TakeSnapshot),
	},
}

// GRPCServer wraps the gRPC server and the HTTP/JSON gateway mux.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	handlers      *Handlers
	healthChecker *observability.HealthChecker
	logger        zerolog.Logger
}

// NewGRPCServer creates a new gRPC server with all services registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps Deps) *GRPCServer {
	handlers := NewHandlers(deps)
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(handlers.metricsInterceptor))
	RegisterServices(grpcServer, handlers)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	return &GRPCServer{
		grpcServer:    grpcServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		handlers:      handlers,
		healthChecker: deps.HealthChecker,
		logger:        deps.Logger,
	}
}

// RegisterServices attaches the query, ingest and admin services to s.
func RegisterServices(s grpc.ServiceRegistrar, h *Handlers) {
	s.RegisterService(&queryServiceDesc, h)
	s.RegisterService(&ingestServiceDesc, h)
	s.RegisterService(&adminServiceDesc, h)
}

func (h *Handlers) metricsInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := next(ctx, req)
	h.observe(info.FullMethod, start, err)
	return resp, err
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway serves the HTTP/JSON routes and health endpoints
// (blocking).
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	handler, err := NewHTTPHandler(s.handlers, s.healthChecker)
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
