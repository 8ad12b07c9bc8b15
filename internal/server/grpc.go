package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"PLPLedger/internal/observability"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// GRPCServer wraps the gRPC server and the HTTP gateway mux.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	healthServer  *health.Server
	grpcAddr      string
	httpAddr      string
	handlers      *handlers
	healthChecker *observability.HealthChecker
	metrics       *observability.Metrics
	log           zerolog.Logger
}

// ServerDeps holds all dependencies needed by the services.
type ServerDeps struct {
	Query         Querier
	Commands      Commander
	Admin         Admin
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

// NewGRPCServer creates a new gRPC server with all services registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	s := &GRPCServer{
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		handlers:      &handlers{q: deps.Query, cmd: deps.Commands, admin: deps.Admin},
		healthChecker: deps.HealthChecker,
		metrics:       deps.Metrics,
		log:           deps.Logger,
	}

	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(s.observe))
	s.grpcServer.RegisterService(&queryServiceDesc, s.handlers)
	s.grpcServer.RegisterService(&commandServiceDesc, s.handlers)
	s.grpcServer.RegisterService(&adminServiceDesc, s.handlers)

	s.healthServer = health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.healthServer)
	s.SetServing(false)

	return s
}

// SetServing flips the gRPC health status; it follows engine readiness.
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.healthServer.SetServingStatus("", st)
	for _, name := range []string{QueryServiceName, CommandServiceName, AdminServiceName} {
		s.healthServer.SetServingStatus(name, st)
	}
}

// observe logs and counts every unary call.
func (s *GRPCServer) observe(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := next(ctx, req)
	s.record(info.FullMethod, start, err)
	return resp, err
}

func (s *GRPCServer) record(endpoint string, start time.Time, err error) {
	code := status.Code(toStatus(err))
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint, code.String()).Inc()
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		s.log.Debug().Err(err).Str("endpoint", endpoint).Str("code", code.String()).Msg("request failed")
	}
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.ServeGRPC(ctx, lis)
}

// ServeGRPC serves on lis until ctx is done.
func (s *GRPCServer) ServeGRPC(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.log.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// Handler returns the HTTP surface: gateway routes plus health probes.
func (s *GRPCServer) Handler() (http.Handler, error) {
	mux := runtime.NewServeMux()
	if err := s.registerRoutes(mux); err != nil {
		return nil, err
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	httpMux.Handle("/", mux)
	return httpMux, nil
}

// StartHTTPGateway starts the HTTP/JSON server (blocking).
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	handler, err := s.Handler()
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
		s.log.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
