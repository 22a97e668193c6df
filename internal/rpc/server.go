// Package rpc serves the standard gRPC health service, reporting whether the
// catalog store is reachable.
package rpc

import (
	"context"
	"errors"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/across/internal/logging"
)

// ServiceName is the health service name reported next to the overall ("")
// status.
const ServiceName = "across.v1.Catalog"

// HealthChecker reports storage reachability.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Option func(*Server)

// WithUnaryInterceptors appends interceptors after the request-id, tracing
// and error interceptors.
func WithUnaryInterceptors(in ...grpc.UnaryServerInterceptor) Option {
	return func(s *Server) { s.extra = append(s.extra, in...) }
}

// WithCheckTimeout bounds each storage ping.
func WithCheckTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

type Server struct {
	grpc    *grpc.Server
	health  *health.Server
	checker HealthChecker
	log     logging.Logger
	extra   []grpc.UnaryServerInterceptor
	timeout time.Duration
}

func New(checker HealthChecker, log logging.Logger, opts ...Option) *Server {
	if log == nil {
		log = logging.Noop()
	}
	s := &Server{checker: checker, log: log, health: health.NewServer(), timeout: 2 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	chain := append([]grpc.UnaryServerInterceptor{
		RequestIDUnaryServerInterceptor(log),
		TracingUnaryServerInterceptor(),
		ErrorUnaryServerInterceptor(),
	}, s.extra...)
	s.grpc = grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(chain...),
	)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// GRPC exposes the underlying server so callers can register more services.
func (s *Server) GRPC() *grpc.Server { return s.grpc }

// Refresh pings storage once and publishes the result.
func (s *Server) Refresh(ctx context.Context) {
	st := healthpb.HealthCheckResponse_SERVING
	if s.checker != nil {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		if err := s.checker.Ping(ctx); err != nil {
			s.log.Warn(ctx, "storage health check failed", logging.Err(err))
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.setStatus(st)
}

func (s *Server) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Serve refreshes health every interval and serves lis until ctx is
// cancelled, then stops gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener, interval time.Duration) error {
	s.Refresh(ctx)
	if interval > 0 {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.Refresh(ctx)
				}
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpc.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpc.GracefulStop()
		return nil
	}
}
