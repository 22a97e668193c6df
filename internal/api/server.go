// Package api is the HTTP transport: gin routes over the schedule,
// observation, visibility and resolver services.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/signalsfoundry/across/internal/logging"
	"github.com/signalsfoundry/across/internal/observation"
	"github.com/signalsfoundry/across/internal/resolver"
	"github.com/signalsfoundry/across/internal/schedule"
	"github.com/signalsfoundry/across/internal/visibility"
	"github.com/signalsfoundry/across/model"
)

type ScheduleService interface {
	Create(ctx context.Context, c schedule.Create, createdBy uuid.UUID) (uuid.UUID, error)
	CreateMany(ctx context.Context, creates []schedule.Create, createdBy uuid.UUID) ([]uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID, withObservations bool) (*model.Schedule, error)
	List(ctx context.Context, p schedule.ReadParams) (model.Page[*model.Schedule], error)
	History(ctx context.Context, p schedule.ReadParams) (model.Page[*model.Schedule], error)
}

type ObservationService interface {
	List(ctx context.Context, p observation.ReadParams) (model.Page[*model.Observation], error)
	Get(ctx context.Context, id uuid.UUID) (*model.Observation, error)
	OverlapPoint(ctx context.Context, p observation.OverlapParams) (model.Page[*model.Observation], error)
}

type VisibilityService interface {
	Windows(ctx context.Context, instrumentID uuid.UUID, q visibility.Query) (*visibility.Result, error)
	Joint(ctx context.Context, instrumentIDs []uuid.UUID, q visibility.Query) (*visibility.JointResult, error)
}

type NameResolver interface {
	Resolve(ctx context.Context, name string) (*resolver.Result, error)
}

// HealthChecker reports storage reachability.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// MetricsRecorder receives one observation per handled request.
type MetricsRecorder interface {
	ObserveHTTP(method, route string, code int, d time.Duration)
}

// Services are the collaborators behind the routes. Resolver and Health may
// be nil.
type Services struct {
	Schedules    ScheduleService
	Observations ObservationService
	Visibility   VisibilityService
	Resolver     NameResolver
	Health       HealthChecker
}

type Option func(*Server)

// WithAuthenticator protects write routes with bearer tokens.
func WithAuthenticator(a *Authenticator) Option {
	return func(s *Server) { s.auth = a }
}

func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Server) { s.metrics = m }
}

// Server bundles the gin engine and its collaborators.
type Server struct {
	svc     Services
	auth    *Authenticator
	metrics MetricsRecorder
	log     logging.Logger
	engine  *gin.Engine
}

func New(svc Services, log logging.Logger, opts ...Option) *Server {
	if log == nil {
		log = logging.Noop()
	}
	s := &Server{svc: svc, log: log}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), s.requestScope(), s.tracing(), s.accessLog())
	s.registerRoutes()
	return s
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine { return s.engine }

// Serve runs the HTTP server on lis until ctx is cancelled, then drains
// in-flight requests for at most shutdownTimeout.
func (s *Server) Serve(ctx context.Context, lis net.Listener, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)

	sched := s.engine.Group("/schedule")
	sched.POST("", s.requireScope(ScopeScheduleWrite), s.handleCreateSchedule)
	sched.POST("/bulk", s.requireScope(ScopeScheduleWrite), s.handleCreateSchedules)
	sched.GET("/", s.handleListSchedules)
	sched.GET("/history", s.handleScheduleHistory)
	sched.GET("/:id", s.handleGetSchedule)

	obs := s.engine.Group("/observation")
	obs.GET("/", s.handleListObservations)
	obs.GET("/overlap", s.handleOverlap)
	obs.GET("/:id", s.handleGetObservation)

	tools := s.engine.Group("/tools")
	tools.GET("/visibility-calculator/windows/", s.handleJointWindows)
	tools.GET("/visibility-calculator/windows/:instrument_id", s.handleWindows)
	tools.GET("/resolve-object/", s.handleResolve)
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.svc.Health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.svc.Health.Ping(ctx); err != nil {
			logging.FromContext(ctx, s.log).Warn(ctx, "health check failed", logging.Err(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
