package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/across/internal/api"
	"github.com/signalsfoundry/across/internal/cache"
	"github.com/signalsfoundry/across/internal/config"
	"github.com/signalsfoundry/across/internal/ephemeris"
	"github.com/signalsfoundry/across/internal/events"
	"github.com/signalsfoundry/across/internal/logging"
	"github.com/signalsfoundry/across/internal/observability"
	"github.com/signalsfoundry/across/internal/observation"
	"github.com/signalsfoundry/across/internal/resolver"
	"github.com/signalsfoundry/across/internal/rpc"
	"github.com/signalsfoundry/across/internal/schedule"
	"github.com/signalsfoundry/across/internal/store"
	"github.com/signalsfoundry/across/internal/tlesync"
	"github.com/signalsfoundry/across/internal/visibility"
	"github.com/signalsfoundry/across/internal/worker"
	"github.com/signalsfoundry/across/kb"
)

const serviceName = "across"

// healthInterval is how often the gRPC health status re-pings storage.
const healthInterval = 15 * time.Second

// backend is everything the services read and write. Both the in-memory
// knowledge base and the PostgreSQL store satisfy it.
type backend interface {
	schedule.Store
	observation.Store
	visibility.InstrumentLoader
	ephemeris.ObservatoryLoader
	ephemeris.TLELoader
	tlesync.Store
	rpc.HealthChecker
}

func main() {
	configPath := flag.String("config", "", "Path to a YAML configuration file")
	envFile := flag.String("env-file", ".env", "Path to a .env file; ignored when missing")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logging.New(cfg.Logging())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpLis, err := net.Listen("tcp", cfg.Server.HTTPAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for HTTP", logging.String("addr", cfg.Server.HTTPAddr), logging.Err(err))
		os.Exit(1)
	}
	grpcLis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.Server.GRPCAddr), logging.Err(err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, log, httpLis, grpcLis); err != nil {
		log.Error(ctx, "server exited", logging.Err(err))
		os.Exit(1)
	}
}

// run wires every component and serves until ctx is cancelled.
func run(ctx context.Context, cfg config.Config, log logging.Logger, httpLis, grpcLis net.Listener) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.TracingSetup(serviceName), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := observability.NewCollector(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	domain, err := observability.NewDomainCollector(reg)
	if err != nil {
		return fmt.Errorf("init domain metrics: %w", err)
	}
	if metricsSrv := serveMetrics(cfg.Server.MetricsAddr, collector, log); metricsSrv != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	data, closeStore, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	pool := worker.New(cfg.Workers.Size)
	selector := ephemeris.NewSelector(data, log,
		ephemeris.WithMetricsRecorder(domain),
		ephemeris.WithComputer(ephemeris.NewTLEComputer(data, pool)),
		ephemeris.WithComputer(ephemeris.NewJPLComputer(
			ephemeris.NewHorizonsClient(&http.Client{Timeout: cfg.JPL.Timeout}, cfg.JPL.BaseURL), pool)),
		ephemeris.WithComputer(ephemeris.NewSpiceComputer(
			ephemeris.NewHTTPKernelLoader(&http.Client{Timeout: cfg.Spice.Timeout}, cfg.Spice.CacheDir), pool)),
		ephemeris.WithComputer(ephemeris.NewGroundComputer(pool)),
	)
	calculator := visibility.NewCalculator(data, selector, pool, cfg.VisibilityEngine(), log,
		visibility.WithMetricsRecorder(domain))
	observations := observation.NewService(data, pool, nil, cfg.OverlapWindows(), log)

	scheduleOpts := []schedule.Option{schedule.WithMetricsRecorder(domain)}
	if cfg.NATS.URL != "" {
		pub, err := events.Connect(cfg.NATS.URL, cfg.NATS.Stream, cfg.NATS.Subject, log)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer pub.Close()
		scheduleOpts = append(scheduleOpts, schedule.WithPublisher(pub))
	}
	schedules := schedule.NewService(data, pool, nil, log, scheduleOpts...)

	names, closeCache, err := newResolver(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeCache()

	if cfg.TLESync.Enabled {
		syncer := tlesync.New(data, &http.Client{Timeout: cfg.TLESync.Timeout}, cfg.TLESync.SourceURL, log,
			tlesync.WithMetricsRecorder(domain))
		runner, err := tlesync.NewRunner(ctx, syncer, cfg.TLESync.Schedule)
		if err != nil {
			return fmt.Errorf("schedule tle sync: %w", err)
		}
		runner.Start()
		defer runner.Stop()
		log.Info(ctx, "tle sync scheduled",
			logging.String("schedule", cfg.TLESync.Schedule),
			logging.Time("next", runner.Next()),
		)
	}

	apiOpts := []api.Option{api.WithMetricsRecorder(collector)}
	if cfg.Auth.JWTSecret != "" {
		apiOpts = append(apiOpts, api.WithAuthenticator(api.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)))
	} else {
		log.Warn(ctx, "auth.jwt_secret is empty; schedule writes are unauthenticated")
	}
	httpSrv := api.New(api.Services{
		Schedules:    schedules,
		Observations: observations,
		Visibility:   calculator,
		Resolver:     names,
		Health:       data,
	}, log, apiOpts...)
	grpcSrv := rpc.New(data, log, rpc.WithUnaryInterceptors(collector.UnaryServerInterceptor()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(ctx, "serving HTTP API", logging.String("addr", httpLis.Addr().String()))
		return httpSrv.Serve(gctx, httpLis, cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		log.Info(ctx, "serving gRPC health", logging.String("addr", grpcLis.Addr().String()))
		return grpcSrv.Serve(gctx, grpcLis, healthInterval)
	})
	err = g.Wait()
	log.Info(context.Background(), "server stopped")
	return err
}

// openBackend returns the PostgreSQL store when a DSN is configured and the
// in-memory knowledge base otherwise.
func openBackend(ctx context.Context, cfg config.Config, log logging.Logger) (backend, func(), error) {
	if cfg.Memory() {
		mem := kb.NewKnowledgeBase()
		if path := cfg.Catalog.SeedFile; path != "" {
			f, err := os.Open(path)
			if err != nil {
				return nil, nil, fmt.Errorf("open catalog: %w", err)
			}
			defer f.Close()
			if err := mem.LoadCatalog(f); err != nil {
				return nil, nil, fmt.Errorf("load catalog %s: %w", path, err)
			}
			log.Info(ctx, "loaded catalog", logging.String("path", path))
		}
		log.Warn(ctx, "running with in-memory storage; data is lost on exit")
		return mem, func() {}, nil
	}

	db, err := store.Open(ctx, cfg.Store(), log)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DB.MigrateOnStart {
		if err := store.NewMigrator(db.DB(), log).Up(ctx, store.Migrations); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return db, func() { _ = db.Close() }, nil
}

// newResolver caches lookups in Redis when configured and in memory
// otherwise.
func newResolver(ctx context.Context, cfg config.Config, log logging.Logger) (*resolver.Resolver, func(), error) {
	var (
		c       cache.Store = cache.NewMemory(nil)
		closeFn             = func() {}
	)
	if cfg.Redis.Addr != "" {
		r, err := cache.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, serviceName+":")
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		c, closeFn = r, func() { _ = r.Close() }
	}
	client := &http.Client{Timeout: cfg.Resolver.Timeout}
	return resolver.New(client, cfg.Resolver.BaseURL, log, resolver.WithCache(c, cfg.Redis.TTL)), closeFn, nil
}

func serveMetrics(addr string, collector *observability.Collector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
