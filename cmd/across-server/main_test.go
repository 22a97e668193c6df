package main

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/across/internal/config"
	"github.com/signalsfoundry/across/internal/logging"
	"github.com/signalsfoundry/across/internal/rpc"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("", "")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.Server.MetricsAddr = ""
	cfg.Server.ShutdownTimeout = time.Second
	cfg.Log.Level = "warn"
	cfg.Catalog.SeedFile = filepath.Join("..", "..", "configs", "catalog.json")
	return cfg
}

func TestServerStartupSmoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	httpLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	cfg := testConfig(t)
	log := logging.New(cfg.Logging())

	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg, log, httpLis, grpcLis)
	}()

	base := "http://" + httpLis.Addr().String()
	for _, path := range []string{"/healthz", "/schedule/", "/observation/"} {
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}

	conn, err := grpc.NewClient(grpcLis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: rpc.ServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("health = %v, want SERVING", resp.GetStatus())
	}

	cancel()

	if err := <-errCh; err != nil {
		t.Fatalf("server returned error: %v", err)
	}
}

func TestOpenBackendMissingCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Catalog.SeedFile = filepath.Join(t.TempDir(), "missing.json")
	if _, _, err := openBackend(context.Background(), cfg, logging.Noop()); err == nil {
		t.Fatal("openBackend succeeded with a missing catalog")
	}
}

func TestServeMetricsDisabled(t *testing.T) {
	if srv := serveMetrics("", nil, logging.Noop()); srv != nil {
		t.Fatalf("serveMetrics returned a server for an empty address")
	}
}
