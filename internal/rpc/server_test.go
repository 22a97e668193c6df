package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/signalsfoundry/across/internal/logging"
	"github.com/signalsfoundry/across/model"
)

type flakyStore struct{ down atomic.Bool }

func (f *flakyStore) Ping(context.Context) error {
	if f.down.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func startServer(t *testing.T, s *Server) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, lis, 0) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve returned %v", err)
		}
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func TestHealthReflectsStorage(t *testing.T) {
	t.Parallel()
	store := &flakyStore{}
	s := New(store, logging.Noop())
	client := startServer(t, s)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			t.Fatalf("Check(%q): %v", service, err)
		}
		return resp.GetStatus()
	}

	for _, svc := range []string{"", ServiceName} {
		if got := check(svc); got != healthpb.HealthCheckResponse_SERVING {
			t.Errorf("Check(%q) = %v, want SERVING", svc, got)
		}
	}

	store.down.Store(true)
	s.Refresh(ctx)
	if got := check(ServiceName); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("Check after outage = %v, want NOT_SERVING", got)
	}

	store.down.Store(false)
	s.Refresh(ctx)
	if got := check(""); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("Check after recovery = %v, want SERVING", got)
	}

	_, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: "unknown"})
	if status.Code(err) != codes.NotFound {
		t.Errorf("Check(unknown) code = %v, want NotFound", status.Code(err))
	}
}

func TestExtraInterceptorsRun(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	count := func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		calls.Add(1)
		return handler(ctx, req)
	}
	client := startServer(t, New(nil, nil, WithUnaryInterceptors(count)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Check(ctx, &healthpb.HealthCheckRequest{}); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("interceptor calls = %d, want 1", got)
	}
}

func TestRequestIDUnaryServerInterceptor(t *testing.T) {
	t.Parallel()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	tests := []struct {
		name   string
		md     metadata.MD
		wantID string
	}{
		{"from metadata", metadata.Pairs("x-request-id", "req-7"), "req-7"},
		{"generated", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			if tt.md != nil {
				ctx = metadata.NewIncomingContext(ctx, tt.md)
			}
			var gotID string
			var gotLogger bool
			_, err := RequestIDUnaryServerInterceptor(nil)(ctx, nil, info, func(ctx context.Context, _ any) (any, error) {
				gotID = logging.RequestIDFromContext(ctx)
				gotLogger = logging.LoggerFromContext(ctx) != nil
				return nil, nil
			})
			if err != nil {
				t.Fatalf("interceptor error: %v", err)
			}
			if gotID == "" || (tt.wantID != "" && gotID != tt.wantID) {
				t.Errorf("request id = %q, want %q", gotID, tt.wantID)
			}
			if !gotLogger {
				t.Errorf("no request logger on context")
			}
		})
	}
}

func TestTracingUnaryServerInterceptor(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx := logging.ContextWithRequestID(context.Background(), "req-9")
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	boom := errors.New("boom")
	_, err := TracingUnaryServerInterceptor()(ctx, nil, info, func(context.Context, any) (any, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	if got, want := spans[0].Name(), "RPC/Health/Check"; got != want {
		t.Errorf("span name = %q, want %q", got, want)
	}
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["request_id"] != "req-9" || attrs["rpc.method"] != "Check" {
		t.Errorf("attributes = %v", attrs)
	}
	if len(spans[0].Events()) == 0 {
		t.Errorf("error was not recorded on the span")
	}
}

func TestToStatusError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want codes.Code
	}{
		{fmt.Errorf("load: %w", model.ErrScheduleNotFound), codes.NotFound},
		{model.ErrDuplicateSchedule, codes.AlreadyExists},
		{model.ErrInvalidObservationReadParameters, codes.InvalidArgument},
		{model.ErrRequestTimeout, codes.DeadlineExceeded},
		{context.Canceled, codes.Canceled},
		{model.ErrUnauthorized, codes.Unauthenticated},
		{status.Error(codes.Unavailable, "down"), codes.Unavailable},
		{errors.New("boom"), codes.Internal},
	}
	for _, tt := range tests {
		if got := status.Code(ToStatusError(tt.err)); got != tt.want {
			t.Errorf("ToStatusError(%v) code = %v, want %v", tt.err, got, tt.want)
		}
	}
	if ToStatusError(nil) != nil {
		t.Errorf("ToStatusError(nil) != nil")
	}
}
