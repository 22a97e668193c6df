package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}
	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.NotFound, "unknown service")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("Health", "Check", "OK")); got != 1 {
		t.Fatalf("across_grpc_requests_total{OK} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("Health", "Check", "NotFound")); got != 1 {
		t.Fatalf("across_grpc_requests_total{NotFound} = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "across_grpc_request_duration_seconds", map[string]string{
		"service": "Health",
		"method":  "Check",
	}); count != 2 {
		t.Fatalf("across_grpc_request_duration_seconds sample_count = %d, want 2", count)
	}
}

func TestObserveHTTP(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	collector.ObserveHTTP(http.MethodGet, "/observation/:observation_id", 404, 3*time.Millisecond)
	collector.ObserveHTTP(http.MethodGet, "", 404, time.Millisecond)

	if got := testutil.ToFloat64(collector.HTTPRequests.WithLabelValues("GET", "/observation/:observation_id", "404")); got != 1 {
		t.Fatalf("across_http_requests_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.HTTPRequests.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Fatalf("unmatched route count = %v, want 1", got)
	}
}

func TestCollectorReusesRegisteredSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	second, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("second NewCollector: %v", err)
	}
	first.ObserveHTTP("GET", "/healthz", 200, time.Millisecond)
	if got := testutil.ToFloat64(second.HTTPRequests.WithLabelValues("GET", "/healthz", "200")); got != 1 {
		t.Fatalf("shared counter = %v, want 1", got)
	}
}

func TestDomainCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewDomainCollector(reg)
	if err != nil {
		t.Fatalf("NewDomainCollector: %v", err)
	}

	c.ObserveEphemeris("tle", "fallback", time.Millisecond)
	c.ObserveEphemeris("jpl", "ok", 2*time.Millisecond)
	c.ObserveVisibility("ok", 3, time.Second)
	c.ObserveVisibility("timeout", 0, time.Minute)
	c.ObserveIngest("created", 4)
	c.ObserveIngest("duplicate", 4)
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.ObserveTLESync("ok", 12, at)

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"ephemeris tle fallback", testutil.ToFloat64(c.EphemerisAttempts.WithLabelValues("tle", "fallback")), 1},
		{"ephemeris jpl ok", testutil.ToFloat64(c.EphemerisAttempts.WithLabelValues("jpl", "ok")), 1},
		{"visibility timeout", testutil.ToFloat64(c.VisibilityRequests.WithLabelValues("timeout")), 1},
		{"schedules created", testutil.ToFloat64(c.SchedulesIngested.WithLabelValues("created")), 1},
		{"schedules duplicate", testutil.ToFloat64(c.SchedulesIngested.WithLabelValues("duplicate")), 1},
		{"observations", testutil.ToFloat64(c.ObservationsIngested), 4},
		{"tles upserted", testutil.ToFloat64(c.TLEsUpserted), 12},
		{"last sync", testutil.ToFloat64(c.TLELastSyncUnix), float64(at.Unix())},
	}
	for _, tc := range checks {
		if tc.got != tc.want {
			t.Errorf("%s = %v, want %v", tc.name, tc.got, tc.want)
		}
	}
	if count := histogramSampleCount(t, reg, "across_visibility_windows", nil); count != 1 {
		t.Fatalf("across_visibility_windows sample_count = %d, want 1", count)
	}
}

func TestNilCollectorsAreSafe(t *testing.T) {
	var c *Collector
	c.ObserveHTTP("GET", "/", 200, time.Millisecond)
	var d *DomainCollector
	d.ObserveEphemeris("tle", "ok", time.Millisecond)
	d.ObserveVisibility("ok", 1, time.Millisecond)
	d.ObserveIngest("created", 1)
	d.ObserveTLESync("ok", 1, time.Now())
}

func TestMetricsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewCollector(reg)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	if _, err := NewDomainCollector(reg); err != nil {
		t.Fatalf("NewDomainCollector: %v", err)
	}
	collector.ObserveHTTP("POST", "/schedule", 201, 10*time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"across_http_requests_total",
		"across_http_request_duration_seconds",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func TestSplitMethod(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in            string
		service, meth string
	}{
		{"/grpc.health.v1.Health/Check", "Health", "Check"},
		{"Health/Watch", "Health", "Watch"},
		{"", "unknown", "unknown"},
		{"/nomethod", "unknown", "unknown"},
	}
	for _, tt := range tests {
		s, m := SplitMethod(tt.in)
		if s != tt.service || m != tt.meth {
			t.Errorf("SplitMethod(%q) = %q, %q, want %q, %q", tt.in, s, m, tt.service, tt.meth)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
