package observability

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/signalsfoundry/across/internal/logging"
)

func TestStartSpanWithStdoutExporter(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		ServiceName: "across-test",
		Exporter:    "stdout",
		SampleRatio: 1,
		Output:      &buf,
	}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	t.Cleanup(func() {
		_, _ = InitTracing(context.Background(), TracingConfig{}, nil)
	})

	_, span := StartSpan(context.Background(), "visibility.windows", "instrument", "abc")
	EndSpan(span, errors.New("boom"))
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "visibility.windows") || !strings.Contains(out, "boom") {
		t.Fatalf("exported span missing name or error: %s", out)
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	if _, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin"}, nil); err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}
}

func TestStartSpanAttributes(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx := logging.ContextWithRequestID(context.Background(), "req-1")
	_, span := StartSpan(ctx, "ephemeris.get", "observatory", "obs-1")
	EndSpan(span, nil)

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	got := map[string]string{}
	for _, kv := range ended[0].Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	want := map[string]string{AttrEntity: "observatory", AttrEntityID: "obs-1", AttrRequestID: "req-1"}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("attribute %s = %q, want %q", k, got[k], v)
		}
	}
	if ended[0].Status().Code != 0 {
		t.Errorf("status = %v, want unset", ended[0].Status())
	}
}

func TestSampler(t *testing.T) {
	t.Parallel()
	tests := []struct {
		ratio float64
		want  string
	}{
		{1, "root:AlwaysOnSampler"},
		{2, "root:AlwaysOnSampler"},
		{0, "root:AlwaysOffSampler"},
		{0.25, "root:TraceIDRatioBased{0.25}"},
	}
	for _, tt := range tests {
		if got := sampler(tt.ratio).Description(); !strings.Contains(got, tt.want) {
			t.Errorf("sampler(%v) = %s, want it to contain %s", tt.ratio, got, tt.want)
		}
	}
}
