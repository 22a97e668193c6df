package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/across/internal/logging"
)

const (
	tracerName       = "github.com/signalsfoundry/across"
	defaultOTLPAddr  = "localhost:4317"
	shutdownDeadline = 5 * time.Second
)

// Span attribute keys shared by every component.
const (
	AttrEntity    = "across.entity"
	AttrEntityID  = "across.entity_id"
	AttrRequestID = "request_id"
)

// TracingConfig selects the span exporter. Exporter is "stdout" or "otlp";
// Endpoint applies to otlp only.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string
	Endpoint    string
	SampleRatio float64
	// Output receives stdout-exporter spans; nil means os.Stdout.
	Output io.Writer
}

type exporterFactory func(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error)

var exporters = map[string]exporterFactory{
	"stdout": func(_ context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
		out := cfg.Output
		if out == nil {
			out = os.Stdout
		}
		return stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithoutTimestamps())
	},
	"otlp": func(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLPAddr
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	},
}

// InitTracing installs the global tracer provider and W3C propagators. When
// tracing is disabled a no-op provider is installed so spans cost nothing.
// The returned function flushes pending spans.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		log.Debug(ctx, "tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	kind := strings.ToLower(cfg.Exporter)
	if kind == "" {
		kind = "stdout"
	}
	factory, ok := exporters[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported tracing exporter %q", cfg.Exporter)
	}
	exp, err := factory(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", kind, err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", "across"),
	))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", kind),
		logging.String("service", cfg.ServiceName),
		logging.Float("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}

// sampler honours the parent's decision and samples roots at ratio.
func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

// ShutdownWithTimeout flushes spans, giving up after a few seconds. Errors
// are logged only.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownDeadline)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}

// StartSpan opens an internal span tagged with the entity it works on and
// the request id. entity and id may be empty.
func StartSpan(ctx context.Context, name, entity, id string, extra ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs := make([]attribute.KeyValue, 0, len(extra)+3)
	if entity != "" {
		attrs = append(attrs, attribute.String(AttrEntity, entity))
	}
	if id != "" {
		attrs = append(attrs, attribute.String(AttrEntityID, id))
	}
	if reqID := logging.RequestIDFromContext(ctx); reqID != "" {
		attrs = append(attrs, attribute.String(AttrRequestID, reqID))
	}
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(append(attrs, extra...)...))
}

// EndSpan marks span failed when err is set, then ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
