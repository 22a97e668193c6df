package rpc

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/signalsfoundry/across/internal/logging"
	"github.com/signalsfoundry/across/internal/observability"
)

const (
	tracerName           = "github.com/signalsfoundry/across/internal/rpc"
	requestIDMetadataKey = "x-request-id"
)

// RequestIDUnaryServerInterceptor ensures a request_id is present on the
// context, sourcing it from inbound metadata if provided, and attaches a
// per-request logger annotated with request_id and method.
func RequestIDUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(requestIDMetadataKey); len(vals) > 0 && vals[0] != "" {
				ctx = logging.ContextWithRequestID(ctx, vals[0])
			}
		}
		ctx, _ = logging.WithRequestLogger(ctx, base.With(logging.String("method", info.FullMethod)))
		return handler(ctx, req)
	}
}

// TracingUnaryServerInterceptor names the RPC span and tags it with the rpc
// attributes and request id. It opens a server span itself when no stats
// handler already did.
func TracingUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	tracer := otel.Tracer(tracerName)

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		service, method := observability.SplitMethod(info.FullMethod)
		name := fmt.Sprintf("RPC/%s/%s", service, method)

		span := trace.SpanFromContext(ctx)
		created := !span.SpanContext().IsValid()
		if created {
			ctx, span = tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
		} else {
			span.SetName(name)
		}

		attrs := []attribute.KeyValue{
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.service", service),
			attribute.String("rpc.method", method),
			attribute.String("rpc.full_method", strings.TrimPrefix(info.FullMethod, "/")),
		}
		if id := logging.RequestIDFromContext(ctx); id != "" {
			attrs = append(attrs, attribute.String("request_id", id))
		}
		span.SetAttributes(attrs...)

		resp, err := handler(ctx, req)
		if err != nil {
			span.RecordError(err)
		}
		return resp, err
	}
}

// ErrorUnaryServerInterceptor converts domain errors returned by handlers
// into gRPC status errors.
func ErrorUnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		return resp, ToStatusError(err)
	}
}
