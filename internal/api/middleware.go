package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/across/internal/logging"
)

const tracerName = "github.com/signalsfoundry/across/internal/api"

// requestScope attaches a request id, sourced from X-Request-ID when the
// caller sent one, and a logger annotated with it. The id is echoed back.
func (s *Server) requestScope() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if incoming := c.GetHeader(logging.RequestIDHeader); incoming != "" {
			ctx = logging.ContextWithRequestID(ctx, incoming)
		}
		ctx, _ = logging.WithRequestLogger(ctx, s.log.With(
			logging.String("method", c.Request.Method),
			logging.String("path", c.Request.URL.Path),
		))
		c.Header(logging.RequestIDHeader, logging.RequestIDFromContext(ctx))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// tracing opens a server span per request named after the matched route.
func (s *Server) tracing() gin.HandlerFunc {
	tracer := otel.Tracer(tracerName)
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := tracer.Start(c.Request.Context(), fmt.Sprintf("HTTP %s %s", c.Request.Method, route),
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", c.Request.Method),
				attribute.String("http.route", route),
			))
		defer span.End()
		if id := logging.RequestIDFromContext(ctx); id != "" {
			span.SetAttributes(attribute.String("request_id", id))
		}
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.response.status_code", status))
		if status >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("status %d", status))
		}
	}
}

// accessLog records metrics and one log line per request.
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)
		status := c.Writer.Status()

		if s.metrics != nil {
			s.metrics.ObserveHTTP(c.Request.Method, c.FullPath(), status, elapsed)
		}
		ctx := c.Request.Context()
		logging.FromContext(ctx, s.log).Info(ctx, "request handled",
			logging.Int("status", status),
			logging.Duration("duration", elapsed),
		)
	}
}
