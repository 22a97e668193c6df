package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// Collector bundles the request-level Prometheus metrics for the HTTP API and
// the gRPC health surface.
type Collector struct {
	gatherer prometheus.Gatherer

	HTTPRequests  *prometheus.CounterVec
	HTTPDurations *prometheus.HistogramVec

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
}

var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}

// NewCollector registers request metrics against reg, defaulting to the
// global Prometheus registry when nil. Registering twice reuses the existing
// collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	httpRequests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "across_http_requests_total",
		Help: "Handled HTTP requests, labeled by method, route template and status code.",
	}, []string{"method", "route", "code"}), "across_http_requests_total")
	if err != nil {
		return nil, err
	}
	httpDurations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "across_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: latencyBuckets,
	}, []string{"method", "route"}), "across_http_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	rpcRequests, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "across_grpc_requests_total",
		Help: "Handled gRPC calls, labeled by service, method and gRPC status code.",
	}, []string{"service", "method", "code"}), "across_grpc_requests_total")
	if err != nil {
		return nil, err
	}
	rpcDurations, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "across_grpc_request_duration_seconds",
		Help:    "gRPC call latency in seconds.",
		Buckets: latencyBuckets,
	}, []string{"service", "method"}), "across_grpc_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:      gatherer,
		HTTPRequests:  httpRequests,
		HTTPDurations: httpDurations,
		RPCRequests:   rpcRequests,
		RPCDurations:  rpcDurations,
	}, nil
}

// ObserveHTTP records one handled request. Route is the matched route
// template, never the raw path.
func (c *Collector) ObserveHTTP(method, route string, code int, d time.Duration) {
	if c == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	c.HTTPDurations.WithLabelValues(method, route).Observe(d.Seconds())
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *Collector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		c.RPCRequests.WithLabelValues(service, method, status.Code(err).String()).Inc()
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components, returning "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

// register adds c to reg. When an equal collector is already registered the
// existing one is returned so repeated construction in tests and restarts
// shares series.
func register[T prometheus.Collector](reg prometheus.Registerer, c T, name string) (T, error) {
	if err := reg.Register(c); err != nil {
		var zero T
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return zero, err
		}
		existing, ok := are.ExistingCollector.(T)
		if !ok {
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return existing, nil
	}
	return c, nil
}
