package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DomainCollector exposes metrics for ephemeris selection, visibility, ingest
// and TLE refresh.
type DomainCollector struct {
	gatherer prometheus.Gatherer

	EphemerisAttempts *prometheus.CounterVec
	EphemerisDuration *prometheus.HistogramVec

	VisibilityRequests *prometheus.CounterVec
	VisibilityWindows  prometheus.Histogram
	VisibilityDuration prometheus.Histogram

	SchedulesIngested    *prometheus.CounterVec
	ObservationsIngested prometheus.Counter

	TLESyncRuns     *prometheus.CounterVec
	TLEsUpserted    prometheus.Counter
	TLELastSyncUnix prometheus.Gauge
}

// NewDomainCollector registers domain metrics against reg.
func NewDomainCollector(reg prometheus.Registerer) (*DomainCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &DomainCollector{gatherer: gatherer}
	var err error

	if c.EphemerisAttempts, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "across_ephemeris_attempts_total",
		Help: "Ephemeris backend attempts, labeled by backend kind and outcome (ok, fallback, error).",
	}, []string{"kind", "outcome"}), "across_ephemeris_attempts_total"); err != nil {
		return nil, err
	}
	if c.EphemerisDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "across_ephemeris_duration_seconds",
		Help:    "Time spent in one ephemeris backend attempt.",
		Buckets: latencyBuckets,
	}, []string{"kind"}), "across_ephemeris_duration_seconds"); err != nil {
		return nil, err
	}

	if c.VisibilityRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "across_visibility_requests_total",
		Help: "Visibility calculations, labeled by outcome.",
	}, []string{"outcome"}), "across_visibility_requests_total"); err != nil {
		return nil, err
	}
	if c.VisibilityWindows, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "across_visibility_windows",
		Help:    "Number of windows returned per successful visibility calculation.",
		Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
	}), "across_visibility_windows"); err != nil {
		return nil, err
	}
	if c.VisibilityDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "across_visibility_duration_seconds",
		Help:    "Wall time of visibility calculations.",
		Buckets: latencyBuckets,
	}), "across_visibility_duration_seconds"); err != nil {
		return nil, err
	}

	if c.SchedulesIngested, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "across_schedules_ingested_total",
		Help: "Schedule create attempts, labeled by outcome (created, duplicate, error).",
	}, []string{"outcome"}), "across_schedules_ingested_total"); err != nil {
		return nil, err
	}
	if c.ObservationsIngested, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "across_observations_ingested_total",
		Help: "Observations written as part of created schedules.",
	}), "across_observations_ingested_total"); err != nil {
		return nil, err
	}

	if c.TLESyncRuns, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "across_tle_sync_runs_total",
		Help: "TLE refresh runs, labeled by outcome.",
	}, []string{"outcome"}), "across_tle_sync_runs_total"); err != nil {
		return nil, err
	}
	if c.TLEsUpserted, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "across_tles_upserted_total",
		Help: "TLE records written by the refresh job.",
	}), "across_tles_upserted_total"); err != nil {
		return nil, err
	}
	if c.TLELastSyncUnix, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "across_tle_last_success_timestamp_seconds",
		Help: "Unix time of the last successful TLE refresh.",
	}), "across_tle_last_success_timestamp_seconds"); err != nil {
		return nil, err
	}
	return c, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *DomainCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveEphemeris records one backend attempt.
func (c *DomainCollector) ObserveEphemeris(kind, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.EphemerisAttempts.WithLabelValues(kind, outcome).Inc()
	c.EphemerisDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveVisibility records one calculation. windows is ignored unless the
// outcome is "ok".
func (c *DomainCollector) ObserveVisibility(outcome string, windows int, d time.Duration) {
	if c == nil {
		return
	}
	c.VisibilityRequests.WithLabelValues(outcome).Inc()
	c.VisibilityDuration.Observe(d.Seconds())
	if outcome == "ok" {
		c.VisibilityWindows.Observe(float64(windows))
	}
}

// ObserveIngest records a schedule create outcome and, for created schedules,
// the number of observations written.
func (c *DomainCollector) ObserveIngest(outcome string, observations int) {
	if c == nil {
		return
	}
	c.SchedulesIngested.WithLabelValues(outcome).Inc()
	if outcome == "created" && observations > 0 {
		c.ObservationsIngested.Add(float64(observations))
	}
}

// ObserveTLESync records a refresh run.
func (c *DomainCollector) ObserveTLESync(outcome string, upserted int, at time.Time) {
	if c == nil {
		return
	}
	c.TLESyncRuns.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		c.TLEsUpserted.Add(float64(upserted))
		c.TLELastSyncUnix.Set(float64(at.Unix()))
	}
}
