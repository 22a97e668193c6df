// Package tlesync refreshes stored two-line element sets from CelesTrak.
package tlesync

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/signalsfoundry/across/internal/logging"
	"github.com/signalsfoundry/across/internal/observability"
	"github.com/signalsfoundry/across/model"
	"github.com/signalsfoundry/across/timectrl"
)

// Store receives parsed element sets keyed by (NORAD id, epoch).
type Store interface {
	UpsertTLEs(ctx context.Context, tles []model.TLE) (int, error)
}

// MetricsRecorder records each refresh. Outcome is "ok" or "error".
type MetricsRecorder interface {
	ObserveTLESync(outcome string, upserted int, at time.Time)
}

type Option func(*Syncer)

func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Syncer) { s.metrics = m }
}

func WithClock(c timectrl.Clock) Option {
	return func(s *Syncer) { s.clock = timectrl.OrSystem(c) }
}

type Syncer struct {
	store      Store
	httpClient *http.Client
	sourceURL  string
	clock      timectrl.Clock
	metrics    MetricsRecorder
	log        logging.Logger
}

func New(store Store, httpClient *http.Client, sourceURL string, log logging.Logger, opts ...Option) *Syncer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if log == nil {
		log = logging.Noop()
	}
	s := &Syncer{store: store, httpClient: httpClient, sourceURL: sourceURL, clock: timectrl.System{}, log: log}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync downloads the source once and upserts every valid element set. It
// returns the number of rows inserted or changed.
func (s *Syncer) Sync(ctx context.Context) (n int, err error) {
	ctx, span := observability.StartSpan(ctx, "tlesync.Sync", "tle_source", s.sourceURL)
	defer func() { observability.EndSpan(span, err) }()
	log := logging.FromContext(ctx, s.log)

	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		if s.metrics != nil {
			s.metrics.ObserveTLESync(outcome, n, s.clock.Now())
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.sourceURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("tle source returned %s", resp.Status)
	}

	tles, rejected, err := Parse(resp.Body)
	if err != nil {
		return 0, err
	}
	for _, r := range rejected {
		log.Warn(ctx, "skipping element set", logging.Err(r))
	}
	if len(tles) == 0 {
		return 0, fmt.Errorf("tle source %s contained no element sets", s.sourceURL)
	}

	n, err = s.store.UpsertTLEs(ctx, tles)
	if err != nil {
		return 0, fmt.Errorf("store element sets: %w", err)
	}
	log.Info(ctx, "tle sync complete",
		logging.Int("parsed", len(tles)),
		logging.Int("rejected", len(rejected)),
		logging.Int("upserted", n),
	)
	return n, nil
}

// Runner triggers Sync on a cron spec. Overlapping runs are skipped.
type Runner struct {
	cron    *cron.Cron
	syncer  *Syncer
	baseCtx context.Context
}

// NewRunner accepts standard five-field specs and descriptors like "@every 6h".
func NewRunner(baseCtx context.Context, syncer *Syncer, spec string) (*Runner, error) {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	r := &Runner{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		syncer:  syncer,
		baseCtx: baseCtx,
	}
	if _, err := r.cron.AddFunc(spec, r.run); err != nil {
		return nil, fmt.Errorf("%w: tle sync schedule %q: %v", model.ErrInvalidParameters, spec, err)
	}
	return r, nil
}

func (r *Runner) run() {
	ctx, _ := logging.EnsureRequestID(r.baseCtx)
	if _, err := r.syncer.Sync(ctx); err != nil {
		r.syncer.log.Warn(ctx, "tle sync failed", logging.Err(err))
	}
}

// Next reports when the job fires next; zero before Start.
func (r *Runner) Next() time.Time {
	entries := r.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (r *Runner) Start() {
	r.syncer.log.Info(r.baseCtx, "tle sync scheduled")
	r.cron.Start()
}

// Stop waits for a running sync to finish.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
}
