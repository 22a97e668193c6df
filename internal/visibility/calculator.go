package visibility

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/across/core"
	"github.com/signalsfoundry/across/internal/ephemeris"
	"github.com/signalsfoundry/across/internal/logging"
	"github.com/signalsfoundry/across/internal/observability"
	"github.com/signalsfoundry/across/internal/worker"
	"github.com/signalsfoundry/across/model"
)

var (
	// ErrConstraintsNotFound is returned for an instrument without constraints.
	ErrConstraintsNotFound = fmt.Errorf("visibility constraints %w", model.ErrNotFound)
	// ErrTypeNotImplemented is returned for visibility types other than
	// ephemeris.
	ErrTypeNotImplemented = fmt.Errorf("visibility type not implemented: %w", model.ErrNotFound)
)

// InstrumentLoader reads an instrument with its constraints.
type InstrumentLoader interface {
	GetInstrument(ctx context.Context, id uuid.UUID) (*model.Instrument, error)
}

// EphemerisSource produces observer trajectories.
type EphemerisSource interface {
	GetEphemeris(ctx context.Context, observatoryID uuid.UUID, begin, end time.Time, step time.Duration) (*ephemeris.Ephemeris, error)
}

// MetricsRecorder receives one observation per calculation. Outcome is "ok",
// "timeout" or "error".
type MetricsRecorder interface {
	ObserveVisibility(outcome string, windows int, d time.Duration)
}

// Config holds the sampling steps and the wall-clock budget per request.
type Config struct {
	HiResStep  time.Duration
	LowResStep time.Duration
	Timeout    time.Duration
	// MaxSamples caps the ephemeris samples one instrument may need.
	MaxSamples int
}

// DefaultConfig samples every minute (hi-res) or hour, allows 60 seconds and
// at most a million samples per instrument.
func DefaultConfig() Config {
	return Config{HiResStep: time.Minute, LowResStep: time.Hour, Timeout: time.Minute, MaxSamples: 1_000_000}
}

// Query describes the target and range of a visibility request.
type Query struct {
	RA          float64
	Dec         float64
	Begin       time.Time
	End         time.Time
	HiRes       bool
	MinDuration time.Duration
}

func (q Query) validate() error {
	if q.RA < 0 || q.RA >= 360 {
		return fmt.Errorf("%w: ra %v outside [0, 360)", model.ErrInvalidParameters, q.RA)
	}
	if q.Dec < -90 || q.Dec > 90 {
		return fmt.Errorf("%w: dec %v outside [-90, 90]", model.ErrInvalidParameters, q.Dec)
	}
	if !q.End.After(q.Begin) {
		return fmt.Errorf("%w: end must be after begin", model.ErrInvalidParameters)
	}
	if q.MinDuration < 0 {
		return fmt.Errorf("%w: min_duration must not be negative", model.ErrInvalidParameters)
	}
	return nil
}

// Result is the window set of one instrument.
type Result struct {
	InstrumentID uuid.UUID `json:"instrument_id"`
	Windows      []Window  `json:"visibility_windows"`
}

// JointResult is the intersection across instruments, with the per-instrument
// sets it was built from.
type JointResult struct {
	InstrumentIDs []uuid.UUID `json:"instrument_ids"`
	Windows       []Window    `json:"visibility_windows"`
	Instruments   []Result    `json:"instrument_windows"`
}

// CalculatorOption customises Calculator construction.
type CalculatorOption func(*Calculator)

// WithMetricsRecorder attaches a recorder for calculations.
func WithMetricsRecorder(m MetricsRecorder) CalculatorOption {
	return func(c *Calculator) {
		c.metrics = m
	}
}

// Calculator evaluates instrument constraints over sampled ephemerides.
type Calculator struct {
	instruments InstrumentLoader
	ephemerides EphemerisSource
	pool        *worker.Pool
	cfg         Config
	metrics     MetricsRecorder
	log         logging.Logger
}

func NewCalculator(instruments InstrumentLoader, ephemerides EphemerisSource, pool *worker.Pool, cfg Config, log logging.Logger, opts ...CalculatorOption) *Calculator {
	if log == nil {
		log = logging.Noop()
	}
	if pool == nil {
		pool = worker.New(0)
	}
	def := DefaultConfig()
	if cfg.HiResStep <= 0 {
		cfg.HiResStep = def.HiResStep
	}
	if cfg.LowResStep <= 0 {
		cfg.LowResStep = def.LowResStep
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = def.MaxSamples
	}
	c := &Calculator{
		instruments: instruments,
		ephemerides: ephemerides,
		pool:        pool,
		cfg:         cfg,
		log:         log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Windows computes the visibility windows of the target for one instrument.
func (c *Calculator) Windows(ctx context.Context, instrumentID uuid.UUID, q Query) (res *Result, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "visibility.windows", "instrument", instrumentID.String(),
		attribute.Bool("hi_res", q.HiRes))
	defer func() {
		observability.EndSpan(span, err)
	}()

	ctx, cancel := c.budget(ctx)
	defer cancel()

	res, err = c.windows(ctx, instrumentID, q)
	err = c.finish(ctx, err, start, res.count())
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Joint computes every instrument's windows concurrently and intersects
// them. Any failure aborts the whole request.
func (c *Calculator) Joint(ctx context.Context, instrumentIDs []uuid.UUID, q Query) (res *JointResult, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "visibility.joint", "", "",
		attribute.Int("instruments", len(instrumentIDs)))
	defer func() {
		observability.EndSpan(span, err)
	}()

	if len(instrumentIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one instrument id is required", model.ErrInvalidParameters)
	}

	ctx, cancel := c.budget(ctx)
	defer cancel()

	results := make([]Result, len(instrumentIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range instrumentIDs {
		i, id := i, id
		g.Go(func() error {
			r, err := c.windows(gctx, id, q)
			if err != nil {
				return fmt.Errorf("instrument %s: %w", id, err)
			}
			results[i] = *r
			return nil
		})
	}
	err = g.Wait()
	if err == nil {
		sets := make([][]Window, len(results))
		for i, r := range results {
			sets[i] = r.Windows
		}
		res = &JointResult{
			InstrumentIDs: instrumentIDs,
			Windows:       Joint(sets...),
			Instruments:   results,
		}
	}

	n := 0
	if res != nil {
		n = len(res.Windows)
	}
	if err = c.finish(ctx, err, start, n); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Calculator) windows(ctx context.Context, instrumentID uuid.UUID, q Query) (*Result, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	step := c.cfg.LowResStep
	if q.HiRes {
		step = c.cfg.HiResStep
	}
	n, err := ephemeris.Request{Begin: q.Begin, End: q.End, Step: step}.Count()
	if err != nil {
		return nil, err
	}
	if n > c.cfg.MaxSamples {
		return nil, fmt.Errorf("%w: range needs %d samples at %s, limit is %d", model.ErrInvalidParameters, n, step, c.cfg.MaxSamples)
	}

	inst, err := c.instruments.GetInstrument(ctx, instrumentID)
	if err != nil {
		return nil, err
	}
	if len(inst.Constraints) == 0 {
		return nil, ErrConstraintsNotFound
	}
	if inst.VisibilityType != model.VisibilityEphemeris {
		return nil, fmt.Errorf("%w: %q", ErrTypeNotImplemented, inst.VisibilityType)
	}
	constraints, err := FromModels(inst.Constraints)
	if err != nil {
		return nil, err
	}

	eph, err := c.ephemerides.GetEphemeris(ctx, inst.ObservatoryID, q.Begin, q.End, step)
	if err != nil {
		return nil, err
	}

	target := core.Unit(q.RA, q.Dec)
	windows, err := worker.Run(ctx, c.pool, func(ctx context.Context) ([]Window, error) {
		return evaluate(ctx, eph.Samples, constraints, target, q.MinDuration)
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx, c.log).Debug(ctx, "visibility computed",
		logging.String("instrument_id", instrumentID.String()),
		logging.String("ephemeris_type", string(eph.Kind)),
		logging.Int("samples", len(eph.Samples)),
		logging.Int("windows", len(windows)),
	)
	return &Result{InstrumentID: instrumentID, Windows: windows}, nil
}

// evaluate checks cancellation before every sample.
func evaluate(ctx context.Context, samples []ephemeris.Sample, constraints []Constraint, target core.Vec3, minDuration time.Duration) ([]Window, error) {
	times := make([]time.Time, len(samples))
	failed := make([][]string, len(samples))
	for i := range samples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s := &samples[i]
		times[i] = s.Time
		for _, con := range constraints {
			if !con.Satisfied(s, target) {
				failed[i] = append(failed[i], string(con.Type()))
			}
		}
	}
	return collapse(times, failed, minDuration), nil
}

func (c *Calculator) budget(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.Timeout)
}

// finish records the outcome and turns an exhausted budget into
// ErrRequestTimeout.
func (c *Calculator) finish(ctx context.Context, err error, start time.Time, windows int) error {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
			err = fmt.Errorf("%w: visibility calculation exceeded %s", model.ErrRequestTimeout, c.cfg.Timeout)
			c.log.Warn(ctx, "visibility calculation timed out", logging.Duration("elapsed", time.Since(start)))
		}
	}
	if c.metrics != nil {
		c.metrics.ObserveVisibility(outcome, windows, time.Since(start))
	}
	return err
}

func (r *Result) count() int {
	if r == nil {
		return 0
	}
	return len(r.Windows)
}
