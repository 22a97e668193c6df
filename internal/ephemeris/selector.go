package ephemeris

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/across/internal/logging"
	"github.com/signalsfoundry/across/model"
)

// ObservatoryLoader reads an observatory with its ephemeris configurations.
type ObservatoryLoader interface {
	GetObservatory(ctx context.Context, id uuid.UUID) (*model.Observatory, error)
}

// MetricsRecorder receives one observation per backend attempt. Outcome is
// "ok", "fallback" or "error".
type MetricsRecorder interface {
	ObserveEphemeris(kind string, outcome string, d time.Duration)
}

// SelectorOption customises Selector construction.
type SelectorOption func(*Selector)

// WithMetricsRecorder attaches a recorder for backend attempts.
func WithMetricsRecorder(m MetricsRecorder) SelectorOption {
	return func(s *Selector) {
		s.metrics = m
	}
}

// WithComputer registers the computer for its kind, replacing any earlier one.
func WithComputer(c Computer) SelectorOption {
	return func(s *Selector) {
		s.computers[c.Kind()] = c
	}
}

// Selector picks the highest-priority backend that produces a trajectory.
type Selector struct {
	observatories ObservatoryLoader
	computers     map[model.EphemerisKind]Computer
	metrics       MetricsRecorder
	log           logging.Logger
}

func NewSelector(observatories ObservatoryLoader, log logging.Logger, opts ...SelectorOption) *Selector {
	if log == nil {
		log = logging.Noop()
	}
	s := &Selector{
		observatories: observatories,
		computers:     make(map[model.EphemerisKind]Computer),
		log:           log,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// GetEphemeris samples the observatory's trajectory over [begin, end] at the
// given step. Backend failures fall through to the next priority; any other
// error (storage, cancellation) aborts.
func (s *Selector) GetEphemeris(ctx context.Context, observatoryID uuid.UUID, begin, end time.Time, step time.Duration) (*Ephemeris, error) {
	obs, err := s.observatories.GetObservatory(ctx, observatoryID)
	if err != nil {
		return nil, err
	}
	if !obs.Operational(begin, end) {
		return nil, &NotFoundError{
			ObservatoryID:    obs.ID,
			OperationalBegin: obs.OperationalBegin,
			OperationalEnd:   obs.OperationalEnd,
		}
	}
	if len(obs.EphemerisConfigs) == 0 {
		return nil, ErrTypeNotFound
	}

	configs := append([]model.EphemerisConfig(nil), obs.EphemerisConfigs...)
	sort.SliceStable(configs, func(i, j int) bool {
		return configs[i].Priority < configs[j].Priority
	})

	req := Request{Begin: begin.UTC(), End: end.UTC(), Step: step}
	log := logging.FromContext(ctx, s.log).With(logging.String("observatory_id", obs.ID.String()))
	attempted := make([]model.EphemerisKind, 0, len(configs))

	for _, cfg := range configs {
		attempted = append(attempted, cfg.Kind)
		start := time.Now()

		samples, err := s.compute(ctx, cfg, req)
		if err == nil {
			s.observe(cfg.Kind, "ok", start)
			log.Debug(ctx, "ephemeris computed",
				logging.String("ephemeris_type", string(cfg.Kind)),
				logging.Int("samples", len(samples)),
				logging.Duration("elapsed", time.Since(start)),
			)
			return &Ephemeris{
				ObservatoryID: obs.ID,
				Kind:          cfg.Kind,
				Begin:         req.Begin,
				End:           req.End,
				Step:          step,
				Samples:       samples,
			}, nil
		}

		var be *BackendError
		if !errors.As(err, &be) {
			s.observe(cfg.Kind, "error", start)
			return nil, err
		}
		s.observe(cfg.Kind, "fallback", start)
		log.Warn(ctx, "ephemeris backend failed, trying next priority",
			logging.String("ephemeris_type", string(cfg.Kind)),
			logging.Int("priority", cfg.Priority),
			logging.Err(err),
		)
	}

	return nil, &CalculationNotFoundError{ObservatoryID: obs.ID, Attempted: attempted}
}

func (s *Selector) compute(ctx context.Context, cfg model.EphemerisConfig, req Request) ([]Sample, error) {
	if err := cfg.Validate(); err != nil {
		return nil, backendErr(cfg.Kind, err)
	}
	c, ok := s.computers[cfg.Kind]
	if !ok {
		return nil, backendErr(cfg.Kind, errors.New("no computer registered"))
	}
	return c.Compute(ctx, cfg, req)
}

func (s *Selector) observe(kind model.EphemerisKind, outcome string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveEphemeris(string(kind), outcome, time.Since(start))
	}
}
