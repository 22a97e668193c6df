package observation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/across/core"
	"github.com/signalsfoundry/across/internal/logging"
	"github.com/signalsfoundry/across/internal/observability"
	"github.com/signalsfoundry/across/internal/worker"
	"github.com/signalsfoundry/across/model"
	"github.com/signalsfoundry/across/timectrl"
)

// Store is the read side the service needs from persistence.
type Store interface {
	ListObservations(ctx context.Context, q model.ObservationQuery) ([]*model.Observation, int, error)
	GetObservation(ctx context.Context, id uuid.UUID) (*model.Observation, error)
	// InstrumentFootprints returns the body-frame footprint of each
	// requested instrument. Instruments without one are omitted.
	InstrumentFootprints(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]core.Footprint, error)
}

// OverlapConfig bounds the date range of overlap queries relative to now.
type OverlapConfig struct {
	// PlannedLookback is how far back planned/scheduled queries may start.
	PlannedLookback time.Duration
	// PlannedLookahead is the default end of planned/scheduled queries.
	PlannedLookahead time.Duration
	// PerformedLookback is how far back other statuses may start.
	PerformedLookback time.Duration
}

func DefaultOverlapConfig() OverlapConfig {
	return OverlapConfig{
		PlannedLookback:   48 * time.Hour,
		PlannedLookahead:  14 * 24 * time.Hour,
		PerformedLookback: 14 * 24 * time.Hour,
	}
}

type Service struct {
	store Store
	pool  *worker.Pool
	clock timectrl.Clock
	cfg   OverlapConfig
	log   logging.Logger
}

func NewService(store Store, pool *worker.Pool, clock timectrl.Clock, cfg OverlapConfig, log logging.Logger) *Service {
	if log == nil {
		log = logging.Noop()
	}
	if pool == nil {
		pool = worker.New(0)
	}
	def := DefaultOverlapConfig()
	if cfg.PlannedLookback <= 0 {
		cfg.PlannedLookback = def.PlannedLookback
	}
	if cfg.PlannedLookahead <= 0 {
		cfg.PlannedLookahead = def.PlannedLookahead
	}
	if cfg.PerformedLookback <= 0 {
		cfg.PerformedLookback = def.PerformedLookback
	}
	return &Service{store: store, pool: pool, clock: timectrl.OrSystem(clock), cfg: cfg, log: log}
}

// List returns one page of observations matching p. TotalNumber counts every
// match before paging.
func (s *Service) List(ctx context.Context, p ReadParams) (model.Page[*model.Observation], error) {
	q, err := p.Query()
	if err != nil {
		return model.Page[*model.Observation]{}, err
	}
	items, total, err := s.store.ListObservations(ctx, q)
	if err != nil {
		return model.Page[*model.Observation]{}, fmt.Errorf("list observations: %w", err)
	}
	return model.NewPage(items, total, p.Pagination), nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Observation, error) {
	return s.store.GetObservation(ctx, id)
}

// OverlapPoint returns, newest first, the observations whose footprint
// projected at their pointing contains (RA, Dec).
func (s *Service) OverlapPoint(ctx context.Context, p OverlapParams) (page model.Page[*model.Observation], err error) {
	ctx, span := observability.StartSpan(ctx, "observation.overlap_point", "", "",
		attribute.Float64("ra", p.RA), attribute.Float64("dec", p.Dec))
	defer func() {
		observability.EndSpan(span, err)
	}()

	if p.RA < 0 || p.RA >= 360 || p.Dec < -90 || p.Dec > 90 {
		return page, fmt.Errorf("%w: ra must be in [0, 360) and dec in [-90, 90]", model.ErrInvalidObservationReadParameters)
	}

	rp := p.ReadParams
	rp.ConeRA, rp.ConeDec, rp.ConeRadiusDegrees = nil, nil, nil
	if rp.Status == nil {
		performed := model.StatusPerformed
		rp.Status = &performed
	}
	begin, end, err := s.overlapRange(*rp.Status, rp.Begin, rp.End)
	if err != nil {
		return page, err
	}
	rp.Begin, rp.End = &begin, &end

	pagination := rp.Pagination
	rp.Pagination = model.Pagination{}
	if err := pagination.Validate(); err != nil {
		return page, err
	}
	q, err := rp.Query()
	if err != nil {
		return page, err
	}
	q.OrderBy = model.OrderObservationsByCreated

	candidates, _, err := s.store.ListObservations(ctx, q)
	if err != nil {
		return page, fmt.Errorf("list overlap candidates: %w", err)
	}
	matches, err := s.containing(ctx, candidates, p.RA, p.Dec)
	if err != nil {
		return page, err
	}

	logging.FromContext(ctx, s.log).Debug(ctx, "overlap query evaluated",
		logging.Int("candidates", len(candidates)),
		logging.Int("matches", len(matches)),
	)
	return model.Paginate(matches, pagination), nil
}

// overlapRange applies the status-dependent defaults and limits.
func (s *Service) overlapRange(status model.Status, begin, end *time.Time) (time.Time, time.Time, error) {
	now := s.clock.Now().UTC()

	var minBegin, defEnd time.Time
	if status.Upcoming() {
		minBegin, defEnd = now.Add(-s.cfg.PlannedLookback), now.Add(s.cfg.PlannedLookahead)
	} else {
		minBegin, defEnd = now.Add(-s.cfg.PerformedLookback), now
	}

	b, e := minBegin, defEnd
	if begin != nil {
		b = begin.UTC()
	}
	if end != nil {
		e = end.UTC()
	}

	switch {
	case b.Before(minBegin):
		return b, e, fmt.Errorf("%w: begin may be no earlier than %s for %s observations",
			model.ErrInvalidObservationReadParameters, minBegin.Format(time.RFC3339), status)
	case status.Upcoming() && !e.After(now):
		return b, e, fmt.Errorf("%w: end must be in the future for %s observations",
			model.ErrInvalidObservationReadParameters, status)
	case !status.Upcoming() && e.After(now):
		return b, e, fmt.Errorf("%w: end may not be in the future for %s observations",
			model.ErrInvalidObservationReadParameters, status)
	case e.Before(b):
		return b, e, fmt.Errorf("%w: end before begin", model.ErrInvalidObservationReadParameters)
	}
	return b, e, nil
}

// containing hydrates each instrument's footprint once, then projects and
// tests every observation of that instrument on the worker pool. Input order
// is preserved.
func (s *Service) containing(ctx context.Context, obs []*model.Observation, ra, dec float64) ([]*model.Observation, error) {
	groups := make(map[uuid.UUID][]int)
	var order []uuid.UUID
	for i, o := range obs {
		if o.PointingPosition == nil {
			continue
		}
		if _, ok := groups[o.InstrumentID]; !ok {
			order = append(order, o.InstrumentID)
		}
		groups[o.InstrumentID] = append(groups[o.InstrumentID], i)
	}
	if len(order) == 0 {
		return []*model.Observation{}, nil
	}

	footprints, err := s.store.InstrumentFootprints(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("load instrument footprints: %w", err)
	}

	hits, err := worker.Map(ctx, s.pool, order, func(ctx context.Context, id uuid.UUID) ([]int, error) {
		fp := footprints[id]
		if len(fp) == 0 {
			return nil, nil
		}
		var in []int
		for _, i := range groups[id] {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			o := obs[i]
			roll := 0.0
			if o.PointingAngle != nil {
				roll = *o.PointingAngle
			}
			if core.Project(fp, o.PointingPosition.RA, o.PointingPosition.Dec, roll).Contains(ra, dec) {
				in = append(in, i)
			}
		}
		return in, nil
	})
	if err != nil {
		return nil, err
	}

	keep := make([]bool, len(obs))
	for _, idx := range hits {
		for _, i := range idx {
			keep[i] = true
		}
	}
	out := make([]*model.Observation, 0)
	for i, o := range obs {
		if keep[i] {
			out = append(out, o)
		}
	}
	return out, nil
}
