package schedule

import (
	"context"
	"errors"
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

// DuplicateScheduleError reports that a schedule with the same checksum is
// already stored.
type DuplicateScheduleError struct {
	ID uuid.UUID
}

func (e *DuplicateScheduleError) Error() string {
	return fmt.Sprintf("schedule %s already exists", e.ID)
}

func (e *DuplicateScheduleError) Unwrap() error { return model.ErrDuplicateSchedule }

// Store persists schedules. InsertSchedules writes every schedule and its
// observations in one transaction and fails with an error wrapping
// model.ErrDuplicateSchedule when a checksum is already taken.
type Store interface {
	GetTelescope(ctx context.Context, id uuid.UUID) (*model.Telescope, error)
	InstrumentsByTelescope(ctx context.Context, telescopeID uuid.UUID) ([]*model.Instrument, error)
	ScheduleIDsByChecksum(ctx context.Context, checksums []string) (map[string]uuid.UUID, error)
	InsertSchedules(ctx context.Context, schedules []*model.Schedule) error
	GetSchedule(ctx context.Context, id uuid.UUID, withObservations bool) (*model.Schedule, error)
	ListSchedules(ctx context.Context, q model.ScheduleQuery) ([]*model.Schedule, int, error)
}

// CreatedEvent is announced after a schedule commits.
type CreatedEvent struct {
	ScheduleID       uuid.UUID    `json:"schedule_id"`
	TelescopeID      uuid.UUID    `json:"telescope_id"`
	Checksum         string       `json:"checksum"`
	Status           model.Status `json:"status"`
	ObservationCount int          `json:"observation_count"`
	CreatedOn        time.Time    `json:"created_on"`
}

// Publisher announces committed schedules. Failures are logged, never
// returned to the caller.
type Publisher interface {
	PublishScheduleCreated(ctx context.Context, ev CreatedEvent) error
}

// MetricsRecorder receives one observation per ingest request. Outcome is
// "created", "duplicate" or "error".
type MetricsRecorder interface {
	ObserveIngest(outcome string, observations int)
}

type Option func(*Service)

func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *Service) { s.metrics = m }
}

type Service struct {
	store     Store
	pool      *worker.Pool
	clock     timectrl.Clock
	log       logging.Logger
	publisher Publisher
	metrics   MetricsRecorder
	newID     func() uuid.UUID
}

func NewService(store Store, pool *worker.Pool, clock timectrl.Clock, log logging.Logger, opts ...Option) *Service {
	if log == nil {
		log = logging.Noop()
	}
	if pool == nil {
		pool = worker.New(0)
	}
	s := &Service{
		store: store,
		pool:  pool,
		clock: timectrl.OrSystem(clock),
		log:   log,
		newID: uuid.New,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Create stores one schedule and returns its id. A schedule whose checksum
// already exists fails with *DuplicateScheduleError carrying the stored id.
func (s *Service) Create(ctx context.Context, c Create, createdBy uuid.UUID) (id uuid.UUID, err error) {
	ctx, span := observability.StartSpan(ctx, "schedule.create", "telescope", c.TelescopeID.String(),
		attribute.Int("observations", len(c.Observations)))
	defer func() {
		observability.EndSpan(span, err)
	}()

	c.Normalize()
	if err := c.Validate(); err != nil {
		s.observe("error", 0)
		return uuid.Nil, err
	}
	sum, err := Checksum(c)
	if err != nil {
		s.observe("error", 0)
		return uuid.Nil, err
	}

	existing, err := s.store.ScheduleIDsByChecksum(ctx, []string{sum})
	if err != nil {
		s.observe("error", 0)
		return uuid.Nil, fmt.Errorf("look up schedule checksum: %w", err)
	}
	if prior, ok := existing[sum]; ok {
		s.observe("duplicate", 0)
		return uuid.Nil, &DuplicateScheduleError{ID: prior}
	}

	instruments, err := s.instruments(ctx, c.TelescopeID)
	if err != nil {
		s.observe("error", 0)
		return uuid.Nil, err
	}
	sched, err := s.build(ctx, c, sum, instruments, createdBy)
	if err != nil {
		s.observe("error", 0)
		return uuid.Nil, err
	}

	if err := s.store.InsertSchedules(ctx, []*model.Schedule{sched}); err != nil {
		if errors.Is(err, model.ErrDuplicateSchedule) {
			// Lost a race with a concurrent ingest of the same payload.
			if ids, lerr := s.store.ScheduleIDsByChecksum(ctx, []string{sum}); lerr == nil {
				if prior, ok := ids[sum]; ok {
					s.observe("duplicate", 0)
					return uuid.Nil, &DuplicateScheduleError{ID: prior}
				}
			}
		}
		s.observe("error", 0)
		return uuid.Nil, fmt.Errorf("insert schedule: %w", err)
	}

	s.observe("created", len(sched.Observations))
	s.announce(ctx, sched)
	logging.FromContext(ctx, s.log).Info(ctx, "schedule created",
		logging.String("schedule_id", sched.ID.String()),
		logging.String("telescope_id", sched.TelescopeID.String()),
		logging.Int("observations", len(sched.Observations)),
	)
	return sched.ID, nil
}

// CreateMany stores a batch in one transaction. It returns one id per input
// schedule, in input order: the stored id for schedules that already exist
// and the new id otherwise. Repeats inside the batch share an id.
func (s *Service) CreateMany(ctx context.Context, creates []Create, createdBy uuid.UUID) (ids []uuid.UUID, err error) {
	ctx, span := observability.StartSpan(ctx, "schedule.create_many", "", "",
		attribute.Int("schedules", len(creates)))
	defer func() {
		observability.EndSpan(span, err)
	}()

	if len(creates) == 0 {
		return []uuid.UUID{}, nil
	}
	sums := make([]string, len(creates))
	for i := range creates {
		creates[i].Normalize()
		if err := creates[i].Validate(); err != nil {
			s.observe("error", 0)
			return nil, fmt.Errorf("schedule %d: %w", i, err)
		}
		if sums[i], err = Checksum(creates[i]); err != nil {
			s.observe("error", 0)
			return nil, err
		}
	}

	// One retry covers a concurrent ingest claiming a checksum between the
	// lookup and the insert.
	for attempt := 0; ; attempt++ {
		ids, err = s.createMany(ctx, creates, sums, createdBy)
		if err == nil || attempt > 0 || !errors.Is(err, model.ErrDuplicateSchedule) {
			break
		}
		logging.FromContext(ctx, s.log).Warn(ctx, "schedule batch raced a concurrent ingest, retrying")
	}
	if err != nil {
		s.observe("error", 0)
		return nil, err
	}
	return ids, nil
}

func (s *Service) createMany(ctx context.Context, creates []Create, sums []string, createdBy uuid.UUID) ([]uuid.UUID, error) {
	existing, err := s.store.ScheduleIDsByChecksum(ctx, sums)
	if err != nil {
		return nil, fmt.Errorf("look up schedule checksums: %w", err)
	}

	ids := make([]uuid.UUID, len(creates))
	assigned := make(map[string]uuid.UUID, len(creates))
	byTelescope := make(map[uuid.UUID]map[uuid.UUID]*model.Instrument)
	var fresh []*model.Schedule
	for i, c := range creates {
		if id, ok := existing[sums[i]]; ok {
			ids[i] = id
			continue
		}
		if id, ok := assigned[sums[i]]; ok {
			ids[i] = id
			continue
		}
		instruments, ok := byTelescope[c.TelescopeID]
		if !ok {
			if instruments, err = s.instruments(ctx, c.TelescopeID); err != nil {
				return nil, fmt.Errorf("schedule %d: %w", i, err)
			}
			byTelescope[c.TelescopeID] = instruments
		}
		sched, err := s.build(ctx, c, sums[i], instruments, createdBy)
		if err != nil {
			return nil, fmt.Errorf("schedule %d: %w", i, err)
		}
		fresh = append(fresh, sched)
		assigned[sums[i]] = sched.ID
		ids[i] = sched.ID
	}

	if len(fresh) > 0 {
		if err := s.store.InsertSchedules(ctx, fresh); err != nil {
			return nil, fmt.Errorf("insert schedules: %w", err)
		}
	}
	for _, sched := range fresh {
		s.observe("created", len(sched.Observations))
		s.announce(ctx, sched)
	}
	if dup := len(creates) - len(fresh); dup > 0 {
		s.observe("duplicate", 0)
	}
	logging.FromContext(ctx, s.log).Info(ctx, "schedule batch stored",
		logging.Int("requested", len(creates)),
		logging.Int("created", len(fresh)),
	)
	return ids, nil
}

// Get returns a schedule, with its observations when withObservations is set.
func (s *Service) Get(ctx context.Context, id uuid.UUID, withObservations bool) (*model.Schedule, error) {
	return s.store.GetSchedule(ctx, id, withObservations)
}

// List returns a page of schedules, newest date range first.
func (s *Service) List(ctx context.Context, p ReadParams) (model.Page[*model.Schedule], error) {
	return s.list(ctx, p, model.OrderByBegin)
}

// History returns a page of schedules ordered by ingest time, newest first.
func (s *Service) History(ctx context.Context, p ReadParams) (model.Page[*model.Schedule], error) {
	return s.list(ctx, p, model.OrderByCreated)
}

func (s *Service) list(ctx context.Context, p ReadParams, order model.ScheduleOrder) (model.Page[*model.Schedule], error) {
	q, err := p.Query()
	if err != nil {
		return model.Page[*model.Schedule]{}, err
	}
	q.OrderBy = order
	items, total, err := s.store.ListSchedules(ctx, q)
	if err != nil {
		return model.Page[*model.Schedule]{}, fmt.Errorf("list schedules: %w", err)
	}
	return model.NewPage(items, total, p.Pagination), nil
}

func (s *Service) instruments(ctx context.Context, telescopeID uuid.UUID) (map[uuid.UUID]*model.Instrument, error) {
	if _, err := s.store.GetTelescope(ctx, telescopeID); err != nil {
		return nil, err
	}
	list, err := s.store.InstrumentsByTelescope(ctx, telescopeID)
	if err != nil {
		return nil, fmt.Errorf("load telescope instruments: %w", err)
	}
	out := make(map[uuid.UUID]*model.Instrument, len(list))
	for _, inst := range list {
		out[inst.ID] = inst
	}
	return out, nil
}

// build resolves every observation against the telescope's instruments and
// projects polygon footprints at the observation pointing.
func (s *Service) build(ctx context.Context, c Create, sum string, instruments map[uuid.UUID]*model.Instrument, createdBy uuid.UUID) (*model.Schedule, error) {
	now := s.clock.Now().UTC()
	sched := &model.Schedule{
		ID:               s.newID(),
		TelescopeID:      c.TelescopeID,
		Name:             c.Name,
		DateRange:        c.DateRange,
		Status:           c.Status,
		ExternalID:       c.ExternalID,
		Fidelity:         c.Fidelity,
		Checksum:         sum,
		CreatedOn:        now,
		CreatedByID:      createdBy,
		ObservationCount: len(c.Observations),
	}

	obs, err := worker.Run(ctx, s.pool, func(ctx context.Context) ([]*model.Observation, error) {
		out := make([]*model.Observation, 0, len(c.Observations))
		for i := range c.Observations {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			o, err := s.observation(&c.Observations[i], instruments)
			if err != nil {
				return nil, fmt.Errorf("observation %d: %w", i, err)
			}
			o.ScheduleID = sched.ID
			o.CreatedOn = now
			o.CreatedByID = createdBy
			out = append(out, o)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	sched.Observations = obs
	return sched, nil
}

func (s *Service) observation(oc *ObservationCreate, instruments map[uuid.UUID]*model.Instrument) (*model.Observation, error) {
	inst, ok := instruments[oc.InstrumentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrScheduleInstrumentNotFound, oc.InstrumentID)
	}
	if inst.FieldOfView.RequiresPointing() && oc.PointingPosition == nil {
		return nil, fmt.Errorf("%w: instrument %s needs a pointing position", model.ErrInvalidParameters, inst.ShortName)
	}

	o := &model.Observation{
		ID:                    s.newID(),
		InstrumentID:          oc.InstrumentID,
		ObjectName:            oc.ObjectName,
		PointingPosition:      oc.PointingPosition,
		PointingAngle:         oc.PointingAngle,
		ObjectPosition:        oc.ObjectPosition,
		DateRange:             oc.DateRange,
		ExternalObservationID: oc.ExternalObservationID,
		Type:                  oc.Type,
		Status:                oc.Status,
		ExposureTime:          oc.ExposureTime,
		Depth:                 oc.Depth,
		ProposalReference:     oc.ProposalReference,
	}
	if oc.Bandpass != nil {
		bp, err := oc.Bandpass.Convert()
		if err != nil {
			return nil, err
		}
		o.Bandpass = &bp
	}
	if inst.FieldOfView == model.FOVPolygon && len(inst.Footprint) > 0 {
		roll := 0.0
		if oc.PointingAngle != nil {
			roll = *oc.PointingAngle
		}
		o.Footprint = core.Project(inst.Footprint, oc.PointingPosition.RA, oc.PointingPosition.Dec, roll)
	}
	return o, nil
}

func (s *Service) announce(ctx context.Context, sched *model.Schedule) {
	if s.publisher == nil {
		return
	}
	ev := CreatedEvent{
		ScheduleID:       sched.ID,
		TelescopeID:      sched.TelescopeID,
		Checksum:         sched.Checksum,
		Status:           sched.Status,
		ObservationCount: len(sched.Observations),
		CreatedOn:        sched.CreatedOn,
	}
	if err := s.publisher.PublishScheduleCreated(ctx, ev); err != nil {
		logging.FromContext(ctx, s.log).Warn(ctx, "publish schedule created",
			logging.String("schedule_id", sched.ID.String()),
			logging.Err(err),
		)
	}
}

func (s *Service) observe(outcome string, observations int) {
	if s.metrics != nil {
		s.metrics.ObserveIngest(outcome, observations)
	}
}
