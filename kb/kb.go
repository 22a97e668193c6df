// Package kb is the in-memory catalog and schedule store. It backs tests and
// single-process deployments and implements the same read and write surface
// as the Postgres store.
package kb

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/across/core"
	"github.com/signalsfoundry/across/model"
)

// coneTolerance, in meters, lets a radius that lands exactly on a pointing
// still match it after rounding.
const coneTolerance = 1e-3

type tleKey struct {
	norad int
	epoch int64
}

// KnowledgeBase is an in-memory, thread-safe store.
type KnowledgeBase struct {
	mu sync.RWMutex

	observatories map[uuid.UUID]*model.Observatory
	telescopes    map[uuid.UUID]*model.Telescope
	instruments   map[uuid.UUID]*model.Instrument
	tles          map[tleKey]model.TLE

	schedules    map[uuid.UUID]*model.Schedule
	checksums    map[string]uuid.UUID
	observations map[uuid.UUID]*model.Observation
	// insertion order of schedules and observations
	scheduleOrder    []uuid.UUID
	observationOrder []uuid.UUID
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		observatories: make(map[uuid.UUID]*model.Observatory),
		telescopes:    make(map[uuid.UUID]*model.Telescope),
		instruments:   make(map[uuid.UUID]*model.Instrument),
		tles:          make(map[tleKey]model.TLE),
		schedules:     make(map[uuid.UUID]*model.Schedule),
		checksums:     make(map[string]uuid.UUID),
		observations:  make(map[uuid.UUID]*model.Observation),
	}
}

// Ping always succeeds.
func (kb *KnowledgeBase) Ping(context.Context) error { return nil }

// AddObservatory adds a new observatory. It returns an error if the ID
// already exists or an ephemeris configuration is malformed.
func (kb *KnowledgeBase) AddObservatory(o *model.Observatory) error {
	if len(o.EphemerisConfigs) == 0 {
		return fmt.Errorf("%w: observatory %s has no ephemeris configuration", model.ErrInvalidParameters, o.ID)
	}
	seen := make(map[string]bool)
	for _, c := range o.EphemerisConfigs {
		if err := c.Validate(); err != nil {
			return err
		}
		key := fmt.Sprintf("%s/%d", c.Kind, c.Priority)
		if seen[key] {
			return fmt.Errorf("%w: observatory %s repeats %s priority %d", model.ErrInvalidParameters, o.ID, c.Kind, c.Priority)
		}
		seen[key] = true
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()
	if _, exists := kb.observatories[o.ID]; exists {
		return fmt.Errorf("observatory with ID %q already exists", o.ID)
	}
	cp := *o
	kb.observatories[o.ID] = &cp
	return nil
}

// AddTelescope adds a telescope. The referenced observatory must exist.
func (kb *KnowledgeBase) AddTelescope(t *model.Telescope) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if _, exists := kb.telescopes[t.ID]; exists {
		return fmt.Errorf("telescope with ID %q already exists", t.ID)
	}
	if _, ok := kb.observatories[t.ObservatoryID]; !ok {
		return fmt.Errorf("telescope %s: %w: %s", t.ID, model.ErrObservatoryNotFound, t.ObservatoryID)
	}
	cp := *t
	kb.telescopes[t.ID] = &cp
	return nil
}

// AddInstrument adds an instrument. The referenced telescope must exist; the
// observatory is taken from it.
func (kb *KnowledgeBase) AddInstrument(i *model.Instrument) error {
	if err := i.Validate(); err != nil {
		return err
	}
	kb.mu.Lock()
	defer kb.mu.Unlock()
	if _, exists := kb.instruments[i.ID]; exists {
		return fmt.Errorf("instrument with ID %q already exists", i.ID)
	}
	tel, ok := kb.telescopes[i.TelescopeID]
	if !ok {
		return fmt.Errorf("instrument %s: %w: %s", i.ID, model.ErrTelescopeNotFound, i.TelescopeID)
	}
	cp := *i
	cp.ObservatoryID = tel.ObservatoryID
	kb.instruments[i.ID] = &cp
	return nil
}

// LoadCatalog reads a JSON catalog and adds every record in dependency order.
func (kb *KnowledgeBase) LoadCatalog(r io.Reader) error {
	c, err := model.DecodeCatalog(r)
	if err != nil {
		return err
	}
	for _, o := range c.Observatories {
		if err := kb.AddObservatory(o); err != nil {
			return err
		}
	}
	for _, t := range c.Telescopes {
		if err := kb.AddTelescope(t); err != nil {
			return err
		}
	}
	for _, i := range c.Instruments {
		if err := kb.AddInstrument(i); err != nil {
			return err
		}
	}
	_, err = kb.UpsertTLEs(context.Background(), c.TLEs)
	return err
}

func (kb *KnowledgeBase) GetObservatory(_ context.Context, id uuid.UUID) (*model.Observatory, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	o, ok := kb.observatories[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrObservatoryNotFound, id)
	}
	cp := *o
	return &cp, nil
}

func (kb *KnowledgeBase) GetTelescope(_ context.Context, id uuid.UUID) (*model.Telescope, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	t, ok := kb.telescopes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrTelescopeNotFound, id)
	}
	cp := *t
	return &cp, nil
}

func (kb *KnowledgeBase) GetInstrument(_ context.Context, id uuid.UUID) (*model.Instrument, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	i, ok := kb.instruments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrInstrumentNotFound, id)
	}
	cp := *i
	return &cp, nil
}

// InstrumentsByTelescope lists a telescope's instruments by short name.
func (kb *KnowledgeBase) InstrumentsByTelescope(_ context.Context, telescopeID uuid.UUID) ([]*model.Instrument, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	out := make([]*model.Instrument, 0)
	for _, i := range kb.instruments {
		if i.TelescopeID == telescopeID {
			cp := *i
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ShortName < out[b].ShortName })
	return out, nil
}

func (kb *KnowledgeBase) InstrumentFootprints(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]core.Footprint, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	out := make(map[uuid.UUID]core.Footprint, len(ids))
	for _, id := range ids {
		if i, ok := kb.instruments[id]; ok && len(i.Footprint) > 0 {
			out[id] = i.Footprint
		}
	}
	return out, nil
}

// UpsertTLEs stores element sets keyed by (NORAD id, epoch) and returns how
// many were new or changed.
func (kb *KnowledgeBase) UpsertTLEs(_ context.Context, tles []model.TLE) (int, error) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	n := 0
	for _, t := range tles {
		t.Epoch = t.Epoch.UTC()
		k := tleKey{norad: t.NoradID, epoch: t.Epoch.UnixNano()}
		if prev, ok := kb.tles[k]; ok && prev == t {
			continue
		}
		kb.tles[k] = t
		n++
	}
	return n, nil
}

// NearestTLE returns the element set whose epoch is closest to epoch. Ties go
// to the earlier record.
func (kb *KnowledgeBase) NearestTLE(_ context.Context, noradID int, epoch time.Time) (*model.TLE, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	var best *model.TLE
	var bestGap time.Duration
	for k, t := range kb.tles {
		if k.norad != noradID {
			continue
		}
		gap := t.Epoch.Sub(epoch)
		if gap < 0 {
			gap = -gap
		}
		if best == nil || gap < bestGap || (gap == bestGap && t.Epoch.Before(best.Epoch)) {
			cp := t
			best, bestGap = &cp, gap
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: norad id %d", model.ErrTLENotFound, noradID)
	}
	return best, nil
}

func (kb *KnowledgeBase) ScheduleIDsByChecksum(_ context.Context, checksums []string) (map[string]uuid.UUID, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	out := make(map[string]uuid.UUID)
	for _, c := range checksums {
		if id, ok := kb.checksums[c]; ok {
			out[c] = id
		}
	}
	return out, nil
}

// InsertSchedules stores every schedule or none of them.
func (kb *KnowledgeBase) InsertSchedules(_ context.Context, schedules []*model.Schedule) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	batch := make(map[string]bool, len(schedules))
	for _, s := range schedules {
		if _, ok := kb.checksums[s.Checksum]; ok || batch[s.Checksum] {
			return fmt.Errorf("checksum %s: %w", s.Checksum, model.ErrDuplicateSchedule)
		}
		batch[s.Checksum] = true
		if _, ok := kb.telescopes[s.TelescopeID]; !ok {
			return fmt.Errorf("%w: %s", model.ErrTelescopeNotFound, s.TelescopeID)
		}
		for _, o := range s.Observations {
			if _, ok := kb.instruments[o.InstrumentID]; !ok {
				return fmt.Errorf("%w: %s", model.ErrScheduleInstrumentNotFound, o.InstrumentID)
			}
		}
	}

	for _, s := range schedules {
		cp := *s
		cp.Observations = nil
		cp.ObservationCount = len(s.Observations)
		kb.schedules[s.ID] = &cp
		kb.checksums[s.Checksum] = s.ID
		kb.scheduleOrder = append(kb.scheduleOrder, s.ID)
		for _, o := range s.Observations {
			oc := *o
			oc.ScheduleID = s.ID
			kb.observations[o.ID] = &oc
			kb.observationOrder = append(kb.observationOrder, o.ID)
		}
	}
	return nil
}

func (kb *KnowledgeBase) GetSchedule(_ context.Context, id uuid.UUID, withObservations bool) (*model.Schedule, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	s, ok := kb.schedules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrScheduleNotFound, id)
	}
	cp := *s
	if withObservations {
		cp.Observations = make([]*model.Observation, 0, s.ObservationCount)
		for _, oid := range kb.observationOrder {
			if o := kb.observations[oid]; o.ScheduleID == id {
				oc := *o
				cp.Observations = append(cp.Observations, &oc)
			}
		}
	}
	return &cp, nil
}

func (kb *KnowledgeBase) ListSchedules(_ context.Context, q model.ScheduleQuery) ([]*model.Schedule, int, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	var hits []*model.Schedule
	for _, id := range kb.scheduleOrder {
		s := kb.schedules[id]
		if kb.scheduleMatches(s, q) {
			cp := *s
			hits = append(hits, &cp)
		}
	}
	sort.SliceStable(hits, func(a, b int) bool {
		if q.OrderBy == model.OrderByCreated {
			return hits[a].CreatedOn.After(hits[b].CreatedOn)
		}
		return hits[a].DateRange.Begin.After(hits[b].DateRange.Begin)
	})
	page, total := window(hits, q.Offset, q.Limit)
	return page, total, nil
}

func (kb *KnowledgeBase) scheduleMatches(s *model.Schedule, q model.ScheduleQuery) bool {
	switch {
	case q.ExternalID != nil && (s.ExternalID == nil || !containsFold(*s.ExternalID, *q.ExternalID)):
		return false
	case q.Name != nil && !containsFold(s.Name, *q.Name):
		return false
	case len(q.TelescopeIDs) > 0 && !hasID(q.TelescopeIDs, s.TelescopeID):
		return false
	case q.Status != nil && s.Status != *q.Status:
		return false
	case q.Fidelity != nil && s.Fidelity != *q.Fidelity:
		return false
	case q.CreatedByID != nil && s.CreatedByID != *q.CreatedByID:
		return false
	case !overlaps(s.DateRange, q.Begin, q.End):
		return false
	}
	if len(q.ObservatoryIDs) > 0 {
		t, ok := kb.telescopes[s.TelescopeID]
		if !ok || !hasID(q.ObservatoryIDs, t.ObservatoryID) {
			return false
		}
	}
	return true
}

func (kb *KnowledgeBase) GetObservation(_ context.Context, id uuid.UUID) (*model.Observation, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	o, ok := kb.observations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrObservationNotFound, id)
	}
	cp := *o
	return &cp, nil
}

// ListObservations filters, sorts newest first and pages. The returned total
// counts every match.
func (kb *KnowledgeBase) ListObservations(_ context.Context, q model.ObservationQuery) ([]*model.Observation, int, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	var hits []*model.Observation
	for _, id := range kb.observationOrder {
		o := kb.observations[id]
		if kb.observationMatches(o, q) {
			cp := *o
			hits = append(hits, &cp)
		}
	}
	sort.SliceStable(hits, func(a, b int) bool {
		if q.OrderBy == model.OrderObservationsByCreated {
			return hits[a].CreatedOn.After(hits[b].CreatedOn)
		}
		return hits[a].DateRange.Begin.After(hits[b].DateRange.Begin)
	})
	page, total := window(hits, q.Offset, q.Limit)
	return page, total, nil
}

func (kb *KnowledgeBase) observationMatches(o *model.Observation, q model.ObservationQuery) bool {
	switch {
	case q.ExternalID != nil && (o.ExternalObservationID == nil || !containsFold(*o.ExternalObservationID, *q.ExternalID)):
		return false
	case len(q.ScheduleIDs) > 0 && !hasID(q.ScheduleIDs, o.ScheduleID):
		return false
	case len(q.InstrumentIDs) > 0 && !hasID(q.InstrumentIDs, o.InstrumentID):
		return false
	case q.Status != nil && o.Status != *q.Status:
		return false
	case q.Type != nil && o.Type != *q.Type:
		return false
	case q.Proposal != nil && (o.ProposalReference == nil || !containsFold(*o.ProposalReference, *q.Proposal)):
		return false
	case q.ObjectName != nil && !containsFold(o.ObjectName, *q.ObjectName):
		return false
	case !overlaps(o.DateRange, q.Begin, q.End):
		return false
	case q.Cone != nil && !inCone(o.PointingPosition, q.Cone):
		return false
	case q.Depth != nil && !deepEnough(o.Depth, q.Depth):
		return false
	case q.Wavelength != nil && (o.Bandpass == nil ||
		o.Bandpass.MinWavelength < q.Wavelength.Min || o.Bandpass.MaxWavelength > q.Wavelength.Max):
		return false
	}
	if len(q.TelescopeIDs) > 0 || len(q.ObservatoryIDs) > 0 {
		inst, ok := kb.instruments[o.InstrumentID]
		if !ok {
			return false
		}
		if len(q.TelescopeIDs) > 0 && !hasID(q.TelescopeIDs, inst.TelescopeID) {
			return false
		}
		if len(q.ObservatoryIDs) > 0 && !hasID(q.ObservatoryIDs, inst.ObservatoryID) {
			return false
		}
	}
	return true
}

// overlaps reports whether r intersects [begin, end]; either bound may be open.
func overlaps(r model.DateRange, begin, end *time.Time) bool {
	if begin != nil && r.End.Before(*begin) {
		return false
	}
	if end != nil && r.Begin.After(*end) {
		return false
	}
	return true
}

func inCone(p *model.Coordinate, c *model.ConeSearch) bool {
	if p == nil {
		return false
	}
	d := core.DegreesToMeters(core.Separation(p.RA, p.Dec, c.RA, c.Dec))
	return d <= c.RadiusMeters+coneTolerance
}

// deepEnough matches observations at least as deep as want in the same unit.
// Magnitudes grow fainter upward; fluxes grow fainter downward.
func deepEnough(have *model.Depth, want *model.Depth) bool {
	if have == nil || have.Unit != want.Unit || math.IsNaN(have.Value) {
		return false
	}
	switch want.Unit {
	case model.DepthABMag, model.DepthVegaMag:
		return have.Value >= want.Value
	default:
		return have.Value <= want.Value
	}
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func hasID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func window[T any](items []T, offset, limit int) ([]T, int) {
	total := len(items)
	if offset < 0 || offset > total {
		offset = total
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	if items == nil {
		items = []T{}
	}
	return items, total
}
