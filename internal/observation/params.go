// Package observation answers catalog queries over stored observations:
// filtered listings and point-in-footprint overlap.
package observation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/across/core"
	"github.com/signalsfoundry/across/internal/bandpass"
	"github.com/signalsfoundry/across/model"
)

// ReadParams are the raw filters of an observation listing. Cone search,
// depth and bandpass are all-or-nothing groups.
type ReadParams struct {
	ExternalID     *string
	ScheduleIDs    []uuid.UUID
	ObservatoryIDs []uuid.UUID
	TelescopeIDs   []uuid.UUID
	InstrumentIDs  []uuid.UUID
	Status         *model.Status
	Type           *model.ObservationType
	Proposal       *string
	ObjectName     *string
	Begin          *time.Time
	End            *time.Time

	ConeRA            *float64
	ConeDec           *float64
	ConeRadiusDegrees *float64

	DepthValue *float64
	DepthUnit  *model.DepthUnit

	BandpassMin  *float64
	BandpassMax  *float64
	BandpassUnit *string

	Pagination model.Pagination
}

// Query validates p and returns the normalized store query.
func (p ReadParams) Query() (model.ObservationQuery, error) {
	if err := p.Pagination.Validate(); err != nil {
		return model.ObservationQuery{}, err
	}
	q := model.ObservationQuery{
		ExternalID:     trimmed(p.ExternalID),
		ScheduleIDs:    p.ScheduleIDs,
		ObservatoryIDs: p.ObservatoryIDs,
		TelescopeIDs:   p.TelescopeIDs,
		InstrumentIDs:  p.InstrumentIDs,
		Proposal:       trimmed(p.Proposal),
		ObjectName:     trimmed(p.ObjectName),
		Begin:          utc(p.Begin),
		End:            utc(p.End),
	}
	q.Offset, q.Limit = p.Pagination.Bounds()

	if p.Status != nil {
		if !p.Status.Valid() {
			return q, fmt.Errorf("%w: unknown status %q", model.ErrInvalidParameters, *p.Status)
		}
		q.Status = p.Status
	}
	if p.Type != nil {
		if !p.Type.Valid() {
			return q, fmt.Errorf("%w: unknown observation type %q", model.ErrInvalidParameters, *p.Type)
		}
		q.Type = p.Type
	}
	if q.Begin != nil && q.End != nil && q.End.Before(*q.Begin) {
		return q, fmt.Errorf("%w: end before begin", model.ErrInvalidParameters)
	}

	switch n := count(p.ConeRA != nil, p.ConeDec != nil, p.ConeRadiusDegrees != nil); n {
	case 0:
	case 3:
		if *p.ConeRadiusDegrees <= 0 || *p.ConeDec < -90 || *p.ConeDec > 90 {
			return q, fmt.Errorf("%w: cone search needs dec in [-90, 90] and a positive radius", model.ErrInvalidParameters)
		}
		q.Cone = &model.ConeSearch{
			RA:           core.NormalizeRA(*p.ConeRA),
			Dec:          *p.ConeDec,
			RadiusMeters: core.DegreesToMeters(*p.ConeRadiusDegrees),
		}
	default:
		return q, fmt.Errorf("%w: cone search needs ra, dec and radius", model.ErrInvalidObservationReadParameters)
	}

	switch n := count(p.DepthValue != nil, p.DepthUnit != nil); n {
	case 0:
	case 2:
		if !p.DepthUnit.Valid() {
			return q, fmt.Errorf("%w: unknown depth unit %q", model.ErrInvalidParameters, *p.DepthUnit)
		}
		q.Depth = &model.Depth{Value: *p.DepthValue, Unit: *p.DepthUnit}
	default:
		return q, fmt.Errorf("%w: depth needs value and unit", model.ErrInvalidObservationReadParameters)
	}

	switch n := count(p.BandpassMin != nil, p.BandpassMax != nil, p.BandpassUnit != nil); n {
	case 0:
	case 3:
		r, err := bandpass.Range(*p.BandpassMin, *p.BandpassMax, bandpass.Unit(*p.BandpassUnit))
		if err != nil {
			return q, err
		}
		q.Wavelength = &r
	default:
		return q, fmt.Errorf("%w: bandpass needs min, max and unit", model.ErrInvalidObservationReadParameters)
	}
	return q, nil
}

// OverlapParams selects observations whose projected footprint contains
// (RA, Dec). Cone search fields of ReadParams are ignored.
type OverlapParams struct {
	ReadParams
	RA  float64
	Dec float64
}

func count(flags ...bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
