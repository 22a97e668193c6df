// Package visibility evaluates when a sky target is observable from an
// instrument and intersects the resulting windows across instruments.
package visibility

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/across/core"
	"github.com/signalsfoundry/across/internal/ephemeris"
	"github.com/signalsfoundry/across/model"
)

// Constraint is a predicate over one ephemeris sample and a target direction
// (geocentric inertial unit vector).
type Constraint interface {
	Type() model.ConstraintType
	Satisfied(s *ephemeris.Sample, target core.Vec3) bool
}

// BodyAngleConstraint bounds the angular distance between the target and the
// Sun or the Moon as seen by the observer.
type BodyAngleConstraint struct {
	Body     model.ConstraintType
	MinAngle *float64
	MaxAngle *float64
}

func (c BodyAngleConstraint) Type() model.ConstraintType { return c.Body }

func (c BodyAngleConstraint) Satisfied(s *ephemeris.Sample, target core.Vec3) bool {
	body := s.Sun
	if c.Body == model.ConstraintMoon {
		body = s.Moon
	}
	return within(target.AngleTo(body.Sub(s.Position)), c.MinAngle, c.MaxAngle)
}

// EarthLimbConstraint bounds the angle between the target and the Earth's
// limb. For a ground station the limb is the local horizon, so the angle is
// the target's altitude.
type EarthLimbConstraint struct {
	MinAngle *float64
	MaxAngle *float64
}

func (c EarthLimbConstraint) Type() model.ConstraintType { return model.ConstraintEarth }

func (c EarthLimbConstraint) Satisfied(s *ephemeris.Sample, target core.Vec3) bool {
	return within(limbAngle(s, target), c.MinAngle, c.MaxAngle)
}

func limbAngle(s *ephemeris.Sample, target core.Vec3) float64 {
	if s.Station != nil {
		return horizontal(s, target).Alt
	}
	r := s.Position.Norm()
	if r <= core.EarthRadiusKm {
		return -90
	}
	nadir := s.Position.Scale(-1)
	radius := math.Asin(core.EarthRadiusKm/r) * 180 / math.Pi
	return target.AngleTo(nadir) - radius
}

// AltAzConstraint limits a ground station to an altitude band and excludes a
// region of the local sky given as an (az, alt) polygon. It does not apply to
// space-based observers.
type AltAzConstraint struct {
	AltitudeMin *float64
	AltitudeMax *float64
	Exclusion   core.Polygon
}

func (c AltAzConstraint) Type() model.ConstraintType { return model.ConstraintAltAz }

func (c AltAzConstraint) Satisfied(s *ephemeris.Sample, target core.Vec3) bool {
	if s.Station == nil {
		return true
	}
	h := horizontal(s, target)
	if !within(h.Alt, c.AltitudeMin, c.AltitudeMax) {
		return false
	}
	if len(c.Exclusion) >= 3 && c.Exclusion.Contains(h.Az, h.Alt) {
		return false
	}
	return true
}

func horizontal(s *ephemeris.Sample, target core.Vec3) core.Horizontal {
	return s.Station.Horizon(core.ECIToECEF(target, s.GMST))
}

func within(v float64, lo, hi *float64) bool {
	if lo != nil && v < *lo {
		return false
	}
	if hi != nil && v > *hi {
		return false
	}
	return true
}

// FromModel converts a stored constraint into its evaluator.
func FromModel(c model.Constraint) (Constraint, error) {
	if c.MinAngle != nil && c.MaxAngle != nil && *c.MinAngle > *c.MaxAngle {
		return nil, fmt.Errorf("%w: %s constraint min_angle %v exceeds max_angle %v",
			model.ErrInvalidParameters, c.Type, *c.MinAngle, *c.MaxAngle)
	}
	switch c.Type {
	case model.ConstraintSun, model.ConstraintMoon:
		if c.MinAngle == nil && c.MaxAngle == nil {
			return nil, fmt.Errorf("%w: %s constraint has no angle bounds", model.ErrInvalidParameters, c.Type)
		}
		return BodyAngleConstraint{Body: c.Type, MinAngle: c.MinAngle, MaxAngle: c.MaxAngle}, nil
	case model.ConstraintEarth:
		if c.MinAngle == nil && c.MaxAngle == nil {
			return nil, fmt.Errorf("%w: earth constraint has no angle bounds", model.ErrInvalidParameters)
		}
		return EarthLimbConstraint{MinAngle: c.MinAngle, MaxAngle: c.MaxAngle}, nil
	case model.ConstraintAltAz:
		if c.AltitudeMin != nil && c.AltitudeMax != nil && *c.AltitudeMin > *c.AltitudeMax {
			return nil, fmt.Errorf("%w: alt_az altitude_min exceeds altitude_max", model.ErrInvalidParameters)
		}
		if n := len(c.Polygon); n > 0 && n < 3 {
			return nil, fmt.Errorf("%w: alt_az polygon needs at least 3 vertices, got %d", model.ErrInvalidParameters, n)
		}
		poly := make(core.Polygon, len(c.Polygon))
		for i, v := range c.Polygon {
			poly[i] = core.SkyPoint{RA: v.Az, Dec: v.Alt}
		}
		return AltAzConstraint{AltitudeMin: c.AltitudeMin, AltitudeMax: c.AltitudeMax, Exclusion: poly}, nil
	default:
		return nil, fmt.Errorf("%w: unknown constraint type %q", model.ErrInvalidParameters, c.Type)
	}
}

// FromModels converts a constraint list, failing on the first invalid entry.
func FromModels(in []model.Constraint) ([]Constraint, error) {
	out := make([]Constraint, 0, len(in))
	for i, c := range in {
		ev, err := FromModel(c)
		if err != nil {
			return nil, fmt.Errorf("constraint %d: %w", i, err)
		}
		out = append(out, ev)
	}
	return out, nil
}
