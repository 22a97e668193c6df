package core

import (
	"fmt"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// Orbit propagates a two-line element set with SGP4.
type Orbit struct {
	sat satellite.Satellite
}

// NewOrbit parses a TLE. The lines are checked before they reach go-satellite,
// which exits the process on malformed input.
func NewOrbit(line1, line2 string) (*Orbit, error) {
	line1 = strings.TrimRight(line1, " \r\n")
	line2 = strings.TrimRight(line2, " \r\n")
	if len(line1) != 69 || len(line2) != 69 {
		return nil, fmt.Errorf("tle lines must be 69 characters, got %d and %d", len(line1), len(line2))
	}
	if !strings.HasPrefix(line1, "1 ") || !strings.HasPrefix(line2, "2 ") {
		return nil, fmt.Errorf("tle lines must start with \"1 \" and \"2 \"")
	}

	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	if sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init failed: code=%d %s", sat.Error, sat.ErrorStr)
	}
	return &Orbit{sat: sat}, nil
}

// PositionECI returns the inertial (TEME) position at t in kilometres.
func (o *Orbit) PositionECI(t time.Time) (Vec3, error) {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	pos, _ := satellite.Propagate(o.sat, year, int(month), day, hour, min, sec)
	v := Vec3{X: pos.X, Y: pos.Y, Z: pos.Z}
	if math.IsNaN(v.X) || math.IsNaN(v.Y) || math.IsNaN(v.Z) ||
		math.IsInf(v.X, 0) || math.IsInf(v.Y, 0) || math.IsInf(v.Z, 0) {
		return Vec3{}, fmt.Errorf("sgp4 propagation diverged at %s", t.Format(time.RFC3339))
	}
	if r := v.Norm(); r < EarthRadiusKm*0.98 {
		return Vec3{}, fmt.Errorf("sgp4 propagation decayed at %s: radius %.1f km", t.Format(time.RFC3339), r)
	}
	return v, nil
}

// PositionECEF returns the Earth-fixed position at t in kilometres.
func (o *Orbit) PositionECEF(t time.Time) (Vec3, error) {
	eci, err := o.PositionECI(t)
	if err != nil {
		return Vec3{}, err
	}
	year, month, day := t.UTC().Date()
	hour, min, sec := t.UTC().Clock()
	gmst := satellite.ThetaG_JD(satellite.JDay(year, int(month), day, hour, min, sec))
	return ECIToECEF(eci, gmst), nil
}
