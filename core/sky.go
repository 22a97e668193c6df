package core

import "math"

// MetersPerDegree is the length of one degree of arc on the sphere used to
// express cone-search radii in meters.
const MetersPerDegree = 111195.0

// SphereRadiusMeters is the radius of that sphere.
const SphereRadiusMeters = MetersPerDegree * 180 / math.Pi

// SkyPoint is an equatorial position in degrees. RA lies in [0, 360).
type SkyPoint struct {
	RA  float64 `json:"ra"`
	Dec float64 `json:"dec"`
}

// Unit returns the direction of (ra, dec) as a unit vector.
func Unit(ra, dec float64) Vec3 {
	a, d := deg2rad(ra), deg2rad(dec)
	cd := math.Cos(d)
	return Vec3{X: cd * math.Cos(a), Y: cd * math.Sin(a), Z: math.Sin(d)}
}

func (p SkyPoint) Unit() Vec3 { return Unit(p.RA, p.Dec) }

// FromVector returns the equatorial direction of v.
func FromVector(v Vec3) SkyPoint {
	r := math.Hypot(v.X, v.Y)
	return SkyPoint{
		RA:  NormalizeRA(rad2deg(math.Atan2(v.Y, v.X))),
		Dec: rad2deg(math.Atan2(v.Z, r)),
	}
}

// NormalizeRA wraps an angle into [0, 360).
func NormalizeRA(ra float64) float64 {
	ra = math.Mod(ra, 360)
	if ra < 0 {
		ra += 360
	}
	if ra >= 360 {
		ra = 0
	}
	return ra + 0 // drop negative zero
}

// Separation returns the great-circle angle between two directions in degrees.
func Separation(ra1, dec1, ra2, dec2 float64) float64 {
	return Unit(ra1, dec1).AngleTo(Unit(ra2, dec2))
}

// DegreesToMeters converts an arc to meters on the cone-search sphere.
func DegreesToMeters(deg float64) float64 { return deg * MetersPerDegree }

// RAToLongitude maps RA in [0, 360) onto longitude in (-180, 180] for storage
// as a geographic point.
func RAToLongitude(ra float64) float64 {
	ra = NormalizeRA(ra)
	if ra > 180 {
		return ra - 360
	}
	return ra
}
