package core

import (
	"math"
	"time"
)

// AUKm is the astronomical unit in kilometres.
const AUKm = 149597870.7

// SunPosition returns the geocentric equatorial position of the Sun in
// kilometres, using the Astronomical Almanac low-precision series (about
// 0.01° over 1950-2050).
func SunPosition(t time.Time) Vec3 {
	n := JulianDate(t) - J2000
	l := 280.460 + 0.9856474*n
	g := deg2rad(357.528 + 0.9856003*n)

	lambda := deg2rad(l + 1.915*math.Sin(g) + 0.020*math.Sin(2*g))
	r := (1.00014 - 0.01671*math.Cos(g) - 0.00014*math.Cos(2*g)) * AUKm
	eps := deg2rad(23.439 - 0.0000004*n)

	sinL, cosL := math.Sincos(lambda)
	return Vec3{
		X: r * cosL,
		Y: r * math.Cos(eps) * sinL,
		Z: r * math.Sin(eps) * sinL,
	}
}

// MoonPosition returns the geocentric equatorial position of the Moon in
// kilometres, using the Astronomical Almanac low-precision series (about
// 0.3° in longitude).
func MoonPosition(t time.Time) Vec3 {
	tc := (JulianDate(t) - J2000) / 36525.0
	sind := func(d float64) float64 { return math.Sin(deg2rad(d)) }
	cosd := func(d float64) float64 { return math.Cos(deg2rad(d)) }

	lambda := 218.32 + 481267.881*tc +
		6.29*sind(135.0+477198.87*tc) -
		1.27*sind(259.3-413335.36*tc) +
		0.66*sind(235.7+890534.22*tc) +
		0.21*sind(269.9+954397.74*tc) -
		0.19*sind(357.5+35999.05*tc) -
		0.11*sind(186.5+966404.03*tc)
	beta := 5.13*sind(93.3+483202.02*tc) +
		0.28*sind(228.2+960400.89*tc) -
		0.28*sind(318.3+6003.15*tc) -
		0.17*sind(217.6-407332.21*tc)
	parallax := 0.9508 +
		0.0518*cosd(134.9+477198.85*tc) +
		0.0095*cosd(259.2-413335.38*tc) +
		0.0078*cosd(235.7+890534.23*tc) +
		0.0028*cosd(269.9+954397.70*tc)

	r := 6378.14 / sind(parallax)
	l := cosd(beta) * cosd(lambda)
	m := 0.9175*cosd(beta)*sind(lambda) - 0.3978*sind(beta)
	nz := 0.3978*cosd(beta)*sind(lambda) + 0.9175*sind(beta)
	return Vec3{X: r * l, Y: r * m, Z: r * nz}
}
