package core

import (
	"math"
	"time"
)

// J2000 is the Julian Date of the J2000.0 epoch.
const J2000 = 2451545.0

// WGS-84 ellipsoid, metres.
const (
	wgs84A  = 6378137.0
	wgs84F  = 1.0 / 298.257223563
	wgs84E2 = wgs84F * (2 - wgs84F)
)

// JulianDate converts a UTC instant to a Julian Date.
func JulianDate(t time.Time) float64 {
	// Seconds since the Unix epoch keep sub-millisecond precision without the
	// calendar arithmetic.
	t = t.UTC()
	secs := float64(t.Unix()) + float64(t.Nanosecond())/1e9
	return 2440587.5 + secs/86400.0
}

// TimeFromJulianDate is the inverse of JulianDate.
func TimeFromJulianDate(jd float64) time.Time {
	secs := (jd - 2440587.5) * 86400.0
	whole := math.Floor(secs)
	return time.Unix(int64(whole), int64(math.Round((secs-whole)*1e9))).UTC()
}

// GMST returns Greenwich Mean Sidereal Time in radians (IAU-82), treating UTC
// as UT1.
func GMST(t time.Time) float64 {
	tu := (JulianDate(t) - J2000) / 36525.0
	sec := 67310.54841 +
		(876600.0*3600.0+8640184.812866)*tu +
		0.093104*tu*tu -
		6.2e-6*tu*tu*tu
	sec = math.Mod(sec, 86400.0)
	if sec < 0 {
		sec += 86400.0
	}
	return sec / 86400.0 * 2 * math.Pi
}

// ECEFToECI rotates an Earth-fixed vector into the inertial frame at the
// given sidereal angle.
func ECEFToECI(v Vec3, gmst float64) Vec3 {
	s, c := math.Sincos(gmst)
	return Vec3{X: v.X*c - v.Y*s, Y: v.X*s + v.Y*c, Z: v.Z}
}

// ECIToECEF is the inverse rotation of ECEFToECI.
func ECIToECEF(v Vec3, gmst float64) Vec3 {
	s, c := math.Sincos(gmst)
	return Vec3{X: v.X*c + v.Y*s, Y: -v.X*s + v.Y*c, Z: v.Z}
}

// Station is a fixed site on the WGS-84 ellipsoid.
type Station struct {
	Latitude  float64 // degrees
	Longitude float64 // degrees
	Height    float64 // metres above the ellipsoid
	ECEF      Vec3    // kilometres
}

func NewStation(lat, lon, height float64) Station {
	sinLat, cosLat := math.Sincos(deg2rad(lat))
	sinLon, cosLon := math.Sincos(deg2rad(lon))
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	return Station{
		Latitude:  lat,
		Longitude: lon,
		Height:    height,
		ECEF: Vec3{
			X: (n + height) * cosLat * cosLon / 1000,
			Y: (n + height) * cosLat * sinLon / 1000,
			Z: (n*(1-wgs84E2) + height) * sinLat / 1000,
		},
	}
}

// Horizontal is a topocentric direction. Az is 0 at north, increasing east.
type Horizontal struct {
	Alt float64 `json:"alt"`
	Az  float64 `json:"az"`
}

// Horizon returns the altitude and azimuth of an Earth-fixed direction seen
// from the station, using the south-east-zenith frame.
func (s Station) Horizon(dir Vec3) Horizontal {
	sinLat, cosLat := math.Sincos(deg2rad(s.Latitude))
	sinLon, cosLon := math.Sincos(deg2rad(s.Longitude))

	south := sinLat*cosLon*dir.X + sinLat*sinLon*dir.Y - cosLat*dir.Z
	east := -sinLon*dir.X + cosLon*dir.Y
	zenith := cosLat*cosLon*dir.X + cosLat*sinLon*dir.Y + sinLat*dir.Z

	alt := math.Atan2(zenith, math.Hypot(south, east))
	az := math.Atan2(east, -south)
	if az < 0 {
		az += 2 * math.Pi
	}
	return Horizontal{Alt: rad2deg(alt), Az: rad2deg(az)}
}

// LookAngles returns the horizontal position of an Earth-fixed point.
func (s Station) LookAngles(target Vec3) Horizontal {
	return s.Horizon(target.Sub(s.ECEF))
}
