package core

import (
	"math"
	"testing"
	"time"
)

func TestJulianDate(t *testing.T) {
	j2000 := time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)
	if got := JulianDate(j2000); got != J2000 {
		t.Fatalf("JulianDate(J2000) = %v, want %v", got, J2000)
	}
	ts := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
	if back := TimeFromJulianDate(JulianDate(ts)); back.Sub(ts).Abs() > time.Millisecond {
		t.Fatalf("round trip = %v, want %v", back, ts)
	}
}

func TestGMSTAtJ2000(t *testing.T) {
	got := GMST(time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC))
	want := deg2rad(280.46061837)
	if math.Abs(got-want) > 1e-6 {
		t.Fatalf("GMST = %v, want %v", got, want)
	}
}

func TestECIRoundTrip(t *testing.T) {
	v := Vec3{X: 7000, Y: -1200, Z: 300}
	g := 1.234
	back := ECIToECEF(ECEFToECI(v, g), g)
	if back.DistanceTo(v) > 1e-9 {
		t.Fatalf("round trip = %+v, want %+v", back, v)
	}
}

func TestStationECEF(t *testing.T) {
	s := NewStation(0, 0, 0)
	if math.Abs(s.ECEF.X-EarthRadiusKm) > 1e-9 || s.ECEF.Y != 0 || s.ECEF.Z != 0 {
		t.Fatalf("equator station ECEF = %+v", s.ECEF)
	}
	pole := NewStation(90, 0, 0)
	if math.Abs(pole.ECEF.Z-6356.752) > 1e-3 {
		t.Fatalf("polar radius = %v, want 6356.752", pole.ECEF.Z)
	}
}

func TestStationHorizon(t *testing.T) {
	s := NewStation(0, 0, 0)
	tests := []struct {
		name    string
		dir     Vec3
		alt, az float64
	}{
		{"zenith", Vec3{X: 1}, 90, 0},
		{"north", Vec3{Z: 1}, 0, 0},
		{"east", Vec3{Y: 1}, 0, 90},
		{"west", Vec3{Y: -1}, 0, 270},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := s.Horizon(tt.dir)
			if math.Abs(h.Alt-tt.alt) > 1e-9 {
				t.Fatalf("alt = %v, want %v", h.Alt, tt.alt)
			}
			if tt.alt != 90 && math.Abs(h.Az-tt.az) > 1e-9 {
				t.Fatalf("az = %v, want %v", h.Az, tt.az)
			}
		})
	}
}

func TestSunDeclination(t *testing.T) {
	solstice := FromVector(SunPosition(time.Date(2024, 6, 20, 20, 51, 0, 0, time.UTC)))
	if math.Abs(solstice.Dec-23.44) > 0.05 {
		t.Fatalf("solstice dec = %v, want ~23.44", solstice.Dec)
	}
	equinox := FromVector(SunPosition(time.Date(2024, 3, 20, 3, 6, 0, 0, time.UTC)))
	if math.Abs(equinox.Dec) > 0.05 {
		t.Fatalf("equinox dec = %v, want ~0", equinox.Dec)
	}
	if d := SunPosition(time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)).Norm() / AUKm; math.Abs(d-0.983) > 0.002 {
		t.Fatalf("perihelion distance = %v AU", d)
	}
}

func TestMoonDistance(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for h := 0; h < 30*24; h += 12 {
		d := MoonPosition(start.Add(time.Duration(h) * time.Hour)).Norm()
		if d < 350000 || d > 410000 {
			t.Fatalf("moon distance %v km at +%dh", d, h)
		}
	}
}
