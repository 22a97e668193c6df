package core

import "math"

// EarthRadiusKm is the WGS-84 equatorial radius (kilometres).
const EarthRadiusKm = 6378.137

// Vec3 is a Cartesian vector. Positions are kilometres unless noted.
type Vec3 struct {
	X, Y, Z float64
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	return v.Sub(other).Norm()
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

func (v Vec3) Scale(k float64) Vec3 {
	return Vec3{X: v.X * k, Y: v.Y * k, Z: v.Z * k}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

func (v Vec3) Cross(other Vec3) Vec3 {
	return Vec3{
		X: v.Y*other.Z - v.Z*other.Y,
		Y: v.Z*other.X - v.X*other.Z,
		Z: v.X*other.Y - v.Y*other.X,
	}
}

// Unit returns v scaled to length one. The zero vector is returned unchanged.
func (v Vec3) Unit() Vec3 {
	n := v.Norm()
	if n == 0 {
		return v
	}
	return v.Scale(1 / n)
}

// AngleTo returns the angle between two vectors in degrees.
func (v Vec3) AngleTo(other Vec3) float64 {
	// atan2 of |a×b| and a·b stays accurate near 0° and 180°.
	return math.Atan2(v.Cross(other).Norm(), v.Dot(other)) * 180 / math.Pi
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }

func rad2deg(r float64) float64 { return r * 180 / math.Pi }
