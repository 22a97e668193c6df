package core

import "math"

// Offset is a vertex in an instrument's body frame, in degrees from the
// boresight. X points toward increasing RA and Y toward increasing Dec when
// the roll angle is zero.
type Offset struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BodyPolygon is a closed simple ring in the body frame. A repeated closing
// vertex is optional.
type BodyPolygon []Offset

// Footprint is the union of an instrument's detector polygons.
type Footprint []BodyPolygon

// Polygon is a closed ring of sky positions.
type Polygon []SkyPoint

// SkyFootprint is a footprint placed on the sky.
type SkyFootprint []Polygon

// onEdgeTolerance bounds the sine of the angle between a point and an edge's
// great circle for the point to count as lying on that edge.
const onEdgeTolerance = 1e-12

// Project places fp on the sky with its boresight at (ra, dec) and the body
// frame rotated by roll degrees. Each vertex is rotated in the body frame and
// then mapped through the inverse gnomonic projection about the boresight.
func Project(fp Footprint, ra, dec, roll float64) SkyFootprint {
	out := make(SkyFootprint, 0, len(fp))
	sinR, cosR := math.Sincos(deg2rad(roll))
	a0, d0 := deg2rad(ra), deg2rad(dec)
	sinD0, cosD0 := math.Sincos(d0)

	for _, ring := range fp {
		poly := make(Polygon, 0, len(ring))
		for _, v := range ring {
			xi := deg2rad(v.X*cosR - v.Y*sinR)
			eta := deg2rad(v.X*sinR + v.Y*cosR)

			den := cosD0 - eta*sinD0
			a := a0 + math.Atan2(xi, den)
			d := math.Atan2(sinD0+eta*cosD0, math.Hypot(xi, den))
			poly = append(poly, SkyPoint{RA: NormalizeRA(rad2deg(a)), Dec: rad2deg(d)})
		}
		out = append(out, poly)
	}
	return out
}

// Contains reports whether (ra, dec) lies inside any polygon of the footprint.
func (f SkyFootprint) Contains(ra, dec float64) bool {
	for _, p := range f {
		if p.Contains(ra, dec) {
			return true
		}
	}
	return false
}

// Contains reports whether (ra, dec) lies inside the polygon. Points on an
// edge or vertex count as inside. Edges are great-circle arcs, so the test is
// correct across RA = 0 and near the poles.
func (p Polygon) Contains(ra, dec float64) bool {
	verts := p.vertices()
	if len(verts) < 3 {
		return false
	}
	q := Unit(ra, dec)

	// The winding sum cannot tell a point from its antipode.
	var centroid Vec3
	for _, v := range verts {
		centroid = centroid.Add(v)
	}
	if q.Dot(centroid) <= 0 {
		return false
	}

	var winding float64
	for i := range verts {
		a, b := verts[i], verts[(i+1)%len(verts)]
		if onArc(q, a, b) {
			return true
		}
		// Signed angle at q between the planes through a and b.
		winding += math.Atan2(q.Dot(a.Cross(b)), a.Dot(b)-q.Dot(a)*q.Dot(b))
	}
	return math.Abs(winding) > math.Pi
}

// Area returns the solid angle of the polygon in steradians.
func (p Polygon) Area() float64 {
	verts := p.vertices()
	if len(verts) < 3 {
		return 0
	}
	var sum float64
	a := verts[0]
	for i := 1; i+1 < len(verts); i++ {
		b, c := verts[i], verts[i+1]
		num := a.Dot(b.Cross(c))
		den := 1 + a.Dot(b) + b.Dot(c) + c.Dot(a)
		sum += 2 * math.Atan2(num, den)
	}
	return math.Abs(sum)
}

// Area sums the solid angle of every polygon in the footprint.
func (f SkyFootprint) Area() float64 {
	var sum float64
	for _, p := range f {
		sum += p.Area()
	}
	return sum
}

func (p Polygon) vertices() []Vec3 {
	n := len(p)
	if n > 1 && p[0] == p[n-1] {
		n--
	}
	out := make([]Vec3, 0, n)
	for _, sp := range p[:n] {
		out = append(out, sp.Unit())
	}
	return out
}

func onArc(q, a, b Vec3) bool {
	n := a.Cross(b)
	nn := n.Norm()
	if nn < onEdgeTolerance {
		return q.Sub(a).Norm() < onEdgeTolerance
	}
	if math.Abs(q.Dot(n))/nn > onEdgeTolerance {
		return false
	}
	return a.Cross(q).Dot(n) >= 0 && q.Cross(b).Dot(n) >= 0 && q.Dot(a.Add(b)) > 0
}
