package ephemeris

import (
	"fmt"
	"sort"
	"time"

	"github.com/signalsfoundry/across/core"
)

// statePoint is one tabulated position from an external ephemeris.
type statePoint struct {
	Time     time.Time
	Position core.Vec3
}

// interpolator linearly interpolates a time-sorted table.
type interpolator []statePoint

func newInterpolator(points []statePoint) (interpolator, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("ephemeris table is empty")
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Time.Before(points[j].Time) })
	return interpolator(points), nil
}

func (in interpolator) At(t time.Time) (core.Vec3, error) {
	first, last := in[0].Time, in[len(in)-1].Time
	if t.Before(first) || t.After(last) {
		return core.Vec3{}, fmt.Errorf("time %s outside table [%s, %s]",
			t.Format(time.RFC3339), first.Format(time.RFC3339), last.Format(time.RFC3339))
	}
	i := sort.Search(len(in), func(i int) bool { return !in[i].Time.Before(t) })
	if in[i].Time.Equal(t) || i == 0 {
		return in[i].Position, nil
	}
	a, b := in[i-1], in[i]
	f := float64(t.Sub(a.Time)) / float64(b.Time.Sub(a.Time))
	return a.Position.Add(b.Position.Sub(a.Position).Scale(f)), nil
}
