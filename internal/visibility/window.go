package visibility

import (
	"sort"
	"strings"
	"time"
)

// ReasonRange marks a window edge set by the requested range rather than by
// a constraint.
const ReasonRange = "window"

// Window is a closed interval during which the target passes every
// constraint. BeginReason and EndReason name the constraint types that failed
// just outside the window, comma separated and sorted.
type Window struct {
	Begin       time.Time `json:"begin"`
	End         time.Time `json:"end"`
	BeginReason string    `json:"begin_reason"`
	EndReason   string    `json:"end_reason"`
}

// Duration is End minus Begin.
func (w Window) Duration() time.Duration { return w.End.Sub(w.Begin) }

// collapse turns per-sample failures into maximal windows. failed[i] lists the
// constraint types that rejected sample i; an empty list means visible.
// Windows made of a single sample and windows shorter than minDuration are
// dropped.
func collapse(times []time.Time, failed [][]string, minDuration time.Duration) []Window {
	out := []Window{}
	start := -1
	emit := func(first, last int) {
		if !times[last].After(times[first]) {
			return
		}
		w := Window{Begin: times[first], End: times[last], BeginReason: ReasonRange, EndReason: ReasonRange}
		if first > 0 {
			w.BeginReason = reason(failed[first-1])
		}
		if last < len(times)-1 {
			w.EndReason = reason(failed[last+1])
		}
		if w.Duration() >= minDuration {
			out = append(out, w)
		}
	}

	for i := range times {
		visible := len(failed[i]) == 0
		switch {
		case visible && start < 0:
			start = i
		case !visible && start >= 0:
			emit(start, i-1)
			start = -1
		}
	}
	if start >= 0 {
		emit(start, len(times)-1)
	}
	return out
}

func reason(kinds []string) string {
	return mergeReasons(strings.Join(kinds, ","), "")
}

// mergeReasons unions two comma separated reason lists into sorted order.
func mergeReasons(a, b string) string {
	seen := map[string]struct{}{}
	for _, s := range []string{a, b} {
		for _, k := range strings.Split(s, ",") {
			if k != "" {
				seen[k] = struct{}{}
			}
		}
	}
	kinds := make([]string, 0, len(seen))
	for k := range seen {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return strings.Join(kinds, ",")
}

// Joint returns the instants covered by every input set as maximal windows.
// No sets gives no windows; a single set is returned unchanged.
func Joint(sets ...[]Window) []Window {
	switch len(sets) {
	case 0:
		return []Window{}
	case 1:
		return sets[0]
	}
	acc := sets[0]
	for _, s := range sets[1:] {
		acc = intersect(acc, s)
		if len(acc) == 0 {
			break
		}
	}
	return acc
}

// intersect merges two sorted, disjoint window lists. When both inputs share
// an edge the reasons are unioned, which keeps the result independent of
// argument order.
func intersect(a, b []Window) []Window {
	out := []Window{}
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		x, y := a[i], b[j]

		w := Window{}
		switch {
		case x.Begin.After(y.Begin):
			w.Begin, w.BeginReason = x.Begin, x.BeginReason
		case y.Begin.After(x.Begin):
			w.Begin, w.BeginReason = y.Begin, y.BeginReason
		default:
			w.Begin, w.BeginReason = x.Begin, mergeReasons(x.BeginReason, y.BeginReason)
		}
		switch {
		case x.End.Before(y.End):
			w.End, w.EndReason = x.End, x.EndReason
		case y.End.Before(x.End):
			w.End, w.EndReason = y.End, y.EndReason
		default:
			w.End, w.EndReason = x.End, mergeReasons(x.EndReason, y.EndReason)
		}
		if w.End.After(w.Begin) {
			out = append(out, w)
		}

		if x.End.Before(y.End) {
			i++
		} else {
			j++
		}
	}
	return out
}
