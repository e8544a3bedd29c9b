package reconciler

import (
	"math"
	"sort"
)

// MillisThreshold separates epoch seconds from epoch milliseconds.
const MillisThreshold = 1e12

// Action reports what applying an update did to a series.
type Action int

const (
	ActionIgnored  Action = iota // update discarded, series unchanged
	ActionReset                  // snapshot replaced the series
	ActionCleared                // snapshot had no usable points
	ActionSeeded                 // first tick without a snapshot seeded three points
	ActionUpdated                // final point's value replaced in place
	ActionAppended               // new point appended
)

func (a Action) String() string {
	switch a {
	case ActionIgnored:
		return "ignored"
	case ActionReset:
		return "reset"
	case ActionCleared:
		return "cleared"
	case ActionSeeded:
		return "seeded"
	case ActionUpdated:
		return "updated"
	case ActionAppended:
		return "appended"
	default:
		return "unknown"
	}
}

// Sample is an incoming point; T may be epoch seconds or milliseconds.
type Sample struct {
	T     float64
	Price float64
}

// Point is a rendered point with Time in epoch seconds.
type Point struct {
	Time  int64
	Value float64
}

// ToSeconds converts t to whole epoch seconds. Values above MillisThreshold
// are milliseconds. It reports false for non-finite input.
func ToSeconds(t float64) (int64, bool) {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return 0, false
	}
	if t > MillisThreshold {
		t /= 1000
	}
	return int64(math.Floor(t)), true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Series is one symbol's chart line. Time never moves backwards and no two
// points share a time. A Series is not safe for concurrent use.
type Series struct {
	points  []Point
	last    int64
	hasLast bool
}

// ApplySnapshot replaces the series with samples, cleaned: converted to
// seconds, non-finite entries dropped, sorted, and equal times collapsed
// keeping the sample that came last in the input.
func (s *Series) ApplySnapshot(samples []Sample) Action {
	cleaned := make([]Point, 0, len(samples))
	for _, smp := range samples {
		ts, ok := ToSeconds(smp.T)
		if !ok || !finite(smp.Price) {
			continue
		}
		cleaned = append(cleaned, Point{Time: ts, Value: smp.Price})
	}

	// stable keeps input order within equal times so the last one wins below
	sort.SliceStable(cleaned, func(i, j int) bool { return cleaned[i].Time < cleaned[j].Time })

	out := cleaned[:0]
	for _, p := range cleaned {
		if n := len(out); n > 0 && out[n-1].Time == p.Time {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}

	if len(out) == 0 {
		s.points = nil
		s.last, s.hasLast = 0, false
		return ActionCleared
	}

	s.points = out
	s.last, s.hasLast = out[len(out)-1].Time, true
	return ActionReset
}

// ApplyTick merges one live update.
func (s *Series) ApplyTick(t, price float64) Action {
	ts, ok := ToSeconds(t)
	if !ok || !finite(price) {
		return ActionIgnored
	}

	if !s.hasLast {
		s.points = []Point{{Time: ts - 2, Value: price}, {Time: ts - 1, Value: price}, {Time: ts, Value: price}}
		s.last, s.hasLast = ts, true
		return ActionSeeded
	}

	switch {
	case ts < s.last:
		return ActionIgnored
	case ts == s.last:
		s.points[len(s.points)-1].Value = price
		return ActionUpdated
	default:
		s.points = append(s.points, Point{Time: ts, Value: price})
		s.last = ts
		return ActionAppended
	}
}

// Points returns a copy of the series.
func (s *Series) Points() []Point {
	return append([]Point(nil), s.points...)
}

// LastApplied returns the time of the newest point, if any.
func (s *Series) LastApplied() (int64, bool) {
	return s.last, s.hasLast
}

// Len returns the number of points.
func (s *Series) Len() int {
	return len(s.points)
}
