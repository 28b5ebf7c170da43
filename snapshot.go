// Copyright 2019, LightStep Inc.

package ckms

import (
	"fmt"
	"math"
	"sort"
)

// Snapshot is an immutable, detached read-view produced either from a
// Sketch or directly from a slice of values. Once constructed, a Snapshot
// never reflects later mutation of whatever it was built from.
type Snapshot struct {
	divisor float64

	// Exactly one of sorted/sk is populated; an empty Snapshot has
	// neither.
	sorted []float64
	sk     *Sketch
}

// EmptySnapshot returns a Snapshot representing zero observations. Every
// accessor on it returns the same zero value a freshly constructed,
// never-inserted Sketch would.
func EmptySnapshot() Snapshot {
	return Snapshot{divisor: 1}
}

// NewSnapshot builds a Snapshot backed by a sorted copy of values. The
// optional divisor scales every returned value (other than Variance) by
// 1/d; it defaults to 1.
func NewSnapshot(values []float64, divisor ...float64) Snapshot {
	d := resolveDivisor(divisor)
	if len(values) == 0 {
		return Snapshot{divisor: d}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return Snapshot{divisor: d, sorted: sorted}
}

// newSketchSnapshot builds a Snapshot backed by a detached copy of s.
func newSketchSnapshot(s *Sketch, divisor float64) Snapshot {
	if s == nil || s.Count() == 0 {
		return Snapshot{divisor: divisor}
	}
	return Snapshot{divisor: divisor, sk: s.Clone()}
}

// Snapshot produces an immutable, detached read-view of s. The optional
// divisor scales every returned value (other than Variance) by 1/d; it
// defaults to 1.
func (s *Sketch) Snapshot(divisor ...float64) Snapshot {
	return newSketchSnapshot(s, resolveDivisor(divisor))
}

func resolveDivisor(divisor []float64) float64 {
	if len(divisor) == 0 || divisor[0] == 0 {
		return 1
	}
	return divisor[0]
}

// Size returns the number of samples represented by the Snapshot.
func (s Snapshot) Size() int {
	switch {
	case s.sk != nil:
		return s.sk.Count()
	default:
		return len(s.sorted)
	}
}

// ValueAt returns an approximate value at quantile q in (0,1]. A
// Sketch-backed Snapshot delegates to Sketch.Get; a vector-backed Snapshot
// linearly interpolates over the sorted values.
func (s Snapshot) ValueAt(q float64) float64 {
	switch {
	case s.sk != nil:
		return s.sk.Get(q) / s.divisor
	case len(s.sorted) == 0:
		return 0
	default:
		return interpolate(s.sorted, q) / s.divisor
	}
}

// Min returns the smallest represented sample, or 0 if the Snapshot is
// empty.
func (s Snapshot) Min() float64 {
	switch {
	case s.sk != nil:
		return s.sk.Min() / s.divisor
	case len(s.sorted) == 0:
		return 0
	default:
		return s.sorted[0] / s.divisor
	}
}

// Max returns the largest represented sample, or 0 if the Snapshot is
// empty.
func (s Snapshot) Max() float64 {
	switch {
	case s.sk != nil:
		return s.sk.Max() / s.divisor
	case len(s.sorted) == 0:
		return 0
	default:
		return s.sorted[len(s.sorted)-1] / s.divisor
	}
}

// Sum returns the sum of every represented sample.
func (s Snapshot) Sum() float64 {
	switch {
	case s.sk != nil:
		return s.sk.Sum() / s.divisor
	default:
		var sum float64
		for _, v := range s.sorted {
			sum += v
		}
		return sum / s.divisor
	}
}

// Variance returns the sample variance of the represented samples, or 0
// when there are fewer than two. Unlike the other accessors this is not
// scaled by the divisor: it is a second-moment statistic, and dividing it
// by d would not perform the same unit conversion.
func (s Snapshot) Variance() float64 {
	if s.sk != nil {
		return s.sk.Variance()
	}
	n := len(s.sorted)
	if n < 2 {
		return 0
	}
	var sum float64
	for _, v := range s.sorted {
		sum += v
	}
	mean := sum / float64(n)
	var ss float64
	for _, v := range s.sorted {
		d := v - mean
		ss += d * d
	}
	return ss / float64(n-1)
}

func (s Snapshot) String() string {
	return fmt.Sprintf("ckms.Snapshot{size:%d min:%v max:%v}", s.Size(), s.Min(), s.Max())
}

// interpolate computes a linear-interpolation quantile over sorted values,
// using the common R-7 convention (position = q*(n-1)).
func interpolate(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[n-1]
	}

	pos := q * float64(n-1)
	lower := int(math.Floor(pos))
	frac := pos - float64(lower)
	if lower+1 >= n {
		return sorted[n-1]
	}
	return sorted[lower] + (sorted[lower+1]-sorted[lower])*frac
}
