// Copyright 2019, LightStep Inc.

// Package ckms implements the Cormode-Korst-Muthukrishnan-Srivastava
// biased-quantile algorithm: an epsilon-approximate streaming quantile
// summary that spends its error budget where the caller asked for
// precision instead of spreading it evenly across the whole domain.
package ckms

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/multierr"
)

// BufferCap is the fixed size of the pending-insertion buffer. The Insert
// that fills it drains it into the sample sequence and runs one
// compression pass, which bounds both memory and worst-case insert latency.
const BufferCap = 500

// QuantileTarget is an immutable (quantile, epsilon) pair a Sketch is asked
// to track with bounded rank error. Two derived constants, used by the
// allowable-error function, are precomputed at construction time.
type QuantileTarget struct {
	quantile float64
	epsilon  float64
	u        float64 // 2*epsilon/(1-quantile), +Inf when quantile == 1
	v        float64 // 2*epsilon/quantile
}

// NewQuantileTarget builds a QuantileTarget, validating that q is in (0,1]
// and epsilon is in (0,1).
func NewQuantileTarget(q, epsilon float64) (QuantileTarget, error) {
	if !(q > 0 && q <= 1) {
		return QuantileTarget{}, invalidArgument("quantile", fmt.Sprintf("%v not in (0,1]", q))
	}
	if !(epsilon > 0 && epsilon < 1) {
		return QuantileTarget{}, invalidArgument("epsilon", fmt.Sprintf("%v not in (0,1)", epsilon))
	}
	u := math.Inf(1)
	if q != 1 {
		u = 2 * epsilon / (1 - q)
	}
	return QuantileTarget{
		quantile: q,
		epsilon:  epsilon,
		u:        u,
		v:        2 * epsilon / q,
	}, nil
}

// MustQuantileTarget is NewQuantileTarget for package-level default values;
// it panics on an invalid pair rather than returning an error.
func MustQuantileTarget(q, epsilon float64) QuantileTarget {
	t, err := NewQuantileTarget(q, epsilon)
	if err != nil {
		panic(err)
	}
	return t
}

// Quantile returns the target quantile in (0,1].
func (t QuantileTarget) Quantile() float64 { return t.quantile }

// Epsilon returns the target's tolerated error.
func (t QuantileTarget) Epsilon() float64 { return t.epsilon }

func (t QuantileTarget) valid() bool {
	return t.quantile > 0 && t.quantile <= 1 && t.epsilon > 0 && t.epsilon < 1
}

// DefaultQuantileTargets returns the default target list used by New: the
// 99th percentile and the median, both at epsilon=0.001.
func DefaultQuantileTargets() []QuantileTarget {
	return []QuantileTarget{
		MustQuantileTarget(0.99, 0.001),
		MustQuantileTarget(0.5, 0.001),
	}
}

// entry summarizes a contiguous rank range of observed values.
type entry struct {
	value float64
	g     int
	delta int
}

// Sketch is a CKMS biased-quantile summary. The zero value is not usable;
// construct one with New or NewSketch. A Sketch is not safe for concurrent
// use; callers needing concurrent access should serialize it themselves or
// use a window.WindowedSampler, which does this for two Sketches at once.
type Sketch struct {
	targets []QuantileTarget
	sample  []entry
	buffer  []float64

	count int // observations merged into sample

	min, max, sum float64
	haveMinMax    bool
	vm, vs        float64 // Welford mean/sum-of-squares accumulators
}

// New constructs a Sketch with the default quantile targets
// (p99 and p50, both at epsilon=0.001).
func New() *Sketch {
	s, err := NewSketch(DefaultQuantileTargets()...)
	if err != nil {
		// DefaultQuantileTargets is always valid; a failure here is a bug.
		panic(err)
	}
	return s
}

// NewSketch constructs a Sketch tracking the given quantile targets. The
// list must be non-empty and every target must be valid; invalid targets
// are reported together via a combined error rather than failing on the
// first one found.
func NewSketch(targets ...QuantileTarget) (*Sketch, error) {
	if len(targets) == 0 {
		return nil, invalidArgument("targets", "must be non-empty")
	}
	var err error
	for i, t := range targets {
		if !t.valid() {
			err = multierr.Append(err, invalidArgument("targets", fmt.Sprintf("target %d is invalid", i)))
		}
	}
	if err != nil {
		return nil, err
	}
	cp := make([]QuantileTarget, len(targets))
	copy(cp, targets)
	return &Sketch{targets: cp}, nil
}

// Insert absorbs one observation. Non-finite values (NaN, +-Inf) are
// dropped silently rather than corrupting the sample ordering; this never
// returns an error, per the documented "never fails" contract.
func (s *Sketch) Insert(x float64) {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return
	}

	n := s.count + len(s.buffer)
	if n == 0 {
		s.min, s.max = x, x
	} else {
		if x < s.min {
			s.min = x
		}
		if x > s.max {
			s.max = x
		}
	}
	s.haveMinMax = true
	s.sum += x

	// Welford's online mean/variance update, over the total observed
	// population (merged + buffered), computed before x joins the buffer.
	nNew := float64(n + 1)
	delta := x - s.vm
	s.vm += delta / nNew
	delta2 := x - s.vm
	s.vs += delta * delta2

	s.buffer = append(s.buffer, x)
	if len(s.buffer) >= BufferCap {
		s.insertBatch()
		s.compress()
	}
}

// Count returns the number of observations absorbed by Insert, including
// those still sitting in the pending buffer.
func (s *Sketch) Count() int {
	return s.count + len(s.buffer)
}

// Min returns the smallest observation ever inserted, or 0 if the sketch
// is empty.
func (s *Sketch) Min() float64 {
	if !s.haveMinMax {
		return 0
	}
	return s.min
}

// Max returns the largest observation ever inserted, or 0 if the sketch is
// empty.
func (s *Sketch) Max() float64 {
	if !s.haveMinMax {
		return 0
	}
	return s.max
}

// Sum returns the sum of every observation ever inserted.
func (s *Sketch) Sum() float64 {
	return s.sum
}

// Variance returns the sample variance of every observation ever
// inserted, or 0 when fewer than two observations have been seen.
func (s *Sketch) Variance() float64 {
	n := s.count + len(s.buffer)
	if n < 2 {
		return 0
	}
	return s.vs / float64(n-1)
}

// Get returns an epsilon-approximate value at quantile q. q should be one
// of the quantiles the Sketch was constructed with; behavior for other
// values is best-effort. Returns 0 on an empty Sketch.
func (s *Sketch) Get(q float64) float64 {
	s.insertBatch()
	s.compress()

	if len(s.sample) == 0 {
		return 0
	}

	desired := int(q * float64(s.count))
	bound := float64(desired) + s.allowableError(desired)/2

	rankMin := 0
	for i := 1; i < len(s.sample); i++ {
		prev := s.sample[i-1]
		cur := s.sample[i]
		rankMin += prev.g
		if float64(rankMin+cur.g+cur.delta) > bound {
			return prev.value
		}
	}
	return s.sample[len(s.sample)-1].value
}

// Reset restores the Sketch to its empty state.
func (s *Sketch) Reset() {
	s.sample = nil
	s.buffer = nil
	s.count = 0
	s.min, s.max, s.sum = 0, 0, 0
	s.haveMinMax = false
	s.vm, s.vs = 0, 0
}

// Clone returns a deep, detached copy of the Sketch: later mutation of the
// receiver is never observed through the returned copy. The pending
// buffer is drained and one compression pass is run before copying, so
// the clone has no pending buffer.
func (s *Sketch) Clone() *Sketch {
	s.insertBatch()
	s.compress()

	cp := &Sketch{
		targets:    append([]QuantileTarget(nil), s.targets...),
		sample:     append([]entry(nil), s.sample...),
		count:      s.count,
		min:        s.min,
		max:        s.max,
		sum:        s.sum,
		haveMinMax: s.haveMinMax,
		vm:         s.vm,
		vs:         s.vs,
	}
	return cp
}

func (s *Sketch) String() string {
	return fmt.Sprintf("ckms.Sketch{count:%d entries:%d min:%v max:%v}",
		s.Count(), len(s.sample), s.Min(), s.Max())
}

// allowableError is f(r) from the CKMS paper, biased toward the Sketch's
// configured quantile targets. An empty sample defaults to m+1.
func (s *Sketch) allowableError(r int) float64 {
	m := len(s.sample)
	if m == 0 {
		return float64(m) + 1
	}

	best := math.Inf(1)
	for _, t := range s.targets {
		var v float64
		if float64(r) <= t.quantile*float64(m) {
			if math.IsInf(t.u, 1) {
				if m-r == 0 {
					v = 0
				} else {
					v = math.Inf(1)
				}
			} else {
				v = t.u * float64(m-r)
			}
		} else {
			v = t.v * float64(r)
		}
		if v < best {
			best = v
		}
	}
	return best
}

// insertBatch drains the pending buffer into the sorted sample sequence.
func (s *Sketch) insertBatch() {
	if len(s.buffer) == 0 {
		return
	}

	sort.Float64s(s.buffer)

	bufStart := 0
	if len(s.sample) == 0 {
		s.sample = append(s.sample, entry{value: s.buffer[0], g: 1, delta: 0})
		s.count++
		bufStart = 1
	}

	idx := 0
	for i := bufStart; i < len(s.buffer); i++ {
		v := s.buffer[i]
		for idx < len(s.sample) && s.sample[idx].value < v {
			idx++
		}

		before := len(s.sample)
		delta := 0
		if !(idx-1 == 0 || idx+1 == before) {
			delta = int(math.Floor(s.allowableError(idx+1))) + 1
		}

		s.sample = append(s.sample, entry{})
		copy(s.sample[idx+1:], s.sample[idx:])
		s.sample[idx] = entry{value: v, g: 1, delta: delta}

		s.count++
		idx++
	}

	s.buffer = s.buffer[:0]
}

// compress performs a single left-to-right merge pass over the sample
// sequence, eliminating adjacent entries whose combined rank uncertainty
// still fits under the allowable-error bound.
func (s *Sketch) compress() {
	if len(s.sample) < 2 {
		return
	}

	out := make([]entry, 0, len(s.sample))
	out = append(out, s.sample[0])

	for i := 1; i < len(s.sample); i++ {
		next := s.sample[i]
		prev := out[len(out)-1]

		rankNext := len(out) + 1
		if float64(prev.g+next.g+next.delta) <= s.allowableError(rankNext) {
			next.g += prev.g
			out[len(out)-1] = next
		} else {
			out = append(out, next)
		}
	}

	s.sample = out
}
