// Copyright 2019, LightStep Inc.

package ckms

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestSumOfGInvariant checks that, after insertBatch/compress have run,
// the g values of every entry in the sample sequence sum to exactly the
// number of observations merged so far: no observation is double-counted
// or lost across compression.
func TestSumOfGInvariant(t *testing.T) {
	s := New()
	rnd := rand.New(rand.NewSource(42))

	for i := 0; i < 5000; i++ {
		s.Insert(rnd.Float64() * 1000)
	}
	s.insertBatch()
	s.compress()

	var sumG int
	for _, e := range s.sample {
		sumG += e.g
	}
	require.Equal(t, s.count, sumG)
}

// TestSortedInvariant checks that the sample sequence stays sorted
// non-decreasing after a Get every 97 inserts and after the last insert.
func TestSortedInvariant(t *testing.T) {
	s := New()
	rnd := rand.New(rand.NewSource(7))

	for i := 0; i < 3000; i++ {
		s.Insert(rnd.NormFloat64())
		if i%97 == 0 {
			_ = s.Get(0.5)
			assertSorted(t, s.sample)
		}
	}
	assertSorted(t, s.sample)
}

func assertSorted(t *testing.T, sample []entry) {
	t.Helper()
	for i := 1; i < len(sample); i++ {
		require.LessOrEqual(t, sample[i-1].value, sample[i].value)
	}
}

// TestBufferEmptyAfterGet checks that after any Get, the pending buffer
// is empty.
func TestBufferEmptyAfterGet(t *testing.T) {
	s := New()
	for i := 0; i < 10; i++ {
		s.Insert(float64(i))
	}
	require.NotEmpty(t, s.buffer)
	s.Get(0.5)
	require.Empty(t, s.buffer)
}

func TestAllowableErrorEmptySketchDefault(t *testing.T) {
	s := New()
	require.Equal(t, float64(1), s.allowableError(0))
}

// TestAllowableErrorTop1ClampsAtMax exercises the q=1 edge case: u is +Inf,
// and the u-branch must not produce NaN at the max rank.
func TestAllowableErrorTop1ClampsAtMax(t *testing.T) {
	target := MustQuantileTarget(1, 0.001)
	s, err := NewSketch(target)
	require.NoError(t, err)

	for i := 1; i <= 10; i++ {
		s.Insert(float64(i))
	}
	s.insertBatch()
	s.compress()

	got := s.allowableError(len(s.sample))
	require.Equal(t, float64(0), got)
	require.False(t, math.IsNaN(got))
}
