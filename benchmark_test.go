// Copyright 2019, LightStep Inc.

package ckms_test

import (
	"math/rand"
	"testing"

	"github.com/lightstep/ckms"
)

func BenchmarkInsert(b *testing.B) {
	b.ReportAllocs()
	rnd := rand.New(rand.NewSource(3331))
	s := ckms.New()
	values := make([]float64, b.N)
	for i := range values {
		values[i] = rnd.ExpFloat64()
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Insert(values[i])
	}
}

func BenchmarkGet(b *testing.B) {
	b.ReportAllocs()
	rnd := rand.New(rand.NewSource(3331))
	s := ckms.New()
	for i := 0; i < 100000; i++ {
		s.Insert(rnd.ExpFloat64())
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Get(0.99)
	}
}
