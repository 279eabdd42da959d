// Package stats has small helpers for tracking running statistics.
package stats

import "math"

// EMA is an exponential moving average smoothed over approximately n values.
type EMA float64

// Add returns the average updated with val. A zero average starts at val.
func (e EMA) Add(val, n float64) float64 {
	if e == 0 {
		return val
	}
	k := 2 / (n + 1)
	return k*val + (1-k)*float64(e)
}

// Average accumulates the mean and sample standard deviation of a series
// using Welford's online method.
type Average struct {
	Count  float64
	Mean   float64
	StdDev float64
	m2     float64
}

// Add updates the running statistics with the next value.
func (s *Average) Add(x float64) {
	s.Count++
	delta := x - s.Mean
	s.Mean += delta / s.Count
	s.m2 += delta * (x - s.Mean)
	if s.Count > 1 {
		s.StdDev = math.Sqrt(s.m2 / (s.Count - 1))
	}
}
