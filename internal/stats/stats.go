// Package stats implements StatsTracker, a Welford online mean/variance
// accumulator over an unbounded count.
package stats

import (
	"encoding/binary"
	"io"
	"math"
)

// Tracker accumulates mean and variance online via Welford's algorithm.
type Tracker struct {
	count int64
	mean  float64
	m2    float64
}

// New returns a zeroed Tracker.
func New() *Tracker {
	return &Tracker{}
}

// Update folds x into the running statistics.
func (t *Tracker) Update(x float64) {
	t.count++
	delta := x - t.mean
	t.mean += delta / float64(t.count)
	delta2 := x - t.mean
	t.m2 += delta * delta2
}

// Count returns the number of samples folded in so far.
func (t *Tracker) Count() int64 { return t.count }

// Mean returns the running mean.
func (t *Tracker) Mean() float64 { return t.mean }

// Variance returns the sample variance (n-1 denominator), 0 when n < 2.
func (t *Tracker) Variance() float64 {
	if t.count < 2 {
		return 0
	}
	v := t.m2 / float64(t.count-1)
	if v < 0 {
		return 0
	}
	return v
}

// StdDev returns the sample standard deviation.
func (t *Tracker) StdDev() float64 {
	return math.Sqrt(t.Variance())
}

// ZScore returns (x - mean) / stddev. Callers are responsible for
// checking sample-count and epsilon gates before trusting the result.
func (t *Tracker) ZScore(x float64) float64 {
	sd := t.StdDev()
	if sd == 0 {
		return 0
	}
	return (x - t.mean) / sd
}

// Save writes the tracker as (count:i64, mean:f64, m2:f64).
func (t *Tracker) Save(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, t.count); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, t.mean); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, t.m2)
}

// Load reads the (count, mean, m2) triple written by Save.
func Load(r io.Reader) (*Tracker, error) {
	t := &Tracker{}
	if err := binary.Read(r, binary.LittleEndian, &t.count); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &t.mean); err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &t.m2); err != nil {
		return nil, err
	}
	return t, nil
}
