// Package rolling implements RollingStatistics: an EWMA mean/variance
// estimator plus a bounded recent-sample ring for percentile queries and
// confidence intervals.
package rolling

import (
	"encoding/binary"
	"io"
	"math"
	"sort"
)

const defaultMinSamples = 30

// studentT is the small hard-coded t-table used for n <= 30, indexed by
// degrees-of-freedom bucket (10, 20, 30) and confidence (0.90, 0.95).
var studentT = map[int]map[float64]float64{
	10: {0.90: 1.812, 0.95: 2.228},
	20: {0.90: 1.725, 0.95: 2.086},
	30: {0.90: 1.697, 0.95: 2.042},
}

// normalTable is the critical-value table used for n > 30.
var normalTable = map[float64]float64{
	0.90: 1.645,
	0.95: 1.960,
	0.99: 2.576,
}

// Sample is one (value, timestamp) observation held in the ring.
type Sample struct {
	Value       float64
	TimestampMs int64
}

// Stats is an EWMA mean/variance estimator with a bounded recent-sample
// ring used for percentile and confidence-interval queries.
type Stats struct {
	alpha       float64
	windowSize  int
	minSamples  int
	ewmaMean    float64
	ewmaVar     float64
	count       int64
	ring        []Sample
	ringPos     int
	initialized bool
}

// New creates a RollingStatistics with the given EWMA smoothing factor
// (0, 1] and ring capacity windowSize. minSamples defaults to 30 when 0.
func New(alpha float64, windowSize int, minSamples int) *Stats {
	if minSamples <= 0 {
		minSamples = defaultMinSamples
	}
	return &Stats{
		alpha:      alpha,
		windowSize: windowSize,
		minSamples: minSamples,
		ring:       make([]Sample, 0, windowSize),
	}
}

// Add folds a new observation into the EWMA and pushes it into the ring.
func (s *Stats) Add(x float64, tsMs int64) {
	s.count++
	if !s.initialized {
		s.ewmaMean = x
		s.ewmaVar = 0
		s.initialized = true
	} else {
		delta := x - s.ewmaMean
		s.ewmaMean += s.alpha * delta
		s.ewmaVar = (1-s.alpha)*s.ewmaVar + s.alpha*delta*delta
	}

	sample := Sample{Value: x, TimestampMs: tsMs}
	if s.windowSize <= 0 {
		s.ring = append(s.ring, sample)
		return
	}
	if len(s.ring) < s.windowSize {
		s.ring = append(s.ring, sample)
	} else {
		s.ring[s.ringPos] = sample
		s.ringPos = (s.ringPos + 1) % s.windowSize
	}
}

// Mean returns the EWMA mean.
func (s *Stats) Mean() float64 { return s.ewmaMean }

// Variance returns the EWMA variance.
func (s *Stats) Variance() float64 { return s.ewmaVar }

// StdDev returns sqrt(Variance()).
func (s *Stats) StdDev() float64 { return math.Sqrt(s.ewmaVar) }

// Count returns the total number of samples ever folded in.
func (s *Stats) Count() int64 { return s.count }

// Established reports whether enough samples have been seen.
func (s *Stats) Established() bool { return s.count >= int64(s.minSamples) }

// Percentile returns the p-th percentile (0-100) of the ring via linear
// interpolation between the two flanking sorted samples.
func (s *Stats) Percentile(p float64) float64 {
	if len(s.ring) == 0 {
		return math.NaN()
	}
	values := make([]float64, len(s.ring))
	for i, sm := range s.ring {
		values[i] = sm.Value
	}
	sort.Float64s(values)

	if len(values) == 1 {
		return values[0]
	}
	rank := (p / 100.0) * float64(len(values)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo < 0 {
		lo = 0
	}
	if hi >= len(values) {
		hi = len(values) - 1
	}
	if lo == hi {
		return values[lo]
	}
	frac := rank - float64(lo)
	return values[lo] + frac*(values[hi]-values[lo])
}

// ConfidenceInterval returns (lower, upper) for confidence c using the
// small-sample t-table for n <= 30 and the normal table otherwise.
func (s *Stats) ConfidenceInterval(c float64) (float64, float64) {
	n := s.count
	if n == 0 {
		return math.NaN(), math.NaN()
	}
	se := s.StdDev() / math.Sqrt(float64(n))

	var k float64
	if n <= 30 {
		bucket := 30
		switch {
		case n <= 10:
			bucket = 10
		case n <= 20:
			bucket = 20
		}
		row := studentT[bucket]
		k = row[nearestConfidence(row, c)]
	} else {
		k = normalTable[nearestConfidence(normalTable, c)]
	}

	return s.ewmaMean - k*se, s.ewmaMean + k*se
}

func nearestConfidence(table map[float64]float64, c float64) float64 {
	best := 0.0
	bestDist := math.MaxFloat64
	for k := range table {
		d := math.Abs(k - c)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}
	return best
}

// Save writes alpha, windowSize, minSamples, EWMA state, and the ring.
func (s *Stats) Save(w io.Writer) error {
	fields := []any{s.alpha, int64(s.windowSize), int64(s.minSamples), s.ewmaMean, s.ewmaVar, s.count, int64(s.ringPos), uint64(len(s.ring))}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	for _, sm := range s.ring {
		if err := binary.Write(w, binary.LittleEndian, sm.Value); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, sm.TimestampMs); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the format written by Save.
func Load(r io.Reader) (*Stats, error) {
	s := &Stats{}
	var windowSize, minSamples, ringPos int64
	var ringLen uint64

	for _, f := range []any{&s.alpha, &windowSize, &minSamples, &s.ewmaMean, &s.ewmaVar, &s.count, &ringPos, &ringLen} {
		if err := binary.Read(r, binary.LittleEndian, f); err != nil {
			return nil, err
		}
	}
	s.windowSize = int(windowSize)
	s.minSamples = int(minSamples)
	s.ringPos = int(ringPos)
	s.initialized = s.count > 0

	s.ring = make([]Sample, 0, ringLen)
	for i := uint64(0); i < ringLen; i++ {
		var sm Sample
		if err := binary.Read(r, binary.LittleEndian, &sm.Value); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &sm.TimestampMs); err != nil {
			return nil, err
		}
		s.ring = append(s.ring, sm)
	}
	return s, nil
}
