// Package seasonal implements SeasonalModel: hourly/daily/weekly profile
// vectors built from wall-clock-tagged observations, with a naive DFT
// used to find each profile's dominant frequencies and reconstruct an
// expected value at an arbitrary timestamp.
package seasonal

import (
	"math"
	"time"
)

const (
	hourlyBuckets = 24
	dailyBuckets  = 7
	weeklyBuckets = 4

	hourlyTopK = 3
	dailyTopK  = 2
	weeklyTopK = 2

	minRecomputeInterval = time.Hour
)

// observation is a single raw sample tagged with the wall-clock fields it
// was recorded under.
type observation struct {
	value float64
	hour  int
	day   int // 0=Sunday .. 6=Saturday
	week  int // mday/7, 0..4
}

// profile holds a bucketed mean/variance/confidence vector and its
// spectral decomposition.
type profile struct {
	mean       []float64
	variance   []float64
	confidence []float64
	sampleN    []int64

	globalMean float64
	normalized []float64

	magnitude []float64
	phase     []float64
	dominant  []int // indices of the selected non-DC bins
	stability float64
}

// Model accumulates observations and exposes seasonal factors and
// expected-value reconstructions.
type Model struct {
	minSamplesForPattern int
	observations         []observation

	hourly *profile
	daily  *profile
	weekly *profile

	lastRecompute time.Time
}

// New creates a SeasonalModel. minSamplesForPattern gates both pattern
// "established" status and the observation cap (2x this value).
func New(minSamplesForPattern int) *Model {
	if minSamplesForPattern <= 0 {
		minSamplesForPattern = 30
	}
	return &Model{minSamplesForPattern: minSamplesForPattern}
}

// Add records an observation at the given UTC timestamp. Storage is
// capped at 2x minSamplesForPattern; beyond that, oldest observations
// are evicted to make room (a bounded ring, not an unbounded log).
func (m *Model) Add(value float64, ts time.Time) {
	ts = ts.UTC()
	obs := observation{
		value: value,
		hour:  ts.Hour(),
		day:   int(ts.Weekday()),
		week:  (ts.Day() - 1) / 7,
	}
	cap := 2 * m.minSamplesForPattern
	if len(m.observations) >= cap {
		m.observations = append(m.observations[1:], obs)
	} else {
		m.observations = append(m.observations, obs)
	}
}

// Established reports whether enough observations have accumulated to
// trust the seasonal factor.
func (m *Model) Established() bool {
	return len(m.observations) >= m.minSamplesForPattern
}

// Recompute rebuilds the hourly/daily/weekly profiles and their spectral
// decomposition. Rate-limited to once per hour unless force is true.
func (m *Model) Recompute(now time.Time, force bool) {
	if !force && !m.lastRecompute.IsZero() && now.Sub(m.lastRecompute) < minRecomputeInterval {
		return
	}
	if !m.Established() {
		return
	}
	m.hourly = buildProfile(m.observations, hourlyBuckets, func(o observation) int { return o.hour }, hourlyTopK)
	m.daily = buildProfile(m.observations, dailyBuckets, func(o observation) int { return o.day }, dailyTopK)
	m.weekly = buildProfile(m.observations, weeklyBuckets, func(o observation) int { return o.week }, weeklyTopK)
	m.lastRecompute = now
}

func buildProfile(obs []observation, n int, bucketOf func(observation) int, topK int) *profile {
	sums := make([]float64, n)
	sumsSq := make([]float64, n)
	counts := make([]int64, n)

	for _, o := range obs {
		b := bucketOf(o) % n
		if b < 0 {
			b += n
		}
		sums[b] += o.value
		sumsSq[b] += o.value * o.value
		counts[b]++
	}

	mean := make([]float64, n)
	variance := make([]float64, n)
	confidence := make([]float64, n)
	for i := 0; i < n; i++ {
		if counts[i] == 0 {
			continue
		}
		mean[i] = sums[i] / float64(counts[i])
		if counts[i] > 1 {
			variance[i] = sumsSq[i]/float64(counts[i]) - mean[i]*mean[i]
			if variance[i] < 0 {
				variance[i] = 0
			}
		}
		cv := 0.0
		if mean[i] != 0 {
			cv = math.Sqrt(variance[i]) / math.Abs(mean[i])
		}
		confidence[i] = math.Exp(-cv) * float64(counts[i])
	}

	globalMean := 0.0
	nonZero := 0
	for i := 0; i < n; i++ {
		if counts[i] > 0 {
			globalMean += mean[i]
			nonZero++
		}
	}
	if nonZero > 0 {
		globalMean /= float64(nonZero)
	}

	normalized := make([]float64, n)
	for i := 0; i < n; i++ {
		if globalMean != 0 && counts[i] > 0 {
			normalized[i] = mean[i] / globalMean
		} else {
			normalized[i] = 1.0
		}
	}

	mag, phase := dft(normalized)
	dominant, stability := topDominantBins(mag, topK)

	return &profile{
		mean:       mean,
		variance:   variance,
		confidence: confidence,
		sampleN:    counts,
		globalMean: globalMean,
		normalized: normalized,
		magnitude:  mag,
		phase:      phase,
		dominant:   dominant,
		stability:  stability,
	}
}

// dft computes a naive discrete Fourier transform, returning per-bin
// magnitude and phase arrays of the same length as the input.
func dft(x []float64) (magnitude, phase []float64) {
	n := len(x)
	magnitude = make([]float64, n)
	phase = make([]float64, n)
	for k := 0; k < n; k++ {
		var re, im float64
		for t := 0; t < n; t++ {
			angle := -2 * math.Pi * float64(k) * float64(t) / float64(n)
			re += x[t] * math.Cos(angle)
			im += x[t] * math.Sin(angle)
		}
		magnitude[k] = math.Hypot(re, im)
		phase[k] = math.Atan2(im, re)
	}
	return magnitude, phase
}

// topDominantBins selects the top-k non-DC bins by magnitude and returns
// their indices plus the fraction of non-DC spectral power they carry
// ("stability").
func topDominantBins(magnitude []float64, k int) ([]int, float64) {
	type bin struct {
		idx int
		mag float64
	}
	bins := make([]bin, 0, len(magnitude)-1)
	var totalPower float64
	for i := 1; i < len(magnitude); i++ {
		bins = append(bins, bin{idx: i, mag: magnitude[i]})
		totalPower += magnitude[i] * magnitude[i]
	}
	// simple selection sort for the top-k; these slices are tiny (<=24)
	for i := 0; i < len(bins) && i < k; i++ {
		best := i
		for j := i + 1; j < len(bins); j++ {
			if bins[j].mag > bins[best].mag {
				best = j
			}
		}
		bins[i], bins[best] = bins[best], bins[i]
	}
	top := bins
	if len(top) > k {
		top = top[:k]
	}
	dominant := make([]int, len(top))
	var selectedPower float64
	for i, b := range top {
		dominant[i] = b.idx
		selectedPower += b.mag * b.mag
	}
	stability := 0.0
	if totalPower > 0 {
		stability = selectedPower / totalPower
	}
	return dominant, stability
}

// GetExpectedValue reconstructs the hourly profile's expected value at ts
// by summing the DC term plus the dominant cosine terms.
func (m *Model) GetExpectedValue(ts time.Time) float64 {
	if m.hourly == nil {
		return 1.0
	}
	p := m.hourly
	n := len(p.normalized)
	tNorm := float64(ts.UTC().Hour()) / 24.0

	dc := p.magnitude[0] / float64(n)
	value := dc
	for _, k := range p.dominant {
		if p.magnitude[k] <= 0.1*p.magnitude[0] {
			continue
		}
		value += 2.0 / float64(n) * p.magnitude[k] * math.Cos(2*math.Pi*float64(k)*tNorm+p.phase[k])
	}
	if value < 0.1 {
		value = 0.1
	}
	return value
}

// SeasonalFactor returns the weighted, confidence-blended seasonal
// multiplier for ts. Unestablished models return the neutral factor 1.0.
func (m *Model) SeasonalFactor(ts time.Time) float64 {
	if !m.Established() || m.hourly == nil {
		return 1.0
	}
	ts = ts.UTC()

	hourlyFactor := blendToNeutral(bucketValue(m.hourly, ts.Hour()), bucketConfidence(m.hourly, ts.Hour()))
	dailyFactor := blendToNeutral(bucketValue(m.daily, int(ts.Weekday())), bucketConfidence(m.daily, int(ts.Weekday())))
	weeklyFactor := blendToNeutral(bucketValue(m.weekly, (ts.Day()-1)/7), bucketConfidence(m.weekly, (ts.Day()-1)/7))

	hw := m.hourly.stability
	dw := m.daily.stability
	ww := m.weekly.stability
	total := hw + dw + ww
	if total == 0 {
		return 1.0
	}
	return (hourlyFactor*hw + dailyFactor*dw + weeklyFactor*ww) / total
}

func bucketValue(p *profile, idx int) float64 {
	n := len(p.normalized)
	idx = idx % n
	if idx < 0 {
		idx += n
	}
	return p.normalized[idx]
}

func bucketConfidence(p *profile, idx int) float64 {
	n := len(p.confidence)
	idx = idx % n
	if idx < 0 {
		idx += n
	}
	// confidence is an unbounded exp(-cv)*count score; squash to [0,1]
	// for blending purposes via a simple saturating curve.
	c := p.confidence[idx]
	return c / (c + 1.0)
}

func blendToNeutral(factor, confidence float64) float64 {
	return confidence*factor + (1-confidence)*1.0
}
