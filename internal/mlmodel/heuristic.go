package mlmodel

import (
	"fmt"

	"github.com/r3dev/sentryd/internal/features"
)

// HeuristicModel is a cheap linear combination over the feature vector's
// z-score, UA-flag and new-path-for-IP positions. It is always ready: it carries no
// trained state, so it is the fallback used when no artifact is
// configured or a trained model fails to load.
type HeuristicModel struct {
	weights [features.Count]float64
}

// NewHeuristicModel builds a heuristic model that weights the z-score,
// UA-anomaly and new-path-for-IP features; the remaining positions are
// left at zero.
func NewHeuristicModel() *HeuristicModel {
	m := &HeuristicModel{}
	m.weights[features.IPRequestTimeZScore] = 0.15
	m.weights[features.IPBytesSentZScore] = 0.1
	m.weights[features.IPErrorEventZScore] = 0.15
	m.weights[features.IPRequestVolumeZScore] = 0.15
	m.weights[features.PathRequestTimeZScore] = 0.1
	m.weights[features.PathBytesSentZScore] = 0.05
	m.weights[features.PathErrorEventZScore] = 0.1
	m.weights[features.IsUAMissing] = 0.1
	m.weights[features.IsUAHeadless] = 0.15
	m.weights[features.IsUAKnownBad] = 0.2
	m.weights[features.IsUACycling] = 0.15
	m.weights[features.IsPathNewForIP] = 0.05
	return m
}

func (m *HeuristicModel) Name() string { return "heuristic" }

func (m *HeuristicModel) ScoreWithExplanation(v []float64) (float64, string, bool) {
	if len(v) != int(features.Count) {
		return 0, "", false
	}
	var sum float64
	dominantIdx := -1
	dominantContribution := 0.0
	for i, w := range m.weights {
		contribution := w * absf(v[i])
		sum += contribution
		if contribution > dominantContribution {
			dominantContribution = contribution
			dominantIdx = i
		}
	}
	score := sum
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	explanation := "no dominant feature"
	if dominantIdx >= 0 {
		explanation = fmt.Sprintf("feature[%d] contributed %.3f", dominantIdx, dominantContribution)
	}
	return score, explanation, true
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
