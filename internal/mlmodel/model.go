// Package mlmodel implements the Tier 3 anomaly model: a hot-swappable
// Model handle behind ModelManager, a cheap always-available heuristic
// fallback, a JSON-artifact decision tree, a stubbed random forest, and
// a cron-driven retraining scheduler that spawns an external training
// process and promotes its output on success.
package mlmodel

// Model scores a feature vector in [0, 1] with a human-readable
// explanation of the dominant contributing feature. Ready reports
// whether the model has enough internal state to produce a meaningful
// score; RuleEngine skips Tier 3 entirely when it does not.
type Model interface {
	ScoreWithExplanation(featureVector []float64) (score float64, explanation string, ready bool)
	Name() string
}
