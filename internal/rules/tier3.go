package rules

import (
	"github.com/r3dev/sentryd/internal/alert"
	"github.com/r3dev/sentryd/internal/analysis"
)

func (e *Engine) evaluateTier3(evt *analysis.AnalyzedEvent, cfg Config, add func(firing)) {
	score, _, ready := e.model.ScoreWithExplanation(evt.Features.Slice())
	if !ready {
		return
	}
	if score >= cfg.AnomalyScoreThreshold {
		add(firing{alert.Tier3ML, "ml_anomaly_score_exceeded", score * 100})
	}
}
