package rules

import (
	"github.com/r3dev/sentryd/internal/alert"
	"github.com/r3dev/sentryd/internal/analysis"
)

var tier2Metrics = []string{"request_time", "bytes_sent", "error_event", "request_volume"}
var tier2Entities = []string{"ip", "path"}

func (e *Engine) evaluateTier2(evt *analysis.AnalyzedEvent, cfg Config, add func(firing)) {
	for _, entity := range tier2Entities {
		for _, metric := range tier2Metrics {
			z, ok := evt.ZScore(entity, metric)
			if !ok {
				continue
			}
			score := ScoreFromZScore(z, cfg.ZScoreThreshold, cfg.ScoreZScoreBase)
			if score > 0 {
				add(firing{alert.Tier2Statistical, entity + "_" + metric + "_z_score_exceeded", score})
			}
		}
	}
}
