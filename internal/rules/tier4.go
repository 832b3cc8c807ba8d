package rules

import (
	"math"

	"github.com/r3dev/sentryd/internal/alert"
	"github.com/r3dev/sentryd/internal/analysis"
)

// tier4Pair is one (entity_type, entity_id, value) triple the engine
// queries LearningEngine with, per spec.md §4.7.
type tier4Pair struct {
	entityType string
	entityID   string
	value      float64
}

func (e *Engine) evaluateTier4(evt *analysis.AnalyzedEvent, cfg Config, add func(firing)) {
	pairs := []tier4Pair{
		{"ip_request_time", evt.IP, evt.RequestTimeS},
		{"ip_bytes_sent", evt.IP, float64(evt.BytesSent)},
		{"path_request_time", evt.Path, evt.RequestTimeS},
	}

	for _, p := range pairs {
		mean, stddev, established := e.learning.EntityMeanStdDev(p.entityType, p.entityID)
		if !established || stddev <= 0 {
			continue
		}
		sigmas := math.Abs(p.value-mean) / stddev
		if sigmas > cfg.Sigma {
			score := (sigmas / cfg.Sigma) * 50.0
			if score > 99 {
				score = 99
			}
			add(firing{alert.Tier4Dynamic, p.entityType + "_dynamic_threshold_exceeded", score})
		}
	}
}
