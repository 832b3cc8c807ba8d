package mlmodel

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Config configures ModelManager's artifact locations and retraining
// behavior, mirroring spec.md §6.2's Tier 3 option group.
type Config struct {
	ModelPath                  string
	ModelMetadataPath          string
	AutomatedRetrainingEnabled bool
	TrainingScriptPath         string
	RetrainingIntervalSeconds  int
	TrainingTimeout            time.Duration
}

// ModelManager owns the active anomaly model behind an atomic pointer so
// RuleEngine (a reader) never blocks on a retraining cycle (a writer).
type ModelManager struct {
	cfg     Config
	log     zerolog.Logger
	current atomic.Pointer[Model]
}

// New creates a ModelManager seeded with a fallback model; callers
// typically seed with NewHeuristicModel() until a trained artifact is
// available, then call LoadFromConfig to try to promote a real one.
func New(cfg Config, log zerolog.Logger, fallback Model) *ModelManager {
	mm := &ModelManager{cfg: cfg, log: log.With().Str("component", "model_manager").Logger()}
	mm.current.Store(&fallback)
	return mm
}

// Current returns the active model. Always non-nil.
func (mm *ModelManager) Current() Model {
	p := mm.current.Load()
	return *p
}

// ScoreWithExplanation delegates to the active model, letting
// ModelManager itself satisfy rules.ModelSource directly.
func (mm *ModelManager) ScoreWithExplanation(featureVector []float64) (float64, string, bool) {
	return mm.Current().ScoreWithExplanation(featureVector)
}

// LoadFromConfig attempts to load the configured primary artifact and,
// if it loads and parses, promotes it as the active model. A load
// failure leaves the current model unchanged and logs an error, per
// the "candidate model discarded; active model unchanged" edge case.
func (mm *ModelManager) LoadFromConfig() {
	if mm.cfg.ModelPath == "" {
		return
	}
	model, err := LoadDecisionTreeModel(mm.cfg.ModelPath)
	if err != nil {
		mm.log.Error().Err(err).Str("path", mm.cfg.ModelPath).Msg("model load failed, keeping active model")
		return
	}
	mm.promote(model)
}

func (mm *ModelManager) promote(m Model) {
	var iface Model = m
	mm.current.Store(&iface)
	mm.log.Info().Str("model", m.Name()).Msg("model promoted to active")
}

// Retrain runs one retraining cycle per spec.md §4.8: invoke the
// configured training script, rename primary artifact paths to .new,
// load the candidate, and promote it only if it reports ready. The
// external process is not killed on ctx cancellation mid-flight; its
// output is simply discarded if the cycle is abandoned.
func (mm *ModelManager) Retrain(ctx context.Context) error {
	if !mm.cfg.AutomatedRetrainingEnabled || mm.cfg.TrainingScriptPath == "" {
		return nil
	}
	mm.log.Info().Str("script", mm.cfg.TrainingScriptPath).Msg("retraining cycle starting")

	runCtx := ctx
	var cancel context.CancelFunc
	if mm.cfg.TrainingTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, mm.cfg.TrainingTimeout)
		defer cancel()
	}

	type result struct {
		out []byte
		err error
	}
	cmd := exec.Command(mm.cfg.TrainingScriptPath, mm.cfg.ModelPath, mm.cfg.ModelMetadataPath)
	done := make(chan result, 1)
	go func() {
		out, err := cmd.CombinedOutput()
		done <- result{out, err}
	}()
	var res result
	select {
	case <-runCtx.Done():
		mm.log.Warn().Err(runCtx.Err()).Msg("retraining cycle abandoned, training process left running and its output discarded")
		return fmt.Errorf("training process: %w", runCtx.Err())
	case res = <-done:
	}
	if res.err != nil {
		mm.log.Error().Err(res.err).Str("output", string(res.out)).Msg("training process failed, discarding cycle")
		return fmt.Errorf("training process: %w", res.err)
	}

	newModelPath := mm.cfg.ModelPath + ".new"
	newMetaPath := mm.cfg.ModelMetadataPath + ".new"

	if err := os.Rename(mm.cfg.ModelPath, newModelPath); err != nil {
		mm.log.Error().Err(err).Msg("training process produced no artifact at the primary path, discarding cycle")
		return fmt.Errorf("missing candidate artifact: %w", err)
	}
	if mm.cfg.ModelMetadataPath != "" {
		_ = os.Rename(mm.cfg.ModelMetadataPath, newMetaPath)
	}

	candidate, err := LoadDecisionTreeModel(newModelPath)
	if err != nil {
		mm.log.Error().Err(err).Msg("candidate model failed to load, discarding")
		_ = os.Remove(newModelPath)
		_ = os.Remove(newMetaPath)
		return fmt.Errorf("load candidate: %w", err)
	}

	if !candidate.Ready() {
		mm.log.Warn().Msg("candidate model reported not ready, discarding")
		_ = os.Remove(newModelPath)
		_ = os.Remove(newMetaPath)
		return nil
	}

	if err := os.Rename(newModelPath, mm.cfg.ModelPath); err != nil {
		mm.log.Error().Err(err).Msg("failed to promote candidate artifact path")
		return fmt.Errorf("promote artifact: %w", err)
	}
	if mm.cfg.ModelMetadataPath != "" {
		_ = os.Rename(newMetaPath, mm.cfg.ModelMetadataPath)
	}

	mm.promote(candidate)
	return nil
}
