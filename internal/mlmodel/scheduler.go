package mlmodel

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler wraps robfig/cron/v3 to invoke ModelManager.Retrain on a
// fixed interval derived from Config.RetrainingIntervalSeconds. Using a
// real cron scheduler rather than a raw time.Ticker loop gives
// retraining the same "every N seconds, catch up on missed ticks never,
// skip overlapping runs" semantics as any other recurring background
// task in this system.
type Scheduler struct {
	cron *cron.Cron
	mgr  *ModelManager
	log  zerolog.Logger
}

// NewScheduler builds a scheduler for mgr. It does not start the
// underlying cron loop; call Start.
func NewScheduler(mgr *ModelManager, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		mgr:  mgr,
		log:  log.With().Str("component", "model_scheduler").Logger(),
	}
}

// Start registers the retraining job on an "@every Ns" cron expression
// derived from RetrainingIntervalSeconds and starts the cron loop. It is
// a no-op if automated retraining is disabled or the interval is unset.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.mgr.cfg.AutomatedRetrainingEnabled || s.mgr.cfg.RetrainingIntervalSeconds <= 0 {
		s.log.Info().Msg("automated retraining disabled, scheduler not started")
		return nil
	}
	spec := fmt.Sprintf("@every %ds", s.mgr.cfg.RetrainingIntervalSeconds)
	_, err := s.cron.AddFunc(spec, func() {
		if err := s.mgr.Retrain(ctx); err != nil {
			s.log.Error().Err(err).Msg("retraining cycle failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule retraining job: %w", err)
	}
	s.cron.Start()
	s.log.Info().Str("schedule", spec).Msg("retraining scheduler started")
	return nil
}

// Stop halts the cron loop, waiting for any in-flight job to return.
// Per spec.md §4.9, the external training process itself is not killed;
// only the scheduler loop stops accepting new ticks.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.log.Info().Msg("retraining scheduler stopped")
}
