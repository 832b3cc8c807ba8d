// Command sentryd runs the HTTP access-log anomaly detection engine:
// it reads a log input file once from start to end, feeds each record through AnalysisEngine and
// RuleEngine, and fans resulting alerts out to the configured sinks,
// while background tasks handle pruning, snapshotting, model
// retraining, threat-feed refresh, and metrics/health exposition.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/r3dev/sentryd/internal/alert"
	"github.com/r3dev/sentryd/internal/analysis"
	"github.com/r3dev/sentryd/internal/config"
	"github.com/r3dev/sentryd/internal/httpapi"
	"github.com/r3dev/sentryd/internal/learning"
	"github.com/r3dev/sentryd/internal/logentry"
	"github.com/r3dev/sentryd/internal/logging"
	"github.com/r3dev/sentryd/internal/metrics"
	"github.com/r3dev/sentryd/internal/mlmodel"
	"github.com/r3dev/sentryd/internal/rediscli"
	"github.com/r3dev/sentryd/internal/rules"
	"github.com/r3dev/sentryd/internal/threatfeed"
)

func main() {
	configPath := flag.String("config", envOrDefault("SENTRYD_CONFIG", "sentryd.yaml"), "path to the YAML config file")
	adminAddr := flag.String("admin-addr", envOrDefault("SENTRYD_ADMIN_ADDR", ":9090"), "admin/metrics/health listen address")
	envName := flag.String("env", envOrDefault("SENTRYD_ENV", "production"), "deployment environment (development enables debug logging)")
	flag.Parse()

	log := logging.New(*envName)
	log.Info().Str("config", *configPath).Msg("sentryd starting")

	if err := config.LoadSecretsOverlay(envOrDefault("SENTRYD_ENV_FILE", ".env")); err != nil {
		log.Warn().Err(err).Msg("secrets overlay load failed, continuing with process environment only")
	}

	file, err := config.LoadFile(*configPath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config file")
	}
	rt, err := config.Resolve(file)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to resolve config")
	}

	registry := prometheus.NewRegistry()
	met := metrics.Sink(metrics.NewPrometheusSink(registry))
	if ddAddr := os.Getenv("SENTRYD_DATADOG_ADDR"); ddAddr != "" {
		ddCfg := metrics.DefaultDatadogConfig()
		ddCfg.Enabled = true
		ddCfg.Address = ddAddr
		ddSink, err := metrics.NewDatadogSink(ddCfg, log)
		if err != nil {
			log.Warn().Err(err).Msg("datadog sink unavailable, falling back to prometheus-only metrics")
		} else {
			met = metrics.MultiSink{Sinks: []metrics.Sink{met, ddSink}}
			defer ddSink.Stop()
		}
	}

	var redisClient *redis.Client
	redisClient, err = rediscli.New(rt.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("invalid redis URL, threat feed cache disabled")
		redisClient = nil
	} else if perr := rediscli.Ping(redisClient); perr != nil {
		log.Warn().Err(perr).Msg("redis ping failed, threat feed cache unavailable")
	}

	learningEngine := learning.New(rt.Learning, log)

	aengine := analysis.New(rt.Analysis, log, met)
	if rt.General.StateFilePath != "" {
		if err := aengine.LoadState(rt.General.StateFilePath); err != nil {
			log.Warn().Err(err).Msg("state snapshot load failed, starting from empty state")
		}
	}

	var fallback mlmodel.Model = mlmodel.NewHeuristicModel()
	modelMgr := mlmodel.New(rt.MLModel, log, fallback)
	modelMgr.LoadFromConfig()

	alertSinks := []alert.Manager{alert.NewStdoutSink(log)}
	if url := os.Getenv("SENTRYD_WEBHOOK_URL"); url != "" {
		alertSinks = append(alertSinks, alert.NewWebhookSink(alert.WebhookConfig{
			URL:        url,
			MaxRetries: 3,
			RetryDelay: time.Second,
			Timeout:    5 * time.Second,
		}, log))
	}
	if routingKey := os.Getenv("SENTRYD_PAGERDUTY_ROUTING_KEY"); routingKey != "" {
		pdCfg := alert.DefaultPagerDutyConfig()
		pdCfg.Enabled = true
		pdCfg.RoutingKey = routingKey
		alertSinks = append(alertSinks, alert.NewPagerDutySink(pdCfg, log))
	}
	alertManager := alert.NewFanOut(log, alertSinks...)

	rengine := rules.New(rt.Rules, log, met, modelMgr, learningEngine, alertManager)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	watcher, err := config.NewWatcher(*configPath, log, func(newRT *config.Runtime) {
		aengine.Reconfigure(newRT.Analysis)
		rengine.Reconfigure(newRT.Rules)
		learningEngine.Reconfigure(newRT.Learning)
	})
	if err != nil {
		log.Warn().Err(err).Msg("config watcher unavailable, hot reload disabled")
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := watcher.Run(ctx); err != nil {
				log.Error().Err(err).Msg("config watcher stopped")
			}
		}()
	}

	if redisClient != nil && rt.General.AllowlistPath != "" {
		startThreatFeedRefresh(ctx, &wg, rt, redisClient, rengine, log)
	}

	startPruner(ctx, &wg, aengine, rt, met, log)
	if rt.General.StateFilePath != "" {
		startSnapshotWriter(ctx, &wg, aengine, rt.General.StateFilePath, log)
	}

	scheduler := mlmodel.NewScheduler(modelMgr, log)
	if err := scheduler.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("retraining scheduler failed to start")
	}

	adminServer := &http.Server{
		Addr:         *adminAddr,
		Handler:      httpapi.NewRouter(log, registry, aengine, modelInfo{modelMgr}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("addr", *adminAddr).Msg("admin server listening")
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("admin server failed")
		}
	}()

	ingestWG := sync.WaitGroup{}
	if rt.General.LogInputPath != "" {
		ingestWG.Add(1)
		go func() {
			defer ingestWG.Done()
			runIngestion(ctx, rt.General.LogInputPath, aengine, rengine, learningEngine, log)
		}()
	} else {
		log.Warn().Msg("general.log_input_path not set, ingestion loop not started")
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	<-shutdown
	log.Info().Msg("shutdown signal received")

	cancel()
	scheduler.Stop()
	ingestWG.Wait()

	if err := alertManager.FlushAllAlerts(); err != nil {
		log.Error().Err(err).Msg("final alert flush failed")
	}
	if rt.General.StateFilePath != "" {
		if err := aengine.SaveState(rt.General.StateFilePath); err != nil {
			log.Error().Err(err).Msg("final state snapshot failed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("admin server graceful shutdown failed")
	}

	wg.Wait()
	log.Info().Msg("sentryd stopped")
}

// runIngestion reads newline-delimited JSON-encoded logentry.LogEntry
// records from path and drives them through the analysis/rule
// pipeline. Log parsing itself (turning a raw access-log line into a
// LogEntry) is an external collaborator concern per spec.md §1; this
// driver expects that parsing to have already happened upstream and
// assumes a JSON-per-line wire format, which keeps the ingestion loop
// testable without hand-rolling an access-log grammar.
func runIngestion(ctx context.Context, path string, aengine *analysis.Engine, rengine *rules.Engine, learningEngine *learning.Engine, log zerolog.Logger) {
	f, err := os.Open(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("failed to open log input, ingestion loop exiting")
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var entry logentry.LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			log.Warn().Err(err).Msg("malformed log record skipped")
			continue
		}

		evt := aengine.Process(entry)
		if evt.Malformed {
			continue
		}

		updateLearning(learningEngine, evt)

		if _, err := rengine.Evaluate(evt); err != nil {
			log.Error().Err(err).Msg("rule evaluation failed")
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		log.Error().Err(err).Msg("log input scan error")
	}
}

// updateLearning folds the event's per-entity observations into the
// baselines RuleEngine's tier-4 queries read from.
func updateLearning(learningEngine *learning.Engine, evt *analysis.AnalyzedEvent) {
	ts := time.UnixMilli(evt.ParsedTimestampMs)
	learningEngine.ProcessEvent("ip_request_time", evt.IP, evt.RequestTimeS, ts)
	learningEngine.ProcessEvent("ip_bytes_sent", evt.IP, float64(evt.BytesSent), ts)
	learningEngine.ProcessEvent("path_request_time", evt.Path, evt.RequestTimeS, ts)
	if evt.Status >= 400 {
		learningEngine.ProcessEvent("ip_failed_logins", evt.IP, 1, ts)
	}
}

func startPruner(ctx context.Context, wg *sync.WaitGroup, aengine *analysis.Engine, rt *config.Runtime, met metrics.Sink, log zerolog.Logger) {
	if !rt.Analysis.StatePruningEnabled {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ip, path, session := aengine.RunPruning()
				log.Info().Int("ips_removed", ip).Int("paths_removed", path).Int("sessions_removed", session).Msg("state pruning complete")
				met.Gauge("ip_states", nil, float64(aengine.IPStateCount()))
				met.Gauge("path_states", nil, float64(aengine.PathStateCount()))
				met.Gauge("session_states", nil, float64(aengine.SessionStateCount()))
			}
		}
	}()
}

func startSnapshotWriter(ctx context.Context, wg *sync.WaitGroup, aengine *analysis.Engine, path string, log zerolog.Logger) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := aengine.SaveState(path); err != nil {
					log.Error().Err(err).Msg("periodic state snapshot failed")
				}
			}
		}
	}()
}

func startThreatFeedRefresh(ctx context.Context, wg *sync.WaitGroup, rt *config.Runtime, redisClient *redis.Client, rengine *rules.Engine, log zerolog.Logger) {
	raw, err := os.ReadFile(rt.General.AllowlistPath)
	if err != nil {
		log.Warn().Err(err).Str("path", rt.General.AllowlistPath).Msg("allowlist file unreadable, threat feed refresh disabled")
		return
	}
	var lines []string
	if err := json.Unmarshal(raw, &lines); err != nil {
		log.Warn().Err(err).Msg("allowlist file is not a JSON string array, threat feed refresh disabled")
		return
	}
	cidrs, err := threatfeed.ParseCIDRs(lines)
	if err != nil {
		log.Warn().Err(err).Msg("allowlist file contains invalid CIDRs, threat feed refresh disabled")
		return
	}

	source := threatfeed.StaticSource{Lists: threatfeed.AllowDenyLists{AllowCIDRs: cidrs}}
	cache := threatfeed.NewRedisCache(source, redisClient, "sentryd:threatfeed:allowlist", 5*time.Minute, log)

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		refresh := func() {
			lists, err := cache.Fetch(ctx)
			if err != nil {
				log.Error().Err(err).Msg("threat feed refresh failed")
				return
			}
			cfg := rt.Rules
			cfg.AllowlistCIDRs = lists.AllowCIDRs
			rengine.Reconfigure(cfg)
		}
		refresh()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refresh()
			}
		}
	}()
}

// modelInfo adapts ModelManager to httpapi.ModelInfo, whose Current
// returns the narrower interface{ Name() string }.
type modelInfo struct{ mm *mlmodel.ModelManager }

func (m modelInfo) Current() interface{ Name() string } { return m.mm.Current() }

func envOrDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
