package metrics

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DatadogConfig holds DogStatsD agent connection settings.
type DatadogConfig struct {
	Address       string
	Namespace     string
	GlobalTags    []string
	FlushInterval time.Duration
	BufferSize    int
	Enabled       bool
}

// DefaultDatadogConfig returns sane defaults.
func DefaultDatadogConfig() DatadogConfig {
	return DatadogConfig{
		Address:       "127.0.0.1:8125",
		Namespace:     "sentryd",
		FlushInterval: 10 * time.Second,
		BufferSize:    256,
		Enabled:       false,
	}
}

// DatadogSink is a metrics.Sink that ships observations to a DogStatsD
// agent over UDP, buffering lines and flushing on a timer or when the
// buffer fills. Complements PrometheusSink for deployments that pull
// metrics into Datadog rather than scraping /metrics directly.
type DatadogSink struct {
	cfg    DatadogConfig
	conn   net.Conn
	logger zerolog.Logger

	mu     sync.Mutex
	buffer []string
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewDatadogSink creates and starts a DogStatsD sink. A disabled config
// returns a no-op sink rather than an error so callers never need a
// nil check.
func NewDatadogSink(cfg DatadogConfig, logger zerolog.Logger) (*DatadogSink, error) {
	dd := &DatadogSink{
		cfg:    cfg,
		logger: logger.With().Str("component", "datadog_sink").Logger(),
		buffer: make([]string, 0, cfg.BufferSize),
		stopCh: make(chan struct{}),
	}

	if !cfg.Enabled {
		dd.logger.Info().Msg("datadog sink disabled, metrics will not be sent")
		return dd, nil
	}

	conn, err := net.Dial("udp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("datadog sink: cannot connect to %s: %w", cfg.Address, err)
	}
	dd.conn = conn

	dd.wg.Add(1)
	go dd.flushLoop()

	dd.logger.Info().Str("address", cfg.Address).Dur("flush_interval", cfg.FlushInterval).Msg("datadog sink started")
	return dd, nil
}

// Stop flushes any buffered lines and closes the UDP connection.
func (dd *DatadogSink) Stop() {
	if !dd.cfg.Enabled {
		return
	}
	close(dd.stopCh)
	dd.wg.Wait()
	dd.flush()
	if dd.conn != nil {
		dd.conn.Close()
	}
}

func (dd *DatadogSink) Counter(name string, labels map[string]string, delta float64) {
	dd.send(name, fmt.Sprintf("%f", delta), "c", labels)
}

func (dd *DatadogSink) Gauge(name string, labels map[string]string, value float64) {
	dd.send(name, fmt.Sprintf("%f", value), "g", labels)
}

func (dd *DatadogSink) Observe(name string, labels map[string]string, value float64) {
	dd.send(name, fmt.Sprintf("%f", value), "h", labels)
}

func (dd *DatadogSink) send(name, value, metricType string, labels map[string]string) {
	if !dd.cfg.Enabled {
		return
	}
	line := fmt.Sprintf("%s:%s|%s%s", dd.namespaced(name), value, metricType, dd.formatTags(labels))
	dd.bufferLine(line)
}

func (dd *DatadogSink) namespaced(name string) string {
	if dd.cfg.Namespace != "" {
		return dd.cfg.Namespace + "." + name
	}
	return name
}

func (dd *DatadogSink) formatTags(labels map[string]string) string {
	tags := make([]string, 0, len(dd.cfg.GlobalTags)+len(labels))
	tags = append(tags, dd.cfg.GlobalTags...)
	for k, v := range labels {
		tags = append(tags, k+":"+v)
	}
	if len(tags) == 0 {
		return ""
	}
	return "|#" + strings.Join(tags, ",")
}

func (dd *DatadogSink) bufferLine(line string) {
	dd.mu.Lock()
	dd.buffer = append(dd.buffer, line)
	shouldFlush := len(dd.buffer) >= dd.cfg.BufferSize
	dd.mu.Unlock()

	if shouldFlush {
		dd.flush()
	}
}

func (dd *DatadogSink) flushLoop() {
	defer dd.wg.Done()
	ticker := time.NewTicker(dd.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			dd.flush()
		case <-dd.stopCh:
			return
		}
	}
}

func (dd *DatadogSink) flush() {
	dd.mu.Lock()
	if len(dd.buffer) == 0 {
		dd.mu.Unlock()
		return
	}
	lines := dd.buffer
	dd.buffer = make([]string, 0, dd.cfg.BufferSize)
	dd.mu.Unlock()

	if dd.conn == nil {
		return
	}
	if _, err := dd.conn.Write([]byte(strings.Join(lines, "\n"))); err != nil {
		dd.logger.Warn().Err(err).Int("lines", len(lines)).Msg("failed to send metrics to datadog")
	}
}
