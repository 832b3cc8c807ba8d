// Package metrics defines the observation sink the detection engine calls
// at defined points (records processed, alerts emitted, rule hits, tier
// latency) and a Prometheus-backed implementation.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink is the metrics interface consumed by the core. Implementations
// must be safe for concurrent use; the core never gates ingestion on it.
type Sink interface {
	Counter(name string, labels map[string]string, delta float64)
	Gauge(name string, labels map[string]string, value float64)
	Observe(name string, labels map[string]string, value float64)
}

// NopSink discards every observation. It is the default when monitoring
// is not configured, so call sites never need a nil check.
type NopSink struct{}

func (NopSink) Counter(string, map[string]string, float64) {}
func (NopSink) Gauge(string, map[string]string, float64)   {}
func (NopSink) Observe(string, map[string]string, float64) {}

// PrometheusSink lazily registers a counter/gauge/histogram family per
// metric name the first time it is observed, keyed on its label set.
type PrometheusSink struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusSink creates a sink registered against reg.
func NewPrometheusSink(reg *prometheus.Registry) *PrometheusSink {
	return &PrometheusSink{
		registry:   reg,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	return names
}

func (s *PrometheusSink) Counter(name string, labels map[string]string, delta float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[name]
	if !ok {
		c = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "sentryd_" + name}, labelNames(labels))
		s.registry.MustRegister(c)
		s.counters[name] = c
	}
	c.With(labels).Add(delta)
}

func (s *PrometheusSink) Gauge(name string, labels map[string]string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gauges[name]
	if !ok {
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "sentryd_" + name}, labelNames(labels))
		s.registry.MustRegister(g)
		s.gauges[name] = g
	}
	g.With(labels).Set(value)
}

func (s *PrometheusSink) Observe(name string, labels map[string]string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.histograms[name]
	if !ok {
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "sentryd_" + name, Buckets: prometheus.DefBuckets}, labelNames(labels))
		s.registry.MustRegister(h)
		s.histograms[name] = h
	}
	h.With(labels).Observe(value)
}

// MultiSink fans observations out to every wrapped sink, so a
// deployment can scrape Prometheus and push to Datadog at once.
type MultiSink struct {
	Sinks []Sink
}

func (m MultiSink) Counter(name string, labels map[string]string, delta float64) {
	for _, s := range m.Sinks {
		s.Counter(name, labels, delta)
	}
}

func (m MultiSink) Gauge(name string, labels map[string]string, value float64) {
	for _, s := range m.Sinks {
		s.Gauge(name, labels, value)
	}
}

func (m MultiSink) Observe(name string, labels map[string]string, value float64) {
	for _, s := range m.Sinks {
		s.Observe(name, labels, value)
	}
}
