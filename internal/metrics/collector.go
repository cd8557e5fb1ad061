// Package metrics exposes process counters in Prometheus text format
// without pulling in the full client library.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide metrics collector.
var Collector = New()

// MetricsCollector holds counters, gauges and histograms keyed by name.
type MetricsCollector struct {
	mu         sync.Mutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	startTime  time.Time
}

func New() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
		startTime:  time.Now(),
	}
}

// Counter is a monotonically increasing value.
type Counter struct {
	help  string
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can move both ways.
type Gauge struct {
	help  string
	value atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks a distribution over fixed buckets.
type Histogram struct {
	help    string
	mu      sync.Mutex
	count   int64
	sum     float64
	bounds  []float64
	buckets []int64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.buckets[i]++
		}
	}
}

func (m *MetricsCollector) Counter(name, help string) *Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[name]; ok {
		return c
	}
	c := &Counter{help: help}
	m.counters[name] = c
	return c
}

func (m *MetricsCollector) Gauge(name, help string) *Gauge {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g, ok := m.gauges[name]; ok {
		return g
	}
	g := &Gauge{help: help}
	m.gauges[name] = g
	return g
}

func (m *MetricsCollector) Histogram(name, help string, bounds []float64) *Histogram {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.histograms[name]; ok {
		return h
	}
	sort.Float64s(bounds)
	h := &Histogram{help: help, bounds: bounds, buckets: make([]int64, len(bounds))}
	m.histograms[name] = h
	return h
}

// Handler renders every registered metric in Prometheus text format.
func (m *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var sb strings.Builder
		fmt.Fprintf(&sb, "# HELP unibox_uptime_seconds Time since start in seconds\n")
		fmt.Fprintf(&sb, "# TYPE unibox_uptime_seconds gauge\n")
		fmt.Fprintf(&sb, "unibox_uptime_seconds %d\n", int64(time.Since(m.startTime).Seconds()))

		m.mu.Lock()
		defer m.mu.Unlock()

		for _, name := range sortedKeys(m.counters) {
			c := m.counters[name]
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, c.help, name, name, c.Value())
		}
		for _, name := range sortedKeys(m.gauges) {
			g := m.gauges[name]
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n", name, g.help, name, name, g.Value())
		}
		for _, name := range sortedKeys(m.histograms) {
			h := m.histograms[name]
			h.mu.Lock()
			fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s histogram\n", name, h.help, name)
			for i, le := range h.bounds {
				fmt.Fprintf(&sb, "%s_bucket{le=\"%g\"} %d\n", name, le, h.buckets[i])
			}
			fmt.Fprintf(&sb, "%s_bucket{le=\"+Inf\"} %d\n", name, h.count)
			fmt.Fprintf(&sb, "%s_count %d\n%s_sum %f\n", name, h.count, name, h.sum)
			h.mu.Unlock()
		}

		fmt.Fprint(w, sb.String())
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Metrics used across the dispatch paths.
var (
	MessagesSent     = Collector.Counter("unibox_messages_sent_total", "Outbound delivery attempts")
	MessagesReceived = Collector.Counter("unibox_messages_received_total", "Inbound messages persisted")
	MessagesFailed   = Collector.Counter("unibox_messages_failed_total", "Failed delivery attempts")
	WebhooksReceived = Collector.Counter("unibox_webhooks_total", "Provider callbacks processed")
	SweepRuns        = Collector.Counter("unibox_sweep_runs_total", "Scheduled-message sweep runs")
	WSConnections    = Collector.Gauge("unibox_ws_connections", "Connected realtime clients")

	SendLatency = Collector.Histogram("unibox_send_latency_seconds",
		"Provider send call latency in seconds",
		[]float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30})
)
