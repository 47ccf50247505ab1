// Package telemetry keeps in-process metrics for the intake service and
// exposes them in Prometheus text exposition format. It covers HTTP server
// traffic, document outcomes, auditor protocol paths, and pipeline latency.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config holds the telemetry provider settings.
type Config struct {
	ServiceName    string `json:"service_name"`
	ServiceVersion string `json:"service_version"`
	Environment    string `json:"environment"`
	// MetricsEnabled is nil for the default (enabled).
	MetricsEnabled *bool `json:"metrics_enabled"`
}

func (c *Config) metricsOn() bool {
	if c.MetricsEnabled == nil {
		return true
	}
	return *c.MetricsEnabled
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "intake-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// BoolPtr is a helper to create a *bool for Config fields.
func BoolPtr(b bool) *bool {
	return &b
}

// Metric names. Counter keys are the name followed by "|"-joined label values.
const (
	metricHTTPDuration     = "http.server.request.duration"
	metricActiveRequests   = "http.server.active_requests"
	metricDocumentDuration = "intake.document.duration"
	metricOutcomes         = "intake.outcome.count"
	metricAudits           = "intake.audit.count"
	metricChunks           = "intake.document.chunks"
)

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// histogram is a thread-safe histogram with fixed bucket boundaries. Bucket
// counts are stored non-cumulative and accumulated at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits for atomic add
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

// Observe records a single value.
func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

// Count returns the total number of observations.
func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

// Sum returns the sum of all observations.
func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := slices.Clone(h.bucketCounts)
	h.mu.Unlock()

	var running int64
	for i, c := range raw {
		running += c
		raw[i] = running
	}
	return raw
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		next := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(next)) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Counter store
// ---------------------------------------------------------------------------

type counterStore struct {
	mu    sync.RWMutex
	items map[string]*int64
}

func newCounterStore() *counterStore {
	return &counterStore{items: make(map[string]*int64)}
}

func (s *counterStore) add(key string, delta int64) {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if ok {
		atomic.AddInt64(p, delta)
		return
	}
	s.mu.Lock()
	p, ok = s.items[key]
	if !ok {
		v := delta
		s.items[key] = &v
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	atomic.AddInt64(p, delta)
}

func (s *counterStore) get(key string) int64 {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(p)
}

// sortedKeys returns keys with the given metric-name prefix in sorted order
// so the exposition output is stable.
func (s *counterStore) sortedKeys(name string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.items {
		if strings.HasPrefix(k, name+"|") || k == name {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

func counterKey(name string, labels ...string) string {
	return strings.Join(append([]string{name}, labels...), "|")
}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

// durationBuckets are HTTP request duration boundaries in seconds.
var durationBuckets = []float64{
	0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0, 10.0,
}

// documentBuckets are pipeline latency boundaries in seconds; one document
// fans out to several model calls, so the range is wider than for HTTP.
var documentBuckets = []float64{
	0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// Provider manages all metrics state. It is safe for concurrent use.
type Provider struct {
	cfg Config

	httpDuration     *histogram
	documentDuration *histogram
	chunks           *histogram

	counters *counterStore
	active   int64
}

// NewProvider creates the metrics provider.
func NewProvider(cfg Config) *Provider {
	cfg.applyDefaults()
	return &Provider{
		cfg:              cfg,
		httpDuration:     newHistogram(durationBuckets),
		documentDuration: newHistogram(documentBuckets),
		chunks:           newHistogram([]float64{1, 2, 5, 10, 25, 50, 100}),
		counters:         newCounterStore(),
	}
}

// Resource returns the service attributes attached to the exposition.
func (p *Provider) Resource() map[string]string {
	return map[string]string{
		"service.name":           p.cfg.ServiceName,
		"service.version":        p.cfg.ServiceVersion,
		"deployment.environment": p.cfg.Environment,
	}
}

// RecordOutcome counts one processed document by outcome status.
func (p *Provider) RecordOutcome(status string) {
	if !p.cfg.metricsOn() {
		return
	}
	p.counters.add(counterKey(metricOutcomes, status), 1)
}

// RecordAudit counts one audited chunk by protocol path and classification.
func (p *Provider) RecordAudit(path, classification string) {
	if !p.cfg.metricsOn() {
		return
	}
	p.counters.add(counterKey(metricAudits, path, classification), 1)
}

// ObserveDocument records the end-to-end latency and chunk count of one
// document.
func (p *Provider) ObserveDocument(d time.Duration, chunks int) {
	if !p.cfg.metricsOn() {
		return
	}
	p.documentDuration.Observe(d.Seconds())
	p.chunks.Observe(float64(chunks))
}

// OutcomeCount returns the number of outcomes recorded with status.
func (p *Provider) OutcomeCount(status string) int64 {
	return p.counters.get(counterKey(metricOutcomes, status))
}

// AuditCount returns the number of chunk audits recorded for path and
// classification.
func (p *Provider) AuditCount(path, classification string) int64 {
	return p.counters.get(counterKey(metricAudits, path, classification))
}

// ---------------------------------------------------------------------------
// MetricsMiddleware
// ---------------------------------------------------------------------------

// MetricsMiddleware returns an Echo middleware that records HTTP server
// request counts and durations.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !p.cfg.metricsOn() {
				return next(c)
			}

			atomic.AddInt64(&p.active, 1)
			start := time.Now()

			err := next(c)
			if err != nil {
				// Resolve the status before it is read below.
				c.Error(err)
			}

			atomic.AddInt64(&p.active, -1)
			p.httpDuration.Observe(time.Since(start).Seconds())

			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			p.counters.add(counterKey("http.server.request.count",
				c.Request().Method, route, fmt.Sprintf("%d", c.Response().Status)), 1)
			return nil
		}
	}
}

// ---------------------------------------------------------------------------
// PrometheusHandler
// ---------------------------------------------------------------------------

// PrometheusHandler serves all metrics in Prometheus text exposition format.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		writeHistogram(&b, "http_server_request_duration_seconds",
			"Duration of HTTP requests in seconds.", p.httpDuration)

		b.WriteString("# HELP http_server_active_requests Number of active HTTP requests.\n")
		b.WriteString("# TYPE http_server_active_requests gauge\n")
		fmt.Fprintf(&b, "http_server_active_requests %d\n\n", atomic.LoadInt64(&p.active))

		writeCounter(&b, p.counters, "http.server.request.count", "http_server_request_count",
			"Total HTTP requests by method, route and status code.", "method", "route", "status_code")
		writeCounter(&b, p.counters, metricOutcomes, "intake_outcome_count",
			"Processed documents by outcome status.", "status")
		writeCounter(&b, p.counters, metricAudits, "intake_audit_count",
			"Audited chunks by protocol path and classification.", "path", "classification")

		writeHistogram(&b, "intake_document_duration_seconds",
			"End-to-end document processing time in seconds.", p.documentDuration)
		writeHistogram(&b, "intake_document_chunks",
			"Chunks produced per document.", p.chunks)

		return c.String(http.StatusOK, b.String())
	}
}

// ---------------------------------------------------------------------------
// Prometheus format helpers
// ---------------------------------------------------------------------------

func writeCounter(b *strings.Builder, s *counterStore, name, promName, help string, labels ...string) {
	fmt.Fprintf(b, "# HELP %s %s\n", promName, help)
	fmt.Fprintf(b, "# TYPE %s counter\n", promName)
	for _, key := range s.sortedKeys(name) {
		parts := strings.Split(key, "|")[1:]
		if len(parts) != len(labels) {
			continue
		}
		pairs := make([]string, len(labels))
		for i, l := range labels {
			pairs[i] = fmt.Sprintf("%s=%q", l, parts[i])
		}
		fmt.Fprintf(b, "%s{%s} %d\n", promName, strings.Join(pairs, ","), s.get(key))
	}
	b.WriteByte('\n')
}

func writeHistogram(b *strings.Builder, name, help string, h *histogram) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s histogram\n", name)

	cum := h.cumulativeBuckets()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{le=\"%g\"} %d\n", name, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"} %d\n", name, h.Count())
	fmt.Fprintf(b, "%s_sum %g\n", name, h.Sum())
	fmt.Fprintf(b, "%s_count %d\n", name, h.Count())
	b.WriteByte('\n')
}
