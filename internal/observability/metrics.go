package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "code_batch_engine"

// Metrics stores Prometheus collectors used by API and generation flows.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	codesGeneratedTotal   *prometheus.CounterVec
	batchesFinalizedTotal *prometheus.CounterVec
	generationDuration    *prometheus.HistogramVec
	generationInflight    *prometheus.GaugeVec
	scanCapReachedTotal   prometheus.Counter
	exportsTotal          *prometheus.CounterVec
	batchDeletionsTotal   *prometheus.CounterVec
	codesDeletedTotal     prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		codesGeneratedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "codes_generated_total",
				Help:      "Total number of codes persisted, grouped by strategy.",
			},
			[]string{"strategy"},
		),
		batchesFinalizedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_finalized_total",
				Help:      "Total number of batches that reached a terminal status.",
			},
			[]string{"strategy", "status"},
		),
		generationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Wall time of one generation pipeline run grouped by strategy.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"strategy"},
		),
		generationInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "generation_inflight",
				Help:      "Current number of running generation pipelines grouped by strategy.",
			},
			[]string{"strategy"},
		),
		scanCapReachedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scan_cap_reached_total",
				Help:      "Number of existing-code scans truncated at the scan cap.",
			},
		),
		exportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "exports_total",
				Help:      "Total number of export artifacts produced grouped by format.",
			},
			[]string{"format"},
		),
		batchDeletionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_deletions_total",
				Help:      "Total number of deleted batches grouped by deletion path.",
			},
			[]string{"path"},
		),
		codesDeletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "codes_deleted_total",
				Help:      "Total number of code rows removed by batch deletion.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.codesGeneratedTotal,
		m.batchesFinalizedTotal,
		m.generationDuration,
		m.generationInflight,
		m.scanCapReachedTotal,
		m.exportsTotal,
		m.batchDeletionsTotal,
		m.codesDeletedTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) AddCodesGenerated(strategy string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.codesGeneratedTotal.WithLabelValues(normalizeLabel(strategy)).Add(float64(n))
}

func (m *Metrics) IncBatchFinalized(strategy string, status string) {
	if m == nil {
		return
	}
	m.batchesFinalizedTotal.WithLabelValues(normalizeLabel(strategy), normalizeLabel(status)).Inc()
}

func (m *Metrics) ObserveGenerationDuration(strategy string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.generationDuration.WithLabelValues(normalizeLabel(strategy)).Observe(seconds)
}

func (m *Metrics) IncGenerationInFlight(strategy string) {
	if m == nil {
		return
	}
	m.generationInflight.WithLabelValues(normalizeLabel(strategy)).Inc()
}

func (m *Metrics) DecGenerationInFlight(strategy string) {
	if m == nil {
		return
	}
	m.generationInflight.WithLabelValues(normalizeLabel(strategy)).Dec()
}

func (m *Metrics) IncScanCapReached() {
	if m == nil {
		return
	}
	m.scanCapReachedTotal.Inc()
}

func (m *Metrics) IncExport(format string) {
	if m == nil {
		return
	}
	m.exportsTotal.WithLabelValues(normalizeLabel(format)).Inc()
}

func (m *Metrics) IncBatchDeleted(path string, codesDeleted int64) {
	if m == nil {
		return
	}
	m.batchDeletionsTotal.WithLabelValues(normalizeLabel(path)).Inc()
	if codesDeleted > 0 {
		m.codesDeletedTotal.Add(float64(codesDeleted))
	}
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
