// Package metrics collects Prometheus metrics for the auth boundary and the
// task store and exposes them for scraping.
package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the middleware, services and handlers report to.
type Recorder interface {
	RecordAuthFailure(reason string)
	RecordKeyRefresh(result string)
	RecordTaskOperation(op, result string)
	RecordRequest(method string, status int, latency time.Duration)
}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	authFailures *prometheus.CounterVec
	keyRefreshes *prometheus.CounterVec
	taskOps      *prometheus.CounterVec
	requests     *prometheus.CounterVec
	latency      prometheus.Histogram
}

// NewCollector creates a Collector and registers its metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todo_auth_failures_total",
			Help: "Rejected requests at the authentication boundary, by reason.",
		}, []string{"reason"}),
		keyRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todo_jwks_refresh_total",
			Help: "Key set refresh attempts, by result.",
		}, []string{"result"}),
		taskOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todo_task_operations_total",
			Help: "Task repository operations, by operation and result.",
		}, []string{"op", "result"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "todo_http_requests_total",
			Help: "HTTP requests, by method and status code.",
		}, []string{"method", "status_code"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "todo_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.authFailures,
		c.keyRefreshes,
		c.taskOps,
		c.requests,
		c.latency,
	)

	return c
}

func (c *Collector) RecordAuthFailure(reason string) {
	c.authFailures.WithLabelValues(reason).Inc()
}

func (c *Collector) RecordKeyRefresh(result string) {
	c.keyRefreshes.WithLabelValues(result).Inc()
}

func (c *Collector) RecordTaskOperation(op, result string) {
	c.taskOps.WithLabelValues(op, result).Inc()
}

func (c *Collector) RecordRequest(method string, status int, latency time.Duration) {
	c.requests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	c.latency.Observe(latency.Seconds())
}

// Handler serves the gatherer's metrics on a fiber route.
func Handler(gatherer prometheus.Gatherer) fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

// Nop discards everything. Used when metrics are not wired, e.g. in tests.
type Nop struct{}

func (Nop) RecordAuthFailure(string) {}
func (Nop) RecordKeyRefresh(string) {}
func (Nop) RecordTaskOperation(string, string) {}
func (Nop) RecordRequest(string, int, time.Duration) {}
