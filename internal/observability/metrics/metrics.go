// Package metrics exposes Prometheus collectors for the agent pipeline, tool
// invocations, budget denials, asynchronous runs and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "travelagent"

var latencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Metrics 持有独立的注册表，便于测试隔离与多实例部署。
type Metrics struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	runLatency  *prometheus.HistogramVec
	tools       *prometheus.CounterVec
	toolLatency *prometheus.HistogramVec
	denials     *prometheus.CounterVec
	queued      *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpErrors   *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

// New 创建并注册全部采集器，同时附带 Go 运行时与进程指标。
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Agent pipeline passes by outcome status.",
		}, []string{"status"}),
		runLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Agent pipeline pass duration in seconds.",
			Buckets:   latencyBuckets,
		}, []string{"status"}),
		tools: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Tool invocations by tool name and result.",
		}, []string{"tool", "status"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_duration_seconds",
			Help:      "Tool invocation duration in seconds.",
			Buckets:   latencyBuckets,
		}, []string{"tool"}),
		denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "budget_denials_total",
			Help:      "Operations refused by the spend cap, by ledger category.",
		}, []string{"category"}),
		queued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Asynchronous runs by lifecycle event.",
		}, []string{"event"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   latencyBuckets,
		}, []string{"handler", "method"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.runs, m.runLatency,
		m.tools, m.toolLatency,
		m.denials, m.queued,
		m.httpRequests, m.httpErrors, m.httpLatency,
	)
	return m
}

// ObserveRun 记录一次流水线处理。
func (m *Metrics) ObserveRun(status string, elapsed time.Duration) {
	m.runs.WithLabelValues(status).Inc()
	m.runLatency.WithLabelValues(status).Observe(elapsed.Seconds())
}

// ObserveTool 记录一次工具调用。
func (m *Metrics) ObserveTool(name, status string, elapsed time.Duration) {
	m.tools.WithLabelValues(name, status).Inc()
	m.toolLatency.WithLabelValues(name).Observe(elapsed.Seconds())
}

// ObserveDenial 记录一次被消费上限拒绝的操作。
func (m *Metrics) ObserveDenial(category string) {
	m.denials.WithLabelValues(category).Inc()
}

// ObserveRunEvent 记录异步运行的生命周期事件，如 submitted、succeeded、retried、failed。
func (m *Metrics) ObserveRunEvent(event string) {
	m.queued.WithLabelValues(event).Inc()
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (m *Metrics) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		m.httpErrors.WithLabelValues(handler, method).Inc()
	}
	m.httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Registry 返回底层注册表。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler exposes the metrics in Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
