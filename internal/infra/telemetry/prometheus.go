package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"salesmcp/internal/domain"
)

type PrometheusMetrics struct {
	dispatchDuration *prometheus.HistogramVec
	toolCalls        *prometheus.CounterVec
	toolDuration     *prometheus.HistogramVec
	sessionsCreated  prometheus.Counter
	sessionsEvicted  *prometheus.CounterVec
	activeSessions   prometheus.Gauge
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		dispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "salesmcp_dispatch_duration_seconds",
				Help:    "Duration of dispatched HTTP requests in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"mode", "method", "status", "code"},
		),
		toolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salesmcp_tool_calls_total",
				Help: "Total number of tool invocations",
			},
			[]string{"tool", "code"},
		),
		toolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "salesmcp_tool_duration_seconds",
				Help:    "Duration of tool invocations in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"tool"},
		),
		sessionsCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "salesmcp_sessions_created_total",
				Help: "Total number of sessions created",
			},
		),
		sessionsEvicted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "salesmcp_sessions_evicted_total",
				Help: "Total number of sessions removed from the store",
			},
			[]string{"reason"},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "salesmcp_active_sessions",
				Help: "Current number of live sessions",
			},
		),
	}
}

func (p *PrometheusMetrics) ObserveDispatch(metric domain.DispatchMetric) {
	status := metric.Status
	if status == "" {
		status = domain.DispatchStatusSuccess
	}
	p.dispatchDuration.WithLabelValues(
		string(metric.Mode),
		metric.Method,
		string(status),
		codeLabel(metric.Code),
	).Observe(metric.Duration.Seconds())
}

func (p *PrometheusMetrics) ObserveToolCall(metric domain.ToolCallMetric) {
	p.toolCalls.WithLabelValues(metric.Tool, codeLabel(metric.Code)).Inc()
	p.toolDuration.WithLabelValues(metric.Tool).Observe(metric.Duration.Seconds())
}

func (p *PrometheusMetrics) ObserveSessionCreated() {
	p.sessionsCreated.Inc()
}

func (p *PrometheusMetrics) ObserveSessionEvicted(reason domain.EvictionReason) {
	p.sessionsEvicted.WithLabelValues(string(reason)).Inc()
}

func (p *PrometheusMetrics) SetActiveSessions(count int) {
	p.activeSessions.Set(float64(count))
}

func codeLabel(code domain.ErrorCode) string {
	if code == "" {
		return "OK"
	}
	return string(code)
}

var _ domain.Metrics = (*PrometheusMetrics)(nil)
