package gateway

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	refreshSucceeded = "success"
	refreshFailed    = "failure"
)

// Metrics of requests sent by the gateway
type Metrics struct {
	Requests        *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	Refreshes       *prometheus.CounterVec
	Retries         prometheus.Counter
	ForcedLogouts   prometheus.Counter
}

// NewMetrics registers gateway metrics on reg. With nil reg metrics are collected but not exposed
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentmon_gateway_requests_total",
			Help: "Total number of API requests sent, by method and status code (0 for transport errors)",
		}, []string{"method", "code"}),
		RequestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentmon_gateway_request_duration_seconds",
			Help:    "Duration of API requests",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "agentmon_gateway_refresh_total",
			Help: "Total number of access token refresh calls, by result",
		}, []string{"result"}),
		Retries: f.NewCounter(prometheus.CounterOpts{
			Name: "agentmon_gateway_retries_total",
			Help: "Total number of requests resent after 401",
		}),
		ForcedLogouts: f.NewCounter(prometheus.CounterOpts{
			Name: "agentmon_gateway_forced_logouts_total",
			Help: "Total number of sessions expired because token could not be refreshed",
		}),
	}
}

// ObserveRequest records one attempt. Call with time.Now() taken before sending
func (m *Metrics) ObserveRequest(method string, code int, start time.Time) {
	m.Requests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.RequestDuration.Observe(time.Since(start).Seconds())
}
