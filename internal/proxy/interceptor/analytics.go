package interceptor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// AnalyticsRecorder accumulates request/response size and latency samples
// for the Proxy Server's /metrics surface, safe for concurrent readers and
// serialized writers per spec.md §4.8's shared-state rule.
type AnalyticsRecorder struct {
	mu sync.Mutex

	requestSize  *prometheus.HistogramVec
	responseSize *prometheus.HistogramVec
	latency      *prometheus.HistogramVec
	statusTotal  *prometheus.CounterVec
}

// NewAnalyticsRecorder constructs and registers the analytics metrics on
// reg.
func NewAnalyticsRecorder(reg prometheus.Registerer) *AnalyticsRecorder {
	r := &AnalyticsRecorder{
		requestSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "codemie_proxy_request_bytes",
			Help:    "Size of proxied request bodies in bytes.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 10),
		}, []string{"method"}),
		responseSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "codemie_proxy_response_bytes",
			Help:    "Size of proxied response bodies in bytes.",
			Buckets: prometheus.ExponentialBuckets(64, 4, 10),
		}, []string{"method"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "codemie_proxy_request_duration_seconds",
			Help:    "Latency of proxied requests in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),
		statusTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "codemie_proxy_responses_total",
			Help: "Count of proxied responses by status code.",
		}, []string{"method", "status"}),
	}
	reg.MustRegister(r.requestSize, r.responseSize, r.latency, r.statusTotal)
	return r
}

// Analytics records request size (capped above AnalyticsBodyCap), latency,
// response size, and status code for every transaction.
func (r *AnalyticsRecorder) Analytics() Hook {
	return Hook{
		Name: "analytics",
		OnRequest: func(ctx *ProxyContext) error {
			size := len(ctx.Body)
			if size > AnalyticsBodyCap {
				size = AnalyticsBodyCap
			}
			r.mu.Lock()
			r.requestSize.WithLabelValues(ctx.Method).Observe(float64(size))
			r.mu.Unlock()
			return nil
		},
		OnResponse: func(ctx *ProxyContext, resp *ResponseInfo) error {
			status := statusLabel(resp.StatusCode)
			r.mu.Lock()
			r.responseSize.WithLabelValues(ctx.Method).Observe(float64(len(resp.Body)))
			r.latency.WithLabelValues(ctx.Method, status).Observe(resp.Latency.Seconds())
			r.statusTotal.WithLabelValues(ctx.Method, status).Inc()
			r.mu.Unlock()
			return nil
		},
	}
}

func statusLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
