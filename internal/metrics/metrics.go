package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 服务指标
type Metrics struct {
	registry *prometheus.Registry

	requests  *prometheus.CounterVec
	inference *prometheus.HistogramVec
	masks     prometheus.Histogram
	cacheHits *prometheus.CounterVec
}

// New 创建独立的指标注册表
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sam2",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		inference: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sam2",
			Name:      "inference_duration_seconds",
			Help:      "Model inference latency by operation.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"op"}),
		masks: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sam2",
			Name:      "generated_masks",
			Help:      "Number of masks produced by automatic generation.",
			Buckets:   prometheus.LinearBuckets(0, 16, 10),
		}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sam2",
			Name:      "cache_lookups_total",
			Help:      "Mask cache lookups by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.requests, m.inference, m.masks, m.cacheHits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveRequest 记录一次 HTTP 请求
func (m *Metrics) ObserveRequest(route, code string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, code).Inc()
}

// ObserveInference 记录一次推理耗时
func (m *Metrics) ObserveInference(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.inference.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveMasks 记录自动生成的 Mask 数量
func (m *Metrics) ObserveMasks(n int) {
	if m == nil {
		return
	}
	m.masks.Observe(float64(n))
}

// ObserveCache 记录缓存命中情况
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheHits.WithLabelValues(result).Inc()
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
