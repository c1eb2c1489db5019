// Package metrics 提供 Prometheus 指标：HTTP 耗时直方图、业务计数器与默认进程指标
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 缓存查询结果标签
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Collector 指标收集器接口
type Collector interface {
	// 记录 HTTP 请求
	ObserveHTTPRequest(method, route string, statusCode int, duration time.Duration)
	// 记录成交写入
	RecordTrade(side string)
	// 记录组合缓存查询结果
	RecordCacheLookup(result string)
	// 记录缓存失效失败
	RecordCacheInvalidationFailure()
	// 记录 outbox 投递
	RecordOutboxPublish(count int, err error)
}

// Metrics 指标集合，注册在独立的 Registry 上
type Metrics struct {
	registry *prometheus.Registry

	httpRequestDuration  *prometheus.HistogramVec
	tradesTotal          *prometheus.CounterVec
	cacheRequests        *prometheus.CounterVec
	invalidationFailures prometheus.Counter
	outboxPublished      prometheus.Counter
	outboxFailures       prometheus.Counter
}

// New 创建并注册全部指标
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status_code"}),
		tradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trades_recorded_total",
			Help: "Total trades committed to the ledger",
		}, []string{"side"}),
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portfolio_cache_requests_total",
			Help: "Portfolio cache lookups by result",
		}, []string{"result"}),
		invalidationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portfolio_cache_invalidation_failures_total",
			Help: "Portfolio cache invalidations that failed after a committed trade",
		}),
		outboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Trade events published from the outbox",
		}),
		outboxFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_publish_failures_total",
			Help: "Failed outbox publish batches",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestDuration,
		m.tradesTotal,
		m.cacheRequests,
		m.invalidationFailures,
		m.outboxPublished,
		m.outboxFailures,
	)
	return m
}

// Registry 返回底层 Registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveHTTPRequest 记录 HTTP 请求
func (m *Metrics) ObserveHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	m.httpRequestDuration.WithLabelValues(method, route, strconv.Itoa(statusCode)).Observe(duration.Seconds())
}

// RecordTrade 记录成交
func (m *Metrics) RecordTrade(side string) {
	m.tradesTotal.WithLabelValues(side).Inc()
}

// RecordCacheLookup 记录缓存查询
func (m *Metrics) RecordCacheLookup(result string) {
	m.cacheRequests.WithLabelValues(result).Inc()
}

// RecordCacheInvalidationFailure 记录缓存失效失败
func (m *Metrics) RecordCacheInvalidationFailure() {
	m.invalidationFailures.Inc()
}

// RecordOutboxPublish 记录 outbox 投递
func (m *Metrics) RecordOutboxPublish(count int, err error) {
	if err != nil {
		m.outboxFailures.Inc()
		return
	}
	m.outboxPublished.Add(float64(count))
}

// Nop 不做任何记录的收集器
type Nop struct{}

func (Nop) ObserveHTTPRequest(string, string, int, time.Duration) {}
func (Nop) RecordTrade(string)                                    {}
func (Nop) RecordCacheLookup(string)                              {}
func (Nop) RecordCacheInvalidationFailure()                       {}
func (Nop) RecordOutboxPublish(int, error)                        {}
