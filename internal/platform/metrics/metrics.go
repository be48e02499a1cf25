// Package metrics は Prometheus メトリクスを提供します
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rag_chat"

// Metrics はアプリケーションのメトリクスを保持します
//
// index.Observer, session.Observer, chat.TurnObserver を実装します。
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	TurnsTotal              *prometheus.CounterVec
	RetrievalFallbacksTotal *prometheus.CounterVec
	PassagesIndexedTotal    prometheus.Counter
	SessionsEvictedTotal    prometheus.Counter
}

// New は専用レジストリにメトリクスを登録して返します
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"route"},
		),
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_total",
				Help:      "Total number of conversation turns by outcome",
			},
			[]string{"outcome"},
		),
		RetrievalFallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retrieval_fallbacks_total",
				Help:      "Turns that continued without retrieved context",
			},
			[]string{"reason"},
		),
		PassagesIndexedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "passages_indexed_total",
				Help:      "Total number of passages added to the document index",
			},
		),
		SessionsEvictedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_evicted_total",
				Help:      "Total number of inactive sessions removed from memory",
			},
		),
	}
}

// Registry はメトリクスのレジストリを返します
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler は /metrics 用のハンドラを返します
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest はHTTPリクエストを記録します
func (m *Metrics) RecordHTTPRequest(route string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func (m *Metrics) ObserveTurn(outcome string) {
	m.TurnsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRetrievalFallback(reason string) {
	m.RetrievalFallbacksTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObservePassagesIndexed(n int) {
	m.PassagesIndexedTotal.Add(float64(n))
}

func (m *Metrics) ObserveSessionsEvicted(n int) {
	m.SessionsEvictedTotal.Add(float64(n))
}
