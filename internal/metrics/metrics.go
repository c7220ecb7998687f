// Package metrics defines the Prometheus collectors exported by the record
// service.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submission outcomes
const (
	OutcomeVerified = "verified"
	OutcomeRejected = "rejected"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

// Metrics holds every collector of the service. The zero value is not usable;
// build one with New.
type Metrics struct {
	registry *prometheus.Registry

	Submissions     *prometheus.CounterVec
	Rejections      *prometheus.CounterVec
	CacheReads      *prometheus.CounterVec
	CacheFailures   *prometheus.CounterVec
	KafkaMessages   *prometheus.CounterVec
	WebsocketConns  prometheus.Gauge
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "record_submissions_total",
				Help: "Processed submissions by game and outcome",
			},
			[]string{"game", "outcome"},
		),
		Rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "record_rejections_total",
				Help: "Rejected submissions by reason",
			},
			[]string{"reason"},
		),
		CacheReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "record_cache_reads_total",
				Help: "Ranking reads by cache result",
			},
			[]string{"result"},
		),
		CacheFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "record_cache_failures_total",
				Help: "Swallowed ranked cache failures by operation",
			},
			[]string{"op"},
		),
		KafkaMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "record_kafka_messages_total",
				Help: "Consumed submission messages by result",
			},
			[]string{"result"},
		),
		WebsocketConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "record_websocket_clients",
			Help: "Connected websocket clients",
		}),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
	}

	m.registry.MustRegister(
		m.Submissions,
		m.Rejections,
		m.CacheReads,
		m.CacheFailures,
		m.KafkaMessages,
		m.WebsocketConns,
		m.requestsTotal,
		m.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latencies. Routes are labelled by
// their chi pattern so path parameters do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Initialize with 200 OK in case WriteHeader isn't called explicitly
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		m.requestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(ww.statusCode)).Inc()
		m.requestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack is needed by the websocket upgrade.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}
