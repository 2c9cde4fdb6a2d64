package server

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"blobdrop/internal/store"
)

const metricsNamespace = "blobdrop"

// Metrics holds the collectors of one server. Each server has its own
// registry so that several can live in one process (tests).
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	uploads         *prometheus.CounterVec
	uploadBytes     prometheus.Counter
	uploadDurations prometheus.Histogram
	lookups         *prometheus.CounterVec
	downloadBytes   prometheus.Counter
	evictions       *prometheus.CounterVec
	rateLimited     prometheus.Counter
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "HTTP requests answered on the public listener.",
		}, []string{"route", "code"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "uploads_total",
			Help:      "Upload sessions by terminal state.",
		}, []string{"outcome"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "upload_bytes_total",
			Help:      "Payload bytes of stored uploads.",
		}),
		uploadDurations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "upload_duration_seconds",
			Help:      "Time from first header to terminal state of an upload.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "lookups_total",
			Help:      "Key lookups by result.",
		}, []string{"result"}),
		downloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "download_bytes_total",
			Help:      "Payload bytes served to lookups.",
		}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "evictions_total",
			Help:      "Objects dropped by the store.",
		}, []string{"reason"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "uploads_rate_limited_total",
			Help:      "Uploads refused by the per-client rate limiter.",
		}),
	}

	m.registry.MustRegister(
		m.requests,
		m.uploads,
		m.uploadBytes,
		m.uploadDurations,
		m.lookups,
		m.downloadBytes,
		m.evictions,
		m.rateLimited,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveStore registers gauges reading the store's occupancy.
func (m *Metrics) ObserveStore(st *store.Store) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "store_objects",
			Help:      "Objects currently held.",
		}, func() float64 { return float64(st.Len()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "store_capacity",
			Help:      "Maximum number of objects held.",
		}, func() float64 { return float64(st.Cap()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "store_bytes",
			Help:      "Payload bytes currently held.",
		}, func() float64 { return float64(st.Bytes()) }),
	)
}

// RecordRequest records an HTTP request
func (m *Metrics) RecordRequest(route string, statusCode int) {
	m.requests.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
}

// RecordUpload records the end of an upload session.
func (m *Metrics) RecordUpload(outcome string, bytes int64, duration time.Duration) {
	m.uploads.WithLabelValues(outcome).Inc()
	m.uploadBytes.Add(float64(bytes))
	m.uploadDurations.Observe(duration.Seconds())
}

// RecordRateLimited records an upload refused by the limiter.
func (m *Metrics) RecordRateLimited() {
	m.rateLimited.Inc()
}

// RecordLookup records a key lookup.
func (m *Metrics) RecordLookup(hit bool, bytes int64) {
	if !hit {
		m.lookups.WithLabelValues("miss").Inc()
		return
	}
	m.lookups.WithLabelValues("hit").Inc()
	m.downloadBytes.Add(float64(bytes))
}

// RecordEviction is installed as the store's eviction hook.
func (m *Metrics) RecordEviction(_ *store.Object, reason store.Reason) {
	m.evictions.WithLabelValues(string(reason)).Inc()
}

// Registry exposes the underlying registry, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
