package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
	"strconv"
	"time"
)

type Metrics struct {
	registry         *prometheus.Registry
	readingsAccepted *prometheus.CounterVec
	readingsRejected *prometheus.CounterVec
	valuesStored     *prometheus.CounterVec
	valuesPurged     prometheus.Counter
	subscribers      prometheus.Gauge
	httpDuration     *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		readingsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "observator_readings_accepted_total",
			Help: "Readings accepted for ingestion by source.",
		}, []string{"source"}),
		readingsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "observator_readings_rejected_total",
			Help: "Readings rejected before ingestion by reason.",
		}, []string{"reason"}),
		valuesStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "observator_values_stored_total",
			Help: "Observed values persisted by sensor type.",
		}, []string{"sensor_type"}),
		valuesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "observator_values_purged_total",
			Help: "Observed values removed by retention.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "observator_live_subscribers",
			Help: "Live websocket subscribers.",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "observator_http_request_duration_seconds",
			Help:    "HTTP request durations by route and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}

	m.registry.MustRegister(
		m.readingsAccepted,
		m.readingsRejected,
		m.valuesStored,
		m.valuesPurged,
		m.subscribers,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ReadingAccepted(source string) {
	if m == nil {
		return
	}
	m.readingsAccepted.WithLabelValues(source).Inc()
}

func (m *Metrics) ReadingRejected(reason string) {
	if m == nil {
		return
	}
	m.readingsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) ValueStored(sensorTypeId int64) {
	if m == nil {
		return
	}
	m.valuesStored.WithLabelValues(strconv.FormatInt(sensorTypeId, 10)).Inc()
}

func (m *Metrics) ValuesPurged(n int) {
	if m == nil {
		return
	}
	m.valuesPurged.Add(float64(n))
}

func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

func (m *Metrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(recorder, r)
		m.httpDuration.WithLabelValues(route, strconv.Itoa(recorder.status)).Observe(time.Since(start).Seconds())
	})
}
