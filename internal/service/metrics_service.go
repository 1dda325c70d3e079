package service

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates the agent's Prometheus instrumentation.
type MetricsService struct {
	registry *prometheus.Registry
	handler  http.Handler

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	queueDepth       prometheus.Gauge
	eventsSynced     prometheus.Counter
	eventsFailed     prometheus.Counter
	withdrawalsDone  prometheus.Counter
	syncPassDuration prometheus.Histogram
}

// NewMetricsService registers the agent's collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kiosk_queue_pending_events",
		Help: "Events still requiring network work",
	})

	eventsSynced := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kiosk_events_synced_total",
		Help: "Events acknowledged by the backend",
	})

	eventsFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kiosk_events_failed_total",
		Help: "Failed full-event submission attempts",
	})

	withdrawalsDone := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kiosk_withdrawals_completed_total",
		Help: "Completed withdrawal transactions",
	})

	syncPassDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "kiosk_sync_pass_duration_seconds",
		Help:    "Duration of sync passes",
		Buckets: prometheus.DefBuckets,
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, queueDepth, eventsSynced, eventsFailed, withdrawalsDone, syncPassDuration, goroutines)

	return &MetricsService{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		queueDepth:       queueDepth,
		eventsSynced:     eventsSynced,
		eventsFailed:     eventsFailed,
		withdrawalsDone:  withdrawalsDone,
		syncPassDuration: syncPassDuration,
	}
}

// Handler exposes the /metrics endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records one served request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	labels := []string{method, path, strconv.Itoa(status)}
	s.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	s.requestTotal.WithLabelValues(labels...).Inc()
}

// SetQueueDepth publishes the pending-event backlog.
func (s *MetricsService) SetQueueDepth(n int) {
	s.queueDepth.Set(float64(n))
}

// IncEventsSynced counts one acknowledged event.
func (s *MetricsService) IncEventsSynced() {
	s.eventsSynced.Inc()
}

// IncEventsFailed counts one failed submission attempt.
func (s *MetricsService) IncEventsFailed() {
	s.eventsFailed.Inc()
}

// IncWithdrawalsCompleted counts one completed withdrawal transaction.
func (s *MetricsService) IncWithdrawalsCompleted() {
	s.withdrawalsDone.Inc()
}

// ObserveSyncPass records the duration of one drain pass.
func (s *MetricsService) ObserveSyncPass(d time.Duration) {
	s.syncPassDuration.Observe(d.Seconds())
}
