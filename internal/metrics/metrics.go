// Package metrics exposes Prometheus counters for detections, follow-up
// scheduling, dispatch and outbound collaborators. A nil *Metrics is valid
// and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "matti"

type Metrics struct {
	registry *prometheus.Registry

	Detections          *prometheus.CounterVec
	FollowUpsScheduled  *prometheus.CounterVec
	FollowUpsDispatched *prometheus.CounterVec
	Notifications       *prometheus.CounterVec
	AnalyticsEvents     *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates the collectors on their own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Detector results by detector and outcome label",
		}, []string{"detector", "result"}),
		FollowUpsScheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "followups_scheduled_total",
			Help:      "Follow-up entries written by kind",
		}, []string{"kind"}),
		FollowUpsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "followups_dispatched_total",
			Help:      "Due follow-ups handled by the dispatcher by status",
		}, []string{"status"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification attempts by kind and status",
		}, []string{"kind", "status"}),
		AnalyticsEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analytics_events_total",
			Help:      "Analytics events by type and delivery status",
		}, []string{"event_type", "status"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status_code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	reg.MustRegister(
		m.Detections,
		m.FollowUpsScheduled,
		m.FollowUpsDispatched,
		m.Notifications,
		m.AnalyticsEvents,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordDetection(detector, result string) {
	if m == nil {
		return
	}
	m.Detections.WithLabelValues(detector, result).Inc()
}

func (m *Metrics) RecordScheduled(kind string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.FollowUpsScheduled.WithLabelValues(kind).Add(float64(count))
}

func (m *Metrics) RecordDispatch(status string) {
	if m == nil {
		return
	}
	m.FollowUpsDispatched.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordNotification(kind string, err error) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(kind, statusLabel(err)).Inc()
}

func (m *Metrics) RecordAnalytics(eventType string, err error) {
	if m == nil {
		return
	}
	m.AnalyticsEvents.WithLabelValues(eventType, statusLabel(err)).Inc()
}

func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func statusLabel(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}
