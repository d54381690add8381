// Package metrics exposes portal operation metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"volunteerportal/internal/model"
)

// Collector records attendance and operation metrics. It satisfies
// attendance.Recorder.
type Collector struct {
	marks             *prometheus.CounterVec
	sessionsCreated   prometheus.Counter
	volunteersRemoved prometheus.Counter
	opErrors          *prometheus.CounterVec
	opLatency         *prometheus.HistogramVec
	httpStatus        *prometheus.CounterVec
	eventsProcessed   *prometheus.CounterVec
}

// NewCollector creates the collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		marks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_attendance_marks_total",
			Help: "Attendance marks recorded, by presence.",
		}, []string{"present"}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_sessions_created_total",
			Help: "Sessions created.",
		}),
		volunteersRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "portal_volunteers_removed_total",
			Help: "Volunteers removed.",
		}),
		opErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_operation_errors_total",
			Help: "Failed operations, by operation and error kind.",
		}, []string{"op", "kind"}),
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "portal_operation_duration_seconds",
			Help:    "Operation latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_http_responses_total",
			Help: "HTTP responses, by status code.",
		}, []string{"status_code"}),
		eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_worker_events_total",
			Help: "Queue events handled by the worker, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.marks,
		c.sessionsCreated,
		c.volunteersRemoved,
		c.opErrors,
		c.opLatency,
		c.httpStatus,
		c.eventsProcessed,
	)
	return c
}

func (c *Collector) AttendanceMarked(present bool) {
	c.marks.WithLabelValues(strconv.FormatBool(present)).Inc()
}

func (c *Collector) SessionCreated() {
	c.sessionsCreated.Inc()
}

func (c *Collector) VolunteerRemoved() {
	c.volunteersRemoved.Inc()
}

func (c *Collector) OperationFailed(op string, kind model.Kind) {
	c.opErrors.WithLabelValues(op, string(kind)).Inc()
}

func (c *Collector) ObserveOperation(op string, d time.Duration) {
	c.opLatency.WithLabelValues(op).Observe(d.Seconds())
}

// RecordHTTPStatus counts one HTTP response.
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordEvent counts one worker event with its outcome ("ok", "skipped", "failed").
func (c *Collector) RecordEvent(outcome string) {
	c.eventsProcessed.WithLabelValues(outcome).Inc()
}

// Handler serves the metrics gathered by gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
