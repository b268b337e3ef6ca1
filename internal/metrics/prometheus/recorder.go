package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"oasis/internal/metrics"
)

type recorder struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	bytesServed     *prometheus.CounterVec
	archiveEntries  prometheus.Counter
	tasksTotal      *prometheus.CounterVec
	taskDuration    prometheus.Histogram
	searchesTotal   prometheus.Counter
	searchResults   prometheus.Histogram
	searchDuration  prometheus.Histogram
	rateLimited     *prometheus.CounterVec
}

// NewRecorder returns a Prometheus-backed Recorder registered with the global
// registry, or the no-op Recorder when metrics are disabled.
func NewRecorder() metrics.Recorder {
	if !metrics.IsEnabled() {
		return metrics.NewNoop()
	}
	return newRecorder(metrics.GetRegistry())
}

func newRecorder(reg prometheus.Registerer) *recorder {
	f := promauto.With(reg)
	return &recorder{
		requestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oasis_http_requests_total",
				Help: "Total number of HTTP requests by route and status code",
			},
			[]string{"route", "status"},
		),
		requestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oasis_http_request_duration_milliseconds",
				Help:    "Duration of HTTP requests in milliseconds",
				Buckets: []float64{1, 10, 100, 1000, 10000},
			},
			[]string{"route"},
		),
		bytesServed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oasis_bytes_served_total",
				Help: "Payload bytes sent to clients by response kind",
			},
			[]string{"kind"},
		),
		archiveEntries: f.NewCounter(
			prometheus.CounterOpts{
				Name: "oasis_archive_entries_total",
				Help: "Files written into directory archives",
			},
		),
		tasksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oasis_tasks_total",
				Help: "Copy/move task events",
			},
			[]string{"event"},
		),
		taskDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "oasis_task_duration_seconds",
				Help:    "Wall time of finished copy/move tasks",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
		searchesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "oasis_searches_total",
				Help: "Number of searches executed",
			},
		),
		searchResults: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "oasis_search_results",
				Help:    "Number of hits per search",
				Buckets: []float64{0, 1, 10, 100, 1000},
			},
		),
		searchDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "oasis_search_duration_milliseconds",
				Help:    "Duration of searches in milliseconds",
				Buckets: []float64{1, 10, 100, 1000, 10000},
			},
		),
		rateLimited: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oasis_rate_limited_total",
				Help: "Requests refused by the rate limiter",
			},
			[]string{"route"},
		),
	}
}

func (m *recorder) RecordRequest(route string, status int, duration time.Duration) {
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(float64(duration.Microseconds()) / 1000)
}

func (m *recorder) AddBytesServed(kind string, n int64) {
	if n > 0 {
		m.bytesServed.WithLabelValues(kind).Add(float64(n))
	}
}

func (m *recorder) RecordArchiveEntry() {
	m.archiveEntries.Inc()
}

func (m *recorder) RecordTask(event string) {
	m.tasksTotal.WithLabelValues(event).Inc()
}

func (m *recorder) ObserveTaskDuration(d time.Duration) {
	m.taskDuration.Observe(d.Seconds())
}

func (m *recorder) RecordSearch(results int, duration time.Duration) {
	m.searchesTotal.Inc()
	m.searchResults.Observe(float64(results))
	m.searchDuration.Observe(float64(duration.Microseconds()) / 1000)
}

func (m *recorder) RecordRateLimited(route string) {
	m.rateLimited.WithLabelValues(route).Inc()
}
