package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fleetsignal"

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Analysis jobs that reached a terminal state, by type and status.",
		},
		[]string{"type", "status"},
	)

	jobDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall-clock time from job start to terminal state.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"type"},
	)

	candidatesEvaluated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_evaluated_total",
			Help:      "Candidates scored across all jobs.",
		},
		[]string{"type"},
	)

	candidatesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_skipped_total",
			Help:      "Candidates that could not be scored, by reason.",
		},
		[]string{"reason"},
	)

	previewsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "previews_total",
			Help:      "Synchronous previews served, by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	readerRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reader_retries_total",
			Help:      "Time-series reads retried after a transient failure.",
		},
	)

	httpRequests = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency, by route pattern and status code.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "code"},
	)

	httpPanics = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_panics_total",
			Help:      "Handler panics recovered by the API.",
		},
	)

	readerCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reader_cache_lookups_total",
			Help:      "Series cache lookups, by result.",
		},
		[]string{"result"},
	)
)

// Register attaches the collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		jobsTotal,
		jobDurationSeconds,
		candidatesEvaluated,
		candidatesSkipped,
		previewsTotal,
		readerRetries,
		readerCacheLookups,
		httpRequests,
		httpPanics,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveJob records a job's terminal status and how long it ran.
func ObserveJob(jobType, status string, duration time.Duration) {
	jobsTotal.WithLabelValues(jobType, status).Inc()
	if duration < 0 {
		duration = 0
	}
	jobDurationSeconds.WithLabelValues(jobType).Observe(duration.Seconds())
}

func CandidateEvaluated(jobType string, n int) {
	candidatesEvaluated.WithLabelValues(jobType).Add(float64(n))
}

func CandidateSkipped(reason string) {
	candidatesSkipped.WithLabelValues(reason).Inc()
}

func ObservePreview(jobType string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	previewsTotal.WithLabelValues(jobType, outcome).Inc()
}

func ReaderRetry() {
	readerRetries.Inc()
}

func ReaderCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	readerCacheLookups.WithLabelValues(result).Inc()
}

// ObserveRequest records one API request. route is the matched chi pattern,
// never the raw path, so ids do not blow up label cardinality.
func ObserveRequest(route string, code int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(route, strconv.Itoa(code)).Observe(duration.Seconds())
}

func PanicRecovered() {
	httpPanics.Inc()
}
