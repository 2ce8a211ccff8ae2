package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/framix/framix-worker/internal/domain/entity"
)

// Recorder owns the pipeline metrics. It registers on a caller-supplied
// registry instead of the process-global default so tests stay isolated.
type Recorder struct {
	registry    *prometheus.Registry
	jobsTotal   *prometheus.CounterVec
	jobErrors   prometheus.Counter
	jobDuration prometheus.Histogram
}

func NewRecorder(reg *prometheus.Registry) *Recorder {
	r := &Recorder{
		registry: reg,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_total",
			Help: "Jobs counted at each status transition",
		}, []string{"status"}),
		jobErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "job_errors_total",
			Help: "Jobs that finished in ERROR",
		}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Wall time of the processing pipeline per job",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
	}
	reg.MustRegister(r.jobsTotal, r.jobErrors, r.jobDuration)
	return r
}

func (r *Recorder) RecordJobStatus(status entity.JobStatus) {
	r.jobsTotal.WithLabelValues(strings.ToLower(string(status))).Inc()
}

func (r *Recorder) RecordJobError() {
	r.jobErrors.Inc()
}

func (r *Recorder) RecordJobDuration(d time.Duration) {
	r.jobDuration.Observe(d.Seconds())
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}
