package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ReaperMetrics tracks the deferred image cleanup queue.
type ReaperMetrics struct {
	jobs  *prometheus.CounterVec
	files *prometheus.CounterVec
	depth prometheus.Gauge
}

// NewReaperMetrics registers the reaper metrics on the provided registerer.
func NewReaperMetrics(reg prometheus.Registerer) *ReaperMetrics {
	if reg == nil {
		return &ReaperMetrics{}
	}
	jobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reaper_jobs_total",
		Help: "Reaper jobs by outcome (completed, overflowed, dropped, abandoned).",
	}, []string{"outcome"})
	files := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reaper_files_total",
		Help: "Rendition delete attempts by result (deleted, missing, failed).",
	}, []string{"result"})
	depth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reaper_queue_depth",
		Help: "Jobs waiting in the reaper queue.",
	})
	reg.MustRegister(jobs, files, depth)
	return &ReaperMetrics{
		jobs:  jobs,
		files: files,
		depth: depth,
	}
}

func (r *ReaperMetrics) IncJob(outcome string) {
	if r == nil || r.jobs == nil {
		return
	}
	r.jobs.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (r *ReaperMetrics) AddFiles(result string, n int) {
	if r == nil || r.files == nil || n <= 0 {
		return
	}
	r.files.WithLabelValues(normalizeLabel(result)).Add(float64(n))
}

func (r *ReaperMetrics) SetQueueDepth(n int) {
	if r == nil || r.depth == nil {
		return
	}
	r.depth.Set(float64(n))
}
