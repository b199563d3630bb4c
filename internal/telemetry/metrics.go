package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	ImportsStarted   = prometheus.NewCounter(prometheus.CounterOpts{Name: "imports_started_total", Help: "CSV import jobs started"})
	ImportsCompleted = prometheus.NewCounter(prometheus.CounterOpts{Name: "imports_completed_total", Help: "CSV import jobs that finished successfully"})
	ImportsFailed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "imports_failed_total", Help: "CSV import jobs that failed"})
	RowsProcessed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "import_rows_processed_total", Help: "CSV rows reconciled into the task store"})
	RowsSkipped      = prometheus.NewCounter(prometheus.CounterOpts{Name: "import_rows_skipped_total", Help: "CSV rows rejected during parsing"})
	TasksArchived    = prometheus.NewCounter(prometheus.CounterOpts{Name: "tasks_archived_total", Help: "Tasks archived because they left the source extract"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "upload_rate_limit_rejects_total", Help: "Uploads rejected by the rate limiter"})
	CriticalGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "tasks_critical", Help: "Active tasks currently classified critical"})
	QueueDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "import_queue_depth", Help: "Import jobs waiting in the ready queue"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "import_jobs_inflight", Help: "Import jobs currently leased by workers"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			ImportsStarted,
			ImportsCompleted,
			ImportsFailed,
			RowsProcessed,
			RowsSkipped,
			TasksArchived,
			RateLimitRejects,
			CriticalGauge,
			QueueDepthGauge,
			InFlightGauge,
		)
	})
	return promhttp.Handler()
}
