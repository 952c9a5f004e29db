// Package metrics exposes Prometheus instrumentation for batch jobs
// and storage retention.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JobsTotal counts batch generation invocations by outcome.
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certmill_jobs_total",
		Help: "Batch generation jobs, by outcome.",
	}, []string{"outcome"})

	// DocumentsRendered counts successfully produced documents.
	DocumentsRendered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "certmill_documents_rendered_total",
		Help: "Documents successfully rendered and converted.",
	})

	// RecordFailures counts records dropped from a batch after a
	// render or conversion failure.
	RecordFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "certmill_record_failures_total",
		Help: "Records dropped due to render/convert failures.",
	})

	// CleanupDeleted counts entries removed by retention policies.
	CleanupDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "certmill_cleanup_deleted_total",
		Help: "Entries deleted by storage cleanup, per policy.",
	}, []string{"policy"})

	// StorageBytes reports the last observed size of each storage area.
	StorageBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "certmill_storage_bytes",
		Help: "Aggregate bytes per storage area at last scan.",
	}, []string{"area"})
)

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
