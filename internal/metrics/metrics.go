// ABOUTME: Prometheus metrics for the ingestion pipeline.
// ABOUTME: Counts processed blobs, saved audits, scan requests, and reloads.

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every instrument of the service on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	blobsProcessed    *prometheus.CounterVec
	blobsFailed       *prometheus.CounterVec
	auditsSaved       *prometheus.CounterVec
	scanRequests      prometheus.Counter
	scoreCacheReloads prometheus.Counter
	scannerContainers prometheus.Gauge
}

// NewMetrics registers all instruments on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		blobsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "joseki_audit_blobs_processed_total",
				Help: "Number of audit blobs marked as processed, by scanner type",
			},
			[]string{"scanner_type"},
		),

		blobsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "joseki_audit_blobs_failed_total",
				Help: "Number of audit blobs that failed to ingest but were still marked processed",
			},
			[]string{"scanner_type"},
		),

		auditsSaved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "joseki_audits_saved_total",
				Help: "Number of normalized audits persisted, by scanner type",
			},
			[]string{"scanner_type"},
		),

		scanRequests: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "joseki_image_scan_requests_total",
				Help: "Number of image scan requests enqueued",
			},
		),

		scoreCacheReloads: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "joseki_score_cache_reloads_total",
				Help: "Number of full score cache reloads",
			},
		),

		scannerContainers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "joseki_scanner_containers",
				Help: "Number of scanner containers seen by the last discovery cycle",
			},
		),
	}

	registry.MustRegister(
		m.blobsProcessed,
		m.blobsFailed,
		m.auditsSaved,
		m.scanRequests,
		m.scoreCacheReloads,
		m.scannerContainers,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// BlobProcessed counts one blob marked as processed.
func (m *Metrics) BlobProcessed(scannerType string) {
	m.blobsProcessed.WithLabelValues(scannerType).Inc()
}

// BlobFailed counts one blob whose ingestion failed.
func (m *Metrics) BlobFailed(scannerType string) {
	m.blobsFailed.WithLabelValues(scannerType).Inc()
}

// AuditSaved counts one persisted audit.
func (m *Metrics) AuditSaved(scannerType string) {
	m.auditsSaved.WithLabelValues(scannerType).Inc()
}

// ScanRequestEnqueued counts one enqueued image-scan request.
func (m *Metrics) ScanRequestEnqueued() {
	m.scanRequests.Inc()
}

// ScoreCacheReloaded counts one full score cache reload.
func (m *Metrics) ScoreCacheReloaded() {
	m.scoreCacheReloads.Inc()
}

// SetScannerContainers records the current scanner container count.
func (m *Metrics) SetScannerContainers(count int) {
	m.scannerContainers.Set(float64(count))
}
