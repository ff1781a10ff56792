// ABOUTME: Normalizer contract shared by the scanner-specific ingesters.
// ABOUTME: Holds the registry, the audit metadata envelope, and the blob loop.

package normalizer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deepnetworkgmbh/joseki-sub000/internal/metrics"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/storage"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/types"
)

// Normalizer ingests every unprocessed audit of one scanner container.
type Normalizer interface {
	Process(ctx context.Context, container types.ScannerContainer) error
}

// ChecksCache resolves external check ids to internal database keys.
type ChecksCache interface {
	GetOrAdd(ctx context.Context, externalID string, factory func() *types.Check) (int64, error)
	GetImageScanCheck() int64
}

// CveCache resolves CVE ids to internal database keys.
type CveCache interface {
	GetOrAdd(ctx context.Context, cveID string, factory func() *types.CVE) (int64, error)
}

// ScoreInvalidator drops cached score entries once a new audit lands.
type ScoreInvalidator interface {
	Invalidate(componentID string, date time.Time)
}

// AuditPostProcessor runs after an audit has been built but before it is
// persisted, for work derived from the raw scanner metadata.
type AuditPostProcessor interface {
	ProcessAudit(ctx context.Context, audit *types.Audit) error
}

// Registry maps scanner types to their normalizers.
type Registry struct {
	normalizers map[types.ScannerType]Normalizer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{normalizers: make(map[types.ScannerType]Normalizer)}
}

// Register binds a normalizer to a scanner type.
func (r *Registry) Register(scannerType types.ScannerType, n Normalizer) {
	r.normalizers[scannerType] = n
}

// Get looks up the normalizer of a scanner type.
func (r *Registry) Get(scannerType types.ScannerType) (Normalizer, bool) {
	n, ok := r.normalizers[scannerType]
	return n, ok
}

// auditMetadata is the envelope every scanner writes as the audit "meta"
// file. Scanner-specific fields are simply absent for other scanners.
type auditMetadata struct {
	AuditID            string `json:"audit-id"`
	Timestamp          int64  `json:"timestamp"`
	AuditResult        string `json:"audit-result"`
	FailureDescription string `json:"failure-description"`

	// azsk
	AzskAuditPaths []string `json:"azsk-audit-paths"`

	// polaris
	PolarisAuditPath string `json:"polaris-audit-path"`
	KubeMetaPath     string `json:"k8s-meta-path"`

	// trivy
	ImageTag       string `json:"image-tag"`
	TrivyAuditPath string `json:"trivy-audit-path"`
}

// Succeeded reports whether the scanner finished its run without errors.
func (m *auditMetadata) Succeeded() bool {
	return strings.EqualFold(m.AuditResult, "succeeded")
}

// Date converts the heartbeat timestamp into the audit date.
func (m *auditMetadata) Date() time.Time {
	return time.Unix(m.Timestamp, 0).UTC()
}

// auditHandler ingests one parsed audit. A returned error means ingestion
// failed; the blob is still marked as processed so it is never retried into
// the same failure forever.
type auditHandler func(ctx context.Context, blob types.AuditBlob, meta *auditMetadata) error

// processContainer drives the shared blob loop of every normalizer.
func processContainer(
	ctx context.Context,
	store storage.BlobStorage,
	m *metrics.Metrics,
	logger *logrus.Logger,
	container types.ScannerContainer,
	handle auditHandler,
) error {
	blobs, err := store.GetUnprocessedAudits(ctx, container)
	if err != nil {
		return fmt.Errorf("failed to list unprocessed audits of %s: %w", container.Name, err)
	}

	scannerType := string(container.Metadata.Type)

	for _, blob := range blobs {
		// Stop between blobs on shutdown. Remaining blobs stay unprocessed
		// and must not be counted as ingestion failures.
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := ingestBlob(ctx, store, blob, handle); err != nil {
			logger.WithError(err).WithFields(logrus.Fields{
				"scanner": container.ScannerID(),
				"blob":    blob.Path(),
			}).Error("Failed to ingest audit")
			m.BlobFailed(scannerType)
		}

		if err := store.MarkAsProcessed(ctx, blob); err != nil {
			logger.WithError(err).WithField("blob", blob.Path()).Error("Failed to mark audit as processed")
			continue
		}
		m.BlobProcessed(scannerType)
	}

	return nil
}

func ingestBlob(ctx context.Context, store storage.BlobStorage, blob types.AuditBlob, handle auditHandler) error {
	raw, err := store.DownloadFile(ctx, blob.Path())
	if err != nil {
		return fmt.Errorf("failed to download audit metadata: %w", err)
	}

	meta := &auditMetadata{}
	if err := json.Unmarshal(raw, meta); err != nil {
		return fmt.Errorf("failed to parse audit metadata: %w", err)
	}

	return handle(ctx, blob, meta)
}
