// ABOUTME: Blob-storage port through which scanner output is discovered.
// ABOUTME: Scanners drop audit folders into per-scanner containers.

package storage

import (
	"context"

	"github.com/deepnetworkgmbh/joseki-sub000/internal/types"
)

// AuditMetadataFileName is the file every scanner writes last into an audit
// folder. Its presence marks the audit as complete.
const AuditMetadataFileName = "meta"

// ProcessedMetadataKey is the object-metadata key set once an audit has been
// ingested, successfully or not.
const ProcessedMetadataKey = "processed"

// BlobStorage lists scanner containers and their audit blobs. A container is
// a root-level prefix owned by exactly one scanner instance.
type BlobStorage interface {
	// ListAllContainers returns the names of all root-level containers.
	ListAllContainers(ctx context.Context) ([]string, error)

	// GetUnprocessedAudits returns the audit metadata blobs of the container
	// that have not been marked as processed yet.
	GetUnprocessedAudits(ctx context.Context, container types.ScannerContainer) ([]types.AuditBlob, error)

	// DownloadFile reads a blob by its path relative to the storage root.
	DownloadFile(ctx context.Context, path string) ([]byte, error)

	// MarkAsProcessed tags the audit metadata blob so the audit is never
	// ingested twice.
	MarkAsProcessed(ctx context.Context, blob types.AuditBlob) error
}
