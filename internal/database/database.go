// ABOUTME: Persistence ports consumed by the ingestion pipeline and caches.
// ABOUTME: Defines typed not-found errors and the record shapes they return.

package database

import (
	"context"
	"errors"
	"time"

	"github.com/deepnetworkgmbh/joseki-sub000/internal/types"
)

var (
	// ErrCheckNotFound signals that no check row matches the external id.
	ErrCheckNotFound = errors.New("check not found")

	// ErrCveNotFound signals that no cve row matches the external id.
	ErrCveNotFound = errors.New("cve not found")

	// ErrAuditNotFound signals that no audit exists for a component/date pair.
	ErrAuditNotFound = errors.New("audit not found")

	// ErrDuplicateID signals a unique-constraint violation on an external
	// identifier. Reference caches resolve the race by re-reading.
	ErrDuplicateID = errors.New("duplicate external identifier")
)

// CheckRecord is the persisted identity of a reference check.
type CheckRecord struct {
	InternalID  int64
	ExternalID  string
	DateUpdated time.Time
}

// CveRecord is the persisted identity of a reference CVE.
type CveRecord struct {
	InternalID  int64
	ExternalID  string
	DateUpdated time.Time
}

// AuditRecord is the persisted identity of an audit, without its results.
type AuditRecord struct {
	// EntityID is the database surrogate key.
	EntityID int64

	// AuditID is the scanner-assigned identifier.
	AuditID string

	Date          time.Time
	ComponentID   string
	ComponentName string
}

// ComponentOwner assigns a responsible owner to a component subtree.
type ComponentOwner struct {
	ComponentID string
	Owner       string
}

// CheckStore persists reference check definitions.
type CheckStore interface {
	// GetCheck resolves an external check id. Returns ErrCheckNotFound when absent.
	GetCheck(ctx context.Context, externalID string) (*CheckRecord, error)

	// InsertCheck adds a new check row. Returns ErrDuplicateID when another
	// writer inserted the same external id first.
	InsertCheck(ctx context.Context, check *types.Check) (*CheckRecord, error)

	// UpdateCheck overwrites the mutable fields of an existing check row.
	UpdateCheck(ctx context.Context, check *types.Check) error
}

// CveStore persists reference CVE definitions.
type CveStore interface {
	GetCve(ctx context.Context, externalID string) (*CveRecord, error)
	InsertCve(ctx context.Context, cve *types.CVE) (*CveRecord, error)
	UpdateCve(ctx context.Context, cve *types.CVE) error
}

// Database is the write-side persistence port of the normalizers.
type Database interface {
	// SaveAuditResult persists the audit with all its check results.
	SaveAuditResult(ctx context.Context, audit *types.Audit) error

	// SaveInProgressImageScan inserts a Queued placeholder scan.
	SaveInProgressImageScan(ctx context.Context, scan *types.ImageScanResult) error

	// SaveImageScanResult updates the placeholder in place (date, status,
	// description, CVEs) and flips every InProgress check result whose
	// component id references the scanned image tag.
	SaveImageScanResult(ctx context.Context, scan *types.ImageScanResult) error

	// GetNotExpiredImageScans returns the latest scan per requested tag,
	// ignoring results older than the image-scan TTL.
	GetNotExpiredImageScans(ctx context.Context, imageTags []string) ([]*types.ImageScanResult, error)

	// SaveComponentOwners upserts ownership extracted from audit metadata.
	SaveComponentOwners(ctx context.Context, owners []ComponentOwner) error
}

// ScoreDB is the read-side port of the score cache. All queries are bounded
// by the rolling score-history window.
type ScoreDB interface {
	// GetComponentIDs lists every component audited inside the window.
	GetComponentIDs(ctx context.Context) ([]string, error)

	// GetComponentAudits returns the latest audit per calendar day for one
	// component inside the window.
	GetComponentAudits(ctx context.Context, componentID string) ([]AuditRecord, error)

	// GetAudit returns the latest audit of the component for the given day.
	// Returns ErrAuditNotFound when the day has no audit.
	GetAudit(ctx context.Context, componentID string, date time.Time) (*AuditRecord, error)

	// GetDayAudits returns the latest audit per component for the given day.
	GetDayAudits(ctx context.Context, date time.Time) ([]AuditRecord, error)

	// GetCounterSummariesForAudit buckets the audit's check results into a
	// counters summary using the checks' severities.
	GetCounterSummariesForAudit(ctx context.Context, auditEntityID int64) (types.CountersSummary, error)
}
