// ABOUTME: Postgres implementation of the persistence ports.
// ABOUTME: Uses database/sql with lib/pq; unique violations map to ErrDuplicateID.

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/deepnetworkgmbh/joseki-sub000/internal/types"
)

// PostgresDB implements CheckStore, CveStore, Database, and ScoreDB on top
// of a postgres connection pool.
type PostgresDB struct {
	db           *sql.DB
	scanTTL      time.Duration
	scoreHistory time.Duration
	logger       *logrus.Logger
}

// NewPostgresDB opens a connection pool and verifies connectivity.
func NewPostgresDB(dsn string, scanTTL, scoreHistory time.Duration, logger *logrus.Logger) (*PostgresDB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &PostgresDB{db: db, scanTTL: scanTTL, scoreHistory: scoreHistory, logger: logger}, nil
}

// Close releases the connection pool.
func (p *PostgresDB) Close() error {
	return p.db.Close()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	// 23505 is the postgres unique_violation error code.
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// GetCheck implements CheckStore.
func (p *PostgresDB) GetCheck(ctx context.Context, externalID string) (*CheckRecord, error) {
	record := &CheckRecord{ExternalID: externalID}
	err := p.db.QueryRowContext(ctx,
		`SELECT id, date_updated FROM checks WHERE check_id = $1`,
		externalID).Scan(&record.InternalID, &record.DateUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCheckNotFound, externalID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query check %s: %w", externalID, err)
	}

	return record, nil
}

// InsertCheck implements CheckStore.
func (p *PostgresDB) InsertCheck(ctx context.Context, check *types.Check) (*CheckRecord, error) {
	record := &CheckRecord{ExternalID: check.ID}
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO checks (check_id, category, severity, description, remediation, date_updated)
		 VALUES ($1, $2, $3, $4, $5, now())
		 RETURNING id, date_updated`,
		check.ID, check.Category, int(check.Severity), check.Description, check.Remediation).
		Scan(&record.InternalID, &record.DateUpdated)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, check.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert check %s: %w", check.ID, err)
	}

	return record, nil
}

// UpdateCheck implements CheckStore.
func (p *PostgresDB) UpdateCheck(ctx context.Context, check *types.Check) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE checks
		 SET category = $2, severity = $3, description = $4, remediation = $5, date_updated = now()
		 WHERE check_id = $1`,
		check.ID, check.Category, int(check.Severity), check.Description, check.Remediation)
	if err != nil {
		return fmt.Errorf("failed to update check %s: %w", check.ID, err)
	}

	return nil
}

// GetCve implements CveStore.
func (p *PostgresDB) GetCve(ctx context.Context, externalID string) (*CveRecord, error) {
	record := &CveRecord{ExternalID: externalID}
	err := p.db.QueryRowContext(ctx,
		`SELECT id, date_updated FROM cves WHERE cve_id = $1`,
		externalID).Scan(&record.InternalID, &record.DateUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCveNotFound, externalID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cve %s: %w", externalID, err)
	}

	return record, nil
}

// InsertCve implements CveStore.
func (p *PostgresDB) InsertCve(ctx context.Context, cve *types.CVE) (*CveRecord, error) {
	record := &CveRecord{ExternalID: cve.ID}
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO cves (cve_id, severity, package_name, title, description, remediation, refs, date_updated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		 RETURNING id, date_updated`,
		cve.ID, int(cve.Severity), cve.PackageName, cve.Title, cve.Description, cve.Remediation, cve.References).
		Scan(&record.InternalID, &record.DateUpdated)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, cve.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert cve %s: %w", cve.ID, err)
	}

	return record, nil
}

// UpdateCve implements CveStore.
func (p *PostgresDB) UpdateCve(ctx context.Context, cve *types.CVE) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE cves
		 SET severity = $2, package_name = $3, title = $4, description = $5, remediation = $6, refs = $7, date_updated = now()
		 WHERE cve_id = $1`,
		cve.ID, int(cve.Severity), cve.PackageName, cve.Title, cve.Description, cve.Remediation, cve.References)
	if err != nil {
		return fmt.Errorf("failed to update cve %s: %w", cve.ID, err)
	}

	return nil
}

// SaveAuditResult implements Database. The audit and all its check results
// are written in one transaction.
func (p *PostgresDB) SaveAuditResult(ctx context.Context, audit *types.Audit) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin audit transaction: %w", err)
	}
	defer tx.Rollback()

	var entityID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO audits (audit_id, date, scanner_id, component_id, component_name, metadata_kind, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		audit.ID, audit.Date, audit.ScannerID, audit.ComponentID, audit.ComponentName,
		string(audit.MetadataKind), audit.Metadata).Scan(&entityID)
	if err != nil {
		return fmt.Errorf("failed to insert audit %s: %w", audit.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO check_results (audit_entity_id, check_id, external_check_id, component_id, value, message)
		 VALUES ($1, $2, $3, $4, $5, $6)`)
	if err != nil {
		return fmt.Errorf("failed to prepare check-result insert: %w", err)
	}
	defer stmt.Close()

	for _, result := range audit.CheckResults {
		if _, err := stmt.ExecContext(ctx,
			entityID, result.InternalCheckID, result.ExternalCheckID,
			result.ComponentID, int(result.Value), result.Message); err != nil {
			return fmt.Errorf("failed to insert check result for %s: %w", result.ComponentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit %s: %w", audit.ID, err)
	}

	return nil
}

// SaveInProgressImageScan implements Database.
func (p *PostgresDB) SaveInProgressImageScan(ctx context.Context, scan *types.ImageScanResult) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO image_scans (scan_id, image_tag, date, status, description)
		 VALUES ($1, $2, $3, $4, $5)`,
		scan.ID, scan.ImageTag, scan.Date, int(scan.Status), scan.Description)
	if err != nil {
		return fmt.Errorf("failed to insert queued image scan %s: %w", scan.ImageTag, err)
	}

	return nil
}

// SaveImageScanResult implements Database.
func (p *PostgresDB) SaveImageScanResult(ctx context.Context, scan *types.ImageScanResult) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin image-scan transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE image_scans SET date = $2, status = $3, description = $4 WHERE scan_id = $1`,
		scan.ID, scan.Date, int(scan.Status), scan.Description)
	if err != nil {
		return fmt.Errorf("failed to update image scan %s: %w", scan.ID, err)
	}

	if updated, err := result.RowsAffected(); err == nil && updated == 0 {
		// The scan arrived without a queued placeholder: a scanner can be
		// triggered out-of-band.
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO image_scans (scan_id, image_tag, date, status, description)
			 VALUES ($1, $2, $3, $4, $5)`,
			scan.ID, scan.ImageTag, scan.Date, int(scan.Status), scan.Description); err != nil {
			return fmt.Errorf("failed to insert image scan %s: %w", scan.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM image_scan_cves WHERE scan_id = $1`, scan.ID); err != nil {
		return fmt.Errorf("failed to clear CVEs of image scan %s: %w", scan.ID, err)
	}

	for _, found := range scan.FoundCVEs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO image_scan_cves (scan_id, cve_internal_id, cve_id, severity, target, package_version)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			scan.ID, found.InternalCveID, found.CveID, int(found.Severity),
			found.Target, found.UsedPackageVersion); err != nil {
			return fmt.Errorf("failed to insert CVE %s for image scan %s: %w", found.CveID, scan.ID, err)
		}
	}

	// Resolve the in-progress check results that reference this image tag.
	// Exact suffix comparison rather than LIKE: image tags routinely contain
	// "_", which LIKE would treat as a wildcard and flip foreign tags.
	flipped, err := tx.ExecContext(ctx,
		`UPDATE check_results SET value = $1, message = $2
		 WHERE value = $3 AND right(component_id, length($4)) = $4`,
		int(scan.CheckResultValue()), scan.CheckResultMessage(),
		int(types.InProgress), componentIDSuffix(scan.ImageTag))
	if err != nil {
		return fmt.Errorf("failed to resolve in-progress checks for %s: %w", scan.ImageTag, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit image scan %s: %w", scan.ID, err)
	}

	if count, err := flipped.RowsAffected(); err == nil && count > 0 {
		p.logger.WithFields(logrus.Fields{
			"image_tag": scan.ImageTag,
			"resolved":  count,
		}).Info("Resolved in-progress check results")
	}

	return nil
}

// GetNotExpiredImageScans implements Database.
func (p *PostgresDB) GetNotExpiredImageScans(ctx context.Context, imageTags []string) ([]*types.ImageScanResult, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT DISTINCT ON (image_tag) scan_id, image_tag, date, status, description
		 FROM image_scans
		 WHERE image_tag = ANY($1) AND date >= $2
		 ORDER BY image_tag, date DESC`,
		pq.Array(imageTags), time.Now().UTC().Add(-p.scanTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to query image scans: %w", err)
	}
	defer rows.Close()

	var scans []*types.ImageScanResult
	for rows.Next() {
		scan := &types.ImageScanResult{}
		var status int
		if err := rows.Scan(&scan.ID, &scan.ImageTag, &scan.Date, &status, &scan.Description); err != nil {
			return nil, fmt.Errorf("failed to scan image-scan row: %w", err)
		}
		scan.Status = types.ImageScanStatus(status)
		scans = append(scans, scan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate image-scan rows: %w", err)
	}

	if err := p.loadScanCves(ctx, scans); err != nil {
		return nil, err
	}

	return scans, nil
}

func (p *PostgresDB) loadScanCves(ctx context.Context, scans []*types.ImageScanResult) error {
	for _, scan := range scans {
		rows, err := p.db.QueryContext(ctx,
			`SELECT cve_internal_id, cve_id, severity, target, package_version
			 FROM image_scan_cves WHERE scan_id = $1`, scan.ID)
		if err != nil {
			return fmt.Errorf("failed to query CVEs of scan %s: %w", scan.ID, err)
		}

		for rows.Next() {
			var found types.ImageScanToCve
			var severity int
			if err := rows.Scan(&found.InternalCveID, &found.CveID, &severity, &found.Target, &found.UsedPackageVersion); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan CVE row of scan %s: %w", scan.ID, err)
			}
			found.Severity = types.CveSeverity(severity)
			scan.FoundCVEs = append(scan.FoundCVEs, found)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("failed to iterate CVE rows of scan %s: %w", scan.ID, err)
		}
		rows.Close()
	}

	return nil
}

// SaveComponentOwners implements Database.
func (p *PostgresDB) SaveComponentOwners(ctx context.Context, owners []ComponentOwner) error {
	for _, owner := range owners {
		_, err := p.db.ExecContext(ctx,
			`INSERT INTO component_owners (component_id, owner, date_updated)
			 VALUES ($1, $2, now())
			 ON CONFLICT (component_id) DO UPDATE SET owner = EXCLUDED.owner, date_updated = now()`,
			owner.ComponentID, owner.Owner)
		if err != nil {
			return fmt.Errorf("failed to upsert owner of %s: %w", owner.ComponentID, err)
		}
	}

	return nil
}

func (p *PostgresDB) windowStart() time.Time {
	return time.Now().UTC().Truncate(24 * time.Hour).Add(-p.scoreHistory)
}

// GetComponentIDs implements ScoreDB.
func (p *PostgresDB) GetComponentIDs(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT DISTINCT component_id FROM audits WHERE date >= $1 ORDER BY component_id`,
		p.windowStart())
	if err != nil {
		return nil, fmt.Errorf("failed to query component ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan component id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

func scanAuditRecords(rows *sql.Rows) ([]AuditRecord, error) {
	var records []AuditRecord
	for rows.Next() {
		var record AuditRecord
		if err := rows.Scan(&record.EntityID, &record.AuditID, &record.Date,
			&record.ComponentID, &record.ComponentName); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, record)
	}

	return records, rows.Err()
}

// GetComponentAudits implements ScoreDB.
func (p *PostgresDB) GetComponentAudits(ctx context.Context, componentID string) ([]AuditRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT DISTINCT ON (date_trunc('day', date)) id, audit_id, date, component_id, component_name
		 FROM audits
		 WHERE component_id = $1 AND date >= $2
		 ORDER BY date_trunc('day', date), date DESC`,
		componentID, p.windowStart())
	if err != nil {
		return nil, fmt.Errorf("failed to query audits of %s: %w", componentID, err)
	}
	defer rows.Close()

	return scanAuditRecords(rows)
}

// GetAudit implements ScoreDB.
func (p *PostgresDB) GetAudit(ctx context.Context, componentID string, date time.Time) (*AuditRecord, error) {
	day := date.UTC().Truncate(24 * time.Hour)
	record := AuditRecord{}
	err := p.db.QueryRowContext(ctx,
		`SELECT id, audit_id, date, component_id, component_name
		 FROM audits
		 WHERE component_id = $1 AND date >= $2 AND date < $3
		 ORDER BY date DESC
		 LIMIT 1`,
		componentID, day, day.Add(24*time.Hour)).
		Scan(&record.EntityID, &record.AuditID, &record.Date, &record.ComponentID, &record.ComponentName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: component %s on %s", ErrAuditNotFound, componentID, day.Format("2006-01-02"))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query audit of %s: %w", componentID, err)
	}

	return &record, nil
}

// GetDayAudits implements ScoreDB.
func (p *PostgresDB) GetDayAudits(ctx context.Context, date time.Time) ([]AuditRecord, error) {
	day := date.UTC().Truncate(24 * time.Hour)
	rows, err := p.db.QueryContext(ctx,
		`SELECT DISTINCT ON (component_id) id, audit_id, date, component_id, component_name
		 FROM audits
		 WHERE date >= $1 AND date < $2
		 ORDER BY component_id, date DESC`,
		day, day.Add(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to query audits of %s: %w", day.Format("2006-01-02"), err)
	}
	defer rows.Close()

	return scanAuditRecords(rows)
}

// GetCounterSummariesForAudit implements ScoreDB.
func (p *PostgresDB) GetCounterSummariesForAudit(ctx context.Context, auditEntityID int64) (types.CountersSummary, error) {
	var summary types.CountersSummary

	rows, err := p.db.QueryContext(ctx,
		`SELECT r.value, c.severity
		 FROM check_results r
		 JOIN checks c ON c.id = r.check_id
		 WHERE r.audit_entity_id = $1`,
		auditEntityID)
	if err != nil {
		return summary, fmt.Errorf("failed to query check results of audit %d: %w", auditEntityID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var value, severity int
		if err := rows.Scan(&value, &severity); err != nil {
			return summary, fmt.Errorf("failed to scan check-result row: %w", err)
		}
		summary.CountCheck(types.CheckValue(value), types.CheckSeverity(severity))
	}

	return summary, rows.Err()
}

// componentIDSuffix is kept as a single definition so the postgres suffix
// comparison and the memory implementation cannot drift apart.
func componentIDSuffix(imageTag string) string {
	return "/image/" + strings.TrimSpace(imageTag)
}
