// ABOUTME: In-memory implementation of every persistence port.
// ABOUTME: Backs mock mode and the package tests of caches and normalizers.

package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/deepnetworkgmbh/joseki-sub000/internal/types"
)

type storedAudit struct {
	record AuditRecord
	audit  *types.Audit
}

// MemoryDB keeps all records in process memory. The visible semantics match
// the postgres adapter: surrogate ids, unique external ids, latest-per-day
// deduplication, and in-place image-scan updates.
type MemoryDB struct {
	mu sync.Mutex

	checks map[string]*CheckRecord
	cves   map[string]*CveRecord

	// checkSeverity maps internal check ids onto severities for scoring.
	checkSeverity map[int64]types.CheckSeverity

	audits []*storedAudit
	scans  []*types.ImageScanResult
	owners map[string]string

	nextID       int64
	scanTTL      time.Duration
	scoreHistory time.Duration

	scoreQueries int

	// Now is replaceable in tests.
	Now func() time.Time
}

// NewMemoryDB creates an empty in-memory database.
func NewMemoryDB(scanTTL, scoreHistory time.Duration) *MemoryDB {
	return &MemoryDB{
		checks:        make(map[string]*CheckRecord),
		cves:          make(map[string]*CveRecord),
		checkSeverity: make(map[int64]types.CheckSeverity),
		owners:        make(map[string]string),
		scanTTL:       scanTTL,
		scoreHistory:  scoreHistory,
		Now:           time.Now,
	}
}

func (m *MemoryDB) nextInternalID() int64 {
	m.nextID++
	return m.nextID
}

// GetCheck implements CheckStore.
func (m *MemoryDB) GetCheck(ctx context.Context, externalID string) (*CheckRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.checks[externalID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCheckNotFound, externalID)
	}

	copied := *record
	return &copied, nil
}

// InsertCheck implements CheckStore.
func (m *MemoryDB) InsertCheck(ctx context.Context, check *types.Check) (*CheckRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.checks[check.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, check.ID)
	}

	record := &CheckRecord{
		InternalID:  m.nextInternalID(),
		ExternalID:  check.ID,
		DateUpdated: m.Now(),
	}
	m.checks[check.ID] = record
	m.checkSeverity[record.InternalID] = check.Severity

	copied := *record
	return &copied, nil
}

// UpdateCheck implements CheckStore.
func (m *MemoryDB) UpdateCheck(ctx context.Context, check *types.Check) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.checks[check.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCheckNotFound, check.ID)
	}

	record.DateUpdated = m.Now()
	m.checkSeverity[record.InternalID] = check.Severity
	return nil
}

// GetCve implements CveStore.
func (m *MemoryDB) GetCve(ctx context.Context, externalID string) (*CveRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.cves[externalID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCveNotFound, externalID)
	}

	copied := *record
	return &copied, nil
}

// InsertCve implements CveStore.
func (m *MemoryDB) InsertCve(ctx context.Context, cve *types.CVE) (*CveRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.cves[cve.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, cve.ID)
	}

	record := &CveRecord{
		InternalID:  m.nextInternalID(),
		ExternalID:  cve.ID,
		DateUpdated: m.Now(),
	}
	m.cves[cve.ID] = record

	copied := *record
	return &copied, nil
}

// UpdateCve implements CveStore.
func (m *MemoryDB) UpdateCve(ctx context.Context, cve *types.CVE) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.cves[cve.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCveNotFound, cve.ID)
	}

	record.DateUpdated = m.Now()
	return nil
}

// SaveAuditResult implements Database.
func (m *MemoryDB) SaveAuditResult(ctx context.Context, audit *types.Audit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.audits = append(m.audits, &storedAudit{
		record: AuditRecord{
			EntityID:      m.nextInternalID(),
			AuditID:       audit.ID,
			Date:          audit.Date,
			ComponentID:   audit.ComponentID,
			ComponentName: audit.ComponentName,
		},
		audit: audit,
	})

	return nil
}

// SaveInProgressImageScan implements Database.
func (m *MemoryDB) SaveInProgressImageScan(ctx context.Context, scan *types.ImageScanResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *scan
	m.scans = append(m.scans, &copied)
	return nil
}

// SaveImageScanResult implements Database.
func (m *MemoryDB) SaveImageScanResult(ctx context.Context, scan *types.ImageScanResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	updated := false
	for i, existing := range m.scans {
		if existing.ID == scan.ID {
			copied := *scan
			m.scans[i] = &copied
			updated = true
			break
		}
	}
	if !updated {
		copied := *scan
		m.scans = append(m.scans, &copied)
	}

	// Resolve the in-progress check results that were waiting for this tag.
	value := scan.CheckResultValue()
	message := scan.CheckResultMessage()
	suffix := "/image/" + scan.ImageTag
	for _, stored := range m.audits {
		for i := range stored.audit.CheckResults {
			result := &stored.audit.CheckResults[i]
			if result.Value == types.InProgress && strings.HasSuffix(result.ComponentID, suffix) {
				result.Value = value
				result.Message = message
			}
		}
	}

	return nil
}

// GetNotExpiredImageScans implements Database.
func (m *MemoryDB) GetNotExpiredImageScans(ctx context.Context, imageTags []string) ([]*types.ImageScanResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	threshold := m.Now().Add(-m.scanTTL)

	latest := make(map[string]*types.ImageScanResult)
	for _, scan := range m.scans {
		if scan.Date.Before(threshold) {
			continue
		}
		if existing, ok := latest[scan.ImageTag]; !ok || scan.Date.After(existing.Date) {
			latest[scan.ImageTag] = scan
		}
	}

	results := make([]*types.ImageScanResult, 0, len(imageTags))
	for _, tag := range imageTags {
		if scan, ok := latest[tag]; ok {
			copied := *scan
			results = append(results, &copied)
		}
	}

	return results, nil
}

// SaveComponentOwners implements Database.
func (m *MemoryDB) SaveComponentOwners(ctx context.Context, owners []ComponentOwner) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, owner := range owners {
		m.owners[owner.ComponentID] = owner.Owner
	}
	return nil
}

func (m *MemoryDB) windowStart() time.Time {
	return m.Now().UTC().Truncate(24 * time.Hour).Add(-m.scoreHistory)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// GetComponentIDs implements ScoreDB.
func (m *MemoryDB) GetComponentIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scoreQueries++

	start := m.windowStart()
	seen := make(map[string]bool)
	var ids []string
	for _, stored := range m.audits {
		if stored.record.Date.Before(start) || seen[stored.record.ComponentID] {
			continue
		}
		seen[stored.record.ComponentID] = true
		ids = append(ids, stored.record.ComponentID)
	}
	sort.Strings(ids)

	return ids, nil
}

// GetComponentAudits implements ScoreDB.
func (m *MemoryDB) GetComponentAudits(ctx context.Context, componentID string) ([]AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scoreQueries++

	start := m.windowStart()
	latestPerDay := make(map[string]AuditRecord)
	for _, stored := range m.audits {
		record := stored.record
		if record.ComponentID != componentID || record.Date.Before(start) {
			continue
		}
		day := record.Date.UTC().Format("2006-01-02")
		if existing, ok := latestPerDay[day]; !ok || record.Date.After(existing.Date) {
			latestPerDay[day] = record
		}
	}

	records := make([]AuditRecord, 0, len(latestPerDay))
	for _, record := range latestPerDay {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Date.Before(records[j].Date) })

	return records, nil
}

// GetAudit implements ScoreDB.
func (m *MemoryDB) GetAudit(ctx context.Context, componentID string, date time.Time) (*AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scoreQueries++

	var latest *AuditRecord
	for _, stored := range m.audits {
		record := stored.record
		if record.ComponentID != componentID || !sameDay(record.Date, date) {
			continue
		}
		if latest == nil || record.Date.After(latest.Date) {
			copied := record
			latest = &copied
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: component %s on %s", ErrAuditNotFound, componentID, date.Format("2006-01-02"))
	}

	return latest, nil
}

// GetDayAudits implements ScoreDB.
func (m *MemoryDB) GetDayAudits(ctx context.Context, date time.Time) ([]AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scoreQueries++

	latestPerComponent := make(map[string]AuditRecord)
	for _, stored := range m.audits {
		record := stored.record
		if !sameDay(record.Date, date) {
			continue
		}
		if existing, ok := latestPerComponent[record.ComponentID]; !ok || record.Date.After(existing.Date) {
			latestPerComponent[record.ComponentID] = record
		}
	}

	records := make([]AuditRecord, 0, len(latestPerComponent))
	for _, record := range latestPerComponent {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ComponentID < records[j].ComponentID })

	return records, nil
}

// GetCounterSummariesForAudit implements ScoreDB.
func (m *MemoryDB) GetCounterSummariesForAudit(ctx context.Context, auditEntityID int64) (types.CountersSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scoreQueries++

	var summary types.CountersSummary
	for _, stored := range m.audits {
		if stored.record.EntityID != auditEntityID {
			continue
		}
		for _, result := range stored.audit.CheckResults {
			summary.CountCheck(result.Value, m.checkSeverity[result.InternalCheckID])
		}
		return summary, nil
	}

	return summary, fmt.Errorf("%w: audit entity %d", ErrAuditNotFound, auditEntityID)
}

// ScoreQueryCount reports how many ScoreDB calls were served. Used by tests
// to assert the score cache short-circuits repeated lookups.
func (m *MemoryDB) ScoreQueryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scoreQueries
}

// ImageScans returns a snapshot of all stored scans, oldest first.
func (m *MemoryDB) ImageScans() []*types.ImageScanResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	scans := make([]*types.ImageScanResult, 0, len(m.scans))
	for _, scan := range m.scans {
		copied := *scan
		scans = append(scans, &copied)
	}
	return scans
}

// Audits returns a snapshot of all stored audits, oldest first.
func (m *MemoryDB) Audits() []*types.Audit {
	m.mu.Lock()
	defer m.mu.Unlock()

	audits := make([]*types.Audit, 0, len(m.audits))
	for _, stored := range m.audits {
		audits = append(audits, stored.audit)
	}
	return audits
}

// Owners returns a snapshot of extracted component ownership.
func (m *MemoryDB) Owners() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	owners := make(map[string]string, len(m.owners))
	for component, owner := range m.owners {
		owners[component] = owner
	}
	return owners
}
