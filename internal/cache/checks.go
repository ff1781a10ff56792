// ABOUTME: Write-through cache mapping external check ids to database keys.
// ABOUTME: Refreshes stale rows based on per-family TTLs and absorbs insert races.

package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deepnetworkgmbh/joseki-sub000/internal/config"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/database"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/types"
)

// imageScanCheck is pre-registered on startup so normalizers never race on
// creating it.
var imageScanCheck = types.Check{
	ID:       types.ImageScanCheckID,
	Category: "Security",
	Severity: types.SeverityHigh,
	Description: "Container image scan. " +
		"The check fails when a scanner finds any CVE of Medium severity or higher in the image.",
	Remediation: "Update the base image or the affected packages to versions without known vulnerabilities.",
}

type checkEntry struct {
	internalID int64
	updatedAt  time.Time
}

// ChecksCache is the write-through cache in front of the checks table. It
// hands out internal database keys for external check ids and keeps the
// stored definitions fresh.
type ChecksCache struct {
	store  database.CheckStore
	cfg    config.CacheConfig
	logger *logrus.Logger

	mutex   sync.Mutex
	entries map[string]*checkEntry

	imageScanID int64

	// Now is replaceable in tests.
	Now func() time.Time
}

// NewChecksCache creates the cache and pre-registers the image-scan check.
func NewChecksCache(ctx context.Context, store database.CheckStore, cfg config.CacheConfig, logger *logrus.Logger) (*ChecksCache, error) {
	cache := &ChecksCache{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]*checkEntry),
		Now:     time.Now,
	}

	check := imageScanCheck
	id, err := cache.GetOrAdd(ctx, check.ID, func() *types.Check { return &check })
	if err != nil {
		return nil, err
	}
	cache.imageScanID = id

	return cache, nil
}

// GetImageScanCheck returns the internal key of the pre-registered
// container-image scan check.
func (c *ChecksCache) GetImageScanCheck() int64 {
	return c.imageScanID
}

// GetOrAdd resolves an external check id to its internal database key. The
// factory is invoked only when the check has to be inserted or refreshed.
func (c *ChecksCache) GetOrAdd(ctx context.Context, externalID string, factory func() *types.Check) (int64, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.Now().UTC()
	ttl := c.ttlFor(externalID)

	if entry, ok := c.entries[externalID]; ok && now.Sub(entry.updatedAt) < ttl {
		return entry.internalID, nil
	}

	record, err := c.store.GetCheck(ctx, externalID)
	switch {
	case errors.Is(err, database.ErrCheckNotFound):
		record, err = c.insert(ctx, externalID, factory)
		if err != nil {
			return 0, err
		}
	case err != nil:
		return 0, err
	case now.Sub(record.DateUpdated) >= ttl:
		if err := c.store.UpdateCheck(ctx, factory()); err != nil {
			return 0, err
		}
		record.DateUpdated = now
		c.logger.WithField("check_id", externalID).Debug("Refreshed stale check definition")
	}

	// The memory entry tracks the row's authoritative DateUpdated, not the
	// lookup time. Otherwise a row read shortly before its TTL would be
	// served from memory for a full extra TTL without a rewrite.
	c.entries[externalID] = &checkEntry{internalID: record.InternalID, updatedAt: record.DateUpdated}

	return record.InternalID, nil
}

// insert writes a new check row. A concurrent writer may win the insert; the
// duplicate error is resolved by re-reading.
func (c *ChecksCache) insert(ctx context.Context, externalID string, factory func() *types.Check) (*database.CheckRecord, error) {
	record, err := c.store.InsertCheck(ctx, factory())
	if errors.Is(err, database.ErrDuplicateID) {
		c.logger.WithField("check_id", externalID).Debug("Lost check insert race, re-reading")
		return c.store.GetCheck(ctx, externalID)
	}
	if err != nil {
		return nil, err
	}

	return record, nil
}

// ttlFor selects the freshness window from the id prefix. Polaris and azsk
// reference data changes on different release cadences.
func (c *ChecksCache) ttlFor(externalID string) time.Duration {
	days := c.cfg.DefaultCheckTTLDays
	switch {
	case strings.HasPrefix(externalID, "polaris."):
		days = c.cfg.PolarisCheckTTLDays
	case strings.HasPrefix(externalID, "azsk."):
		days = c.cfg.AzskCheckTTLDays
	}

	return time.Duration(days) * 24 * time.Hour
}
