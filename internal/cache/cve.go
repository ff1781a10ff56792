// ABOUTME: Write-through cache mapping CVE ids to database keys.
// ABOUTME: Mirrors the checks cache with a single TTL for all entries.

package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deepnetworkgmbh/joseki-sub000/internal/config"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/database"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/types"
)

type cveEntry struct {
	internalID int64
	updatedAt  time.Time
}

// CveCache hands out internal database keys for CVE identifiers and keeps
// the stored vulnerability descriptions fresh.
type CveCache struct {
	store  database.CveStore
	ttl    time.Duration
	logger *logrus.Logger

	mutex   sync.Mutex
	entries map[string]*cveEntry

	// Now is replaceable in tests.
	Now func() time.Time
}

// NewCveCache creates an empty cache with the configured TTL.
func NewCveCache(store database.CveStore, cfg config.CacheConfig, logger *logrus.Logger) *CveCache {
	return &CveCache{
		store:   store,
		ttl:     time.Duration(cfg.CveTTLDays) * 24 * time.Hour,
		logger:  logger,
		entries: make(map[string]*cveEntry),
		Now:     time.Now,
	}
}

// GetOrAdd resolves a CVE id to its internal database key. The factory is
// invoked only when the CVE has to be inserted or refreshed.
func (c *CveCache) GetOrAdd(ctx context.Context, cveID string, factory func() *types.CVE) (int64, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.Now().UTC()

	if entry, ok := c.entries[cveID]; ok && now.Sub(entry.updatedAt) < c.ttl {
		return entry.internalID, nil
	}

	record, err := c.store.GetCve(ctx, cveID)
	switch {
	case errors.Is(err, database.ErrCveNotFound):
		record, err = c.insert(ctx, cveID, factory)
		if err != nil {
			return 0, err
		}
	case err != nil:
		return 0, err
	case now.Sub(record.DateUpdated) >= c.ttl:
		if err := c.store.UpdateCve(ctx, factory()); err != nil {
			return 0, err
		}
		record.DateUpdated = now
		c.logger.WithField("cve_id", cveID).Debug("Refreshed stale cve definition")
	}

	// Track the row's authoritative DateUpdated, like the checks cache.
	c.entries[cveID] = &cveEntry{internalID: record.InternalID, updatedAt: record.DateUpdated}

	return record.InternalID, nil
}

func (c *CveCache) insert(ctx context.Context, cveID string, factory func() *types.CVE) (*database.CveRecord, error) {
	record, err := c.store.InsertCve(ctx, factory())
	if errors.Is(err, database.ErrDuplicateID) {
		c.logger.WithField("cve_id", cveID).Debug("Lost cve insert race, re-reading")
		return c.store.GetCve(ctx, cveID)
	}
	if err != nil {
		return nil, err
	}

	return record, nil
}
