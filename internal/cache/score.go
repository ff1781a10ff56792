// ABOUTME: In-memory score cache over the audit history window.
// ABOUTME: Serves per-component and overall counters summaries with tiered TTLs.

package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deepnetworkgmbh/joseki-sub000/internal/database"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/types"
)

const (
	// emptyEntryTTL bounds how often a day with no audit is re-queried.
	emptyEntryTTL = 15 * time.Minute

	// recentEntryTTL applies to the last two days, which new audits still
	// land on.
	recentEntryTTL = time.Hour

	// settledEntryTTL applies to historical days, which only change when a
	// late audit arrives.
	settledEntryTTL = 24 * time.Hour
)

type scoreEntry struct {
	summary  types.CountersSummary
	day      time.Time
	found    bool
	cachedAt time.Time

	// dirty forces a reload before the TTL expires, set when an audit for
	// the entry's component/day lands after the entry was cached.
	dirty bool
}

// ScoreCache caches counters summaries per component per day, bounded by the
// rolling history window. The overall pseudo-component is synthesized by
// summing every component of the requested day.
type ScoreCache struct {
	db           database.ScoreDB
	scoreHistory time.Duration
	logger       *logrus.Logger

	mutex sync.Mutex
	items map[string]*scoreEntry

	// Now is replaceable in tests.
	Now func() time.Time
}

// NewScoreCache creates an empty cache reading from the given score store.
func NewScoreCache(db database.ScoreDB, scoreHistory time.Duration, logger *logrus.Logger) *ScoreCache {
	return &ScoreCache{
		db:           db,
		scoreHistory: scoreHistory,
		logger:       logger,
		items:        make(map[string]*scoreEntry),
		Now:          time.Now,
	}
}

func scoreKey(componentID string, day time.Time) string {
	return fmt.Sprintf("%s|%s", componentID, day.Format("2006-01-02"))
}

// GetCountersSummary returns the counters of one component for one day.
// Days outside the history window and days without audits both yield
// ErrAuditNotFound.
func (c *ScoreCache) GetCountersSummary(ctx context.Context, componentID string, date time.Time) (types.CountersSummary, error) {
	now := c.Now().UTC()
	day := date.UTC().Truncate(24 * time.Hour)

	today := now.Truncate(24 * time.Hour)
	if day.After(today) || day.Before(today.Add(-c.scoreHistory)) {
		return types.CountersSummary{}, fmt.Errorf("%w: %s is outside the history window", database.ErrAuditNotFound, day.Format("2006-01-02"))
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if entry, ok := c.items[scoreKey(componentID, day)]; ok &&
		!entry.dirty && now.Sub(entry.cachedAt) < c.entryTTL(entry, now) {
		return c.entryResult(entry, componentID, day)
	}

	var entry *scoreEntry
	var err error
	if componentID == types.OverallComponentID {
		entry, err = c.loadOverall(ctx, day, now)
	} else {
		entry, err = c.loadComponent(ctx, componentID, day, now)

		// The overall sum of this day includes the entry that was just
		// recomputed, so it has to be recomputed too.
		if err == nil {
			c.markDirty(types.OverallComponentID, day)
		}
	}
	if err != nil {
		return types.CountersSummary{}, err
	}

	c.items[scoreKey(componentID, day)] = entry

	return c.entryResult(entry, componentID, day)
}

func (c *ScoreCache) entryResult(entry *scoreEntry, componentID string, day time.Time) (types.CountersSummary, error) {
	if !entry.found {
		return types.CountersSummary{}, fmt.Errorf("%w: component %s on %s",
			database.ErrAuditNotFound, componentID, day.Format("2006-01-02"))
	}

	return entry.summary, nil
}

// loadComponent fetches one component/day summary from the database. Missing
// audits are cached too: absence is the common case for components that were
// decommissioned mid-window.
func (c *ScoreCache) loadComponent(ctx context.Context, componentID string, day, now time.Time) (*scoreEntry, error) {
	audit, err := c.db.GetAudit(ctx, componentID, day)
	if errors.Is(err, database.ErrAuditNotFound) {
		return &scoreEntry{day: day, cachedAt: now}, nil
	}
	if err != nil {
		return nil, err
	}

	summary, err := c.db.GetCounterSummariesForAudit(ctx, audit.EntityID)
	if err != nil {
		return nil, err
	}

	return &scoreEntry{summary: summary, day: day, found: true, cachedAt: now}, nil
}

// loadOverall sums every component audited on the day. The per-component
// summaries computed on the way are cached as well.
func (c *ScoreCache) loadOverall(ctx context.Context, day, now time.Time) (*scoreEntry, error) {
	records, err := c.db.GetDayAudits(ctx, day)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return &scoreEntry{day: day, cachedAt: now}, nil
	}

	var total types.CountersSummary
	for _, record := range records {
		summary, err := c.db.GetCounterSummariesForAudit(ctx, record.EntityID)
		if err != nil {
			return nil, err
		}

		c.items[scoreKey(record.ComponentID, day)] = &scoreEntry{
			summary: summary, day: day, found: true, cachedAt: now,
		}
		total.Add(summary)
	}

	return &scoreEntry{summary: total, day: day, found: true, cachedAt: now}, nil
}

// Invalidate marks the cached entry of one component/day pair dirty. The
// overall entry of the same day is marked with it, because its sum includes
// the invalidated component.
func (c *ScoreCache) Invalidate(componentID string, date time.Time) {
	day := date.UTC().Truncate(24 * time.Hour)

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.markDirty(componentID, day)
	c.markDirty(types.OverallComponentID, day)
}

func (c *ScoreCache) markDirty(componentID string, day time.Time) {
	if entry, ok := c.items[scoreKey(componentID, day)]; ok {
		entry.dirty = true
	}
}

// ReloadEntireCache recomputes every component/day summary inside the
// history window and rebuilds the overall entries from them.
func (c *ScoreCache) ReloadEntireCache(ctx context.Context) error {
	started := c.Now()
	now := started.UTC()

	ids, err := c.db.GetComponentIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list components for score reload: %w", err)
	}

	items := make(map[string]*scoreEntry)
	overall := make(map[time.Time]*scoreEntry)

	for _, componentID := range ids {
		records, err := c.db.GetComponentAudits(ctx, componentID)
		if err != nil {
			return fmt.Errorf("failed to load audits of %s: %w", componentID, err)
		}

		for _, record := range records {
			summary, err := c.db.GetCounterSummariesForAudit(ctx, record.EntityID)
			if err != nil {
				return fmt.Errorf("failed to load counters of audit %s: %w", record.AuditID, err)
			}

			day := record.Date.UTC().Truncate(24 * time.Hour)
			items[scoreKey(componentID, day)] = &scoreEntry{
				summary: summary, day: day, found: true, cachedAt: now,
			}

			dayTotal, ok := overall[day]
			if !ok {
				dayTotal = &scoreEntry{day: day, found: true, cachedAt: now}
				overall[day] = dayTotal
			}
			dayTotal.summary.Add(summary)
		}
	}

	for day, entry := range overall {
		items[scoreKey(types.OverallComponentID, day)] = entry
	}

	c.mutex.Lock()
	c.items = items
	c.mutex.Unlock()

	c.logger.WithFields(logrus.Fields{
		"components": len(ids),
		"entries":    len(items),
		"took":       time.Since(started).String(),
	}).Info("Reloaded score cache")

	return nil
}

// entryTTL picks the freshness tier of a cached entry.
func (c *ScoreCache) entryTTL(entry *scoreEntry, now time.Time) time.Duration {
	if !entry.found || entry.summary.Total() == 0 {
		return emptyEntryTTL
	}
	if now.Sub(entry.day) <= 48*time.Hour {
		return recentEntryTTL
	}

	return settledEntryTTL
}
