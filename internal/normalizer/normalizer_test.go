// ABOUTME: Shared fixtures of the normalizer package tests.

package normalizer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deepnetworkgmbh/joseki-sub000/internal/cache"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/config"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/database"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/metrics"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/queue"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/storage"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// scoreRecorder records invalidation calls.
type scoreRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *scoreRecorder) Invalidate(componentID string, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, componentID)
}

func (r *scoreRecorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// fixture bundles the in-memory ports every normalizer test needs.
type fixture struct {
	storage *storage.MemoryStorage
	db      *database.MemoryDB
	queue   *queue.MemoryQueue
	checks  *cache.ChecksCache
	cves    *cache.CveCache
	scores  *scoreRecorder
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := database.NewMemoryDB(12*time.Hour, 31*24*time.Hour)
	logger := testLogger()

	checks, err := cache.NewChecksCache(context.Background(), db, config.Default().Cache, logger)
	if err != nil {
		t.Fatalf("NewChecksCache() error = %v", err)
	}

	return &fixture{
		storage: storage.NewMemoryStorage(),
		db:      db,
		queue:   queue.NewMemoryQueue(),
		checks:  checks,
		cves:    cache.NewCveCache(db, config.Default().Cache, logger),
		scores:  &scoreRecorder{},
		metrics: metrics.NewMetrics(),
		logger:  logger,
	}
}

func (f *fixture) container(scannerType types.ScannerType, name string) types.ScannerContainer {
	return types.ScannerContainer{
		Name: name,
		Metadata: types.ScannerMetadata{
			Type:        scannerType,
			ID:          "scanner-1",
			Periodicity: "on-message",
		},
	}
}
