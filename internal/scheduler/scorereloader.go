// ABOUTME: Periodic full reload of the score cache.

package scheduler

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deepnetworkgmbh/joseki-sub000/internal/metrics"
)

// ScoreReloadable is the slice of the score cache the reloader needs.
type ScoreReloadable interface {
	ReloadEntireCache(ctx context.Context) error
}

// ScoreReloader warms the score cache on startup and keeps rebuilding it on
// a fixed interval, so most reads never hit the database lazily.
type ScoreReloader struct {
	cache    ScoreReloadable
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *logrus.Logger
}

// NewScoreReloader wires the reload loop.
func NewScoreReloader(cache ScoreReloadable, interval time.Duration, m *metrics.Metrics, logger *logrus.Logger) *ScoreReloader {
	return &ScoreReloader{cache: cache, interval: interval, metrics: m, logger: logger}
}

// Run reloads immediately and then on every tick until the context is
// cancelled.
func (r *ScoreReloader) Run(ctx context.Context) {
	logger := r.logger.WithField("component", "score_reloader")

	r.reload(ctx, logger)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	logger.WithField("interval", r.interval.String()).Info("Starting periodic score cache reload")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Score reloader stopping")
			return
		case <-ticker.C:
			r.reload(ctx, logger)
		}
	}
}

func (r *ScoreReloader) reload(ctx context.Context, logger *logrus.Entry) {
	if err := r.cache.ReloadEntireCache(ctx); err != nil {
		logger.WithError(err).Error("Score cache reload failed")
		return
	}
	r.metrics.ScoreCacheReloaded()
}
