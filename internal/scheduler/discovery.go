// ABOUTME: Periodic discovery of scanner containers in blob storage.
// ABOUTME: Parses heartbeat metadata, triages staleness, feeds the scheduler.

package scheduler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deepnetworkgmbh/joseki-sub000/internal/metrics"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/storage"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/types"
)

// Reconciler receives the authoritative live container set of each
// discovery cycle.
type Reconciler interface {
	UpdateWorkingItems(containers []types.ScannerContainer)
}

// Discovery lists scanner containers on a fixed interval and reconciles
// the scheduler with whatever it finds.
type Discovery struct {
	storage    storage.BlobStorage
	reconciler Reconciler
	interval   time.Duration
	metrics    *metrics.Metrics
	logger     *logrus.Logger

	// Now is replaceable in tests.
	Now func() time.Time
}

// NewDiscovery wires the discovery loop.
func NewDiscovery(
	store storage.BlobStorage,
	reconciler Reconciler,
	interval time.Duration,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *Discovery {
	return &Discovery{
		storage:    store,
		reconciler: reconciler,
		interval:   interval,
		metrics:    m,
		logger:     logger,
		Now:        time.Now,
	}
}

// Run performs an initial cycle and then repeats on the interval until the
// context is cancelled.
func (d *Discovery) Run(ctx context.Context) {
	logger := d.logger.WithField("component", "container_discovery")

	if err := d.Cycle(ctx); err != nil {
		logger.WithError(err).Error("Initial container discovery failed")
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	logger.WithField("interval", d.interval.String()).Info("Starting periodic container discovery")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Container discovery stopping")
			return
		case <-ticker.C:
			if err := d.Cycle(ctx); err != nil {
				logger.WithError(err).Error("Container discovery failed")
			}
		}
	}
}

// Cycle lists all containers, parses their heartbeat metadata, and hands
// the parseable ones to the scheduler. Containers with broken metadata are
// skipped until the next cycle.
func (d *Discovery) Cycle(ctx context.Context) error {
	names, err := d.storage.ListAllContainers(ctx)
	if err != nil {
		return err
	}

	containers := make([]types.ScannerContainer, 0, len(names))
	for _, name := range names {
		container, err := d.readContainer(ctx, name)
		if err != nil {
			d.logger.WithError(err).WithField("container", name).Warn("Skipping container with unreadable metadata")
			continue
		}

		d.triageHeartbeat(*container)
		containers = append(containers, *container)
	}

	d.reconciler.UpdateWorkingItems(containers)
	d.metrics.SetScannerContainers(len(containers))

	return nil
}

func (d *Discovery) readContainer(ctx context.Context, name string) (*types.ScannerContainer, error) {
	container := &types.ScannerContainer{Name: name}

	raw, err := d.storage.DownloadFile(ctx, container.MetadataFilePath())
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &container.Metadata); err != nil {
		return nil, err
	}

	return container, nil
}

// triageHeartbeat logs how far behind the scanner's self-reported heartbeat
// is. Within the declared periodicity nothing is logged; within twice the
// periodicity or one hour it is a warning; beyond that an error. A stale
// heartbeat never fails discovery.
func (d *Discovery) triageHeartbeat(container types.ScannerContainer) {
	staleness := d.Now().UTC().Sub(time.Unix(container.Metadata.Heartbeat, 0).UTC())
	period := time.Duration(container.Metadata.HeartbeatPeriodicity) * time.Second
	if staleness <= period {
		return
	}

	entry := d.logger.WithFields(logrus.Fields{
		"container": container.Name,
		"scanner":   container.ScannerID(),
		"staleness": staleness.String(),
	})

	if staleness <= 2*period || staleness <= time.Hour {
		entry.Warn("Scanner heartbeat is late")
		return
	}

	entry.Error("Scanner heartbeat is stale")
}
