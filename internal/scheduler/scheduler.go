// ABOUTME: Dispatch loop that runs normalizers when their containers are due.
// ABOUTME: Reconciles the live container set with a generation counter.

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deepnetworkgmbh/joseki-sub000/internal/normalizer"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/types"
)

const (
	// onMessagePeriodicity marks scanners that run on queue messages rather
	// than on a schedule; their containers are polled often.
	onMessagePeriodicity = "on-message"

	onMessageInterval = time.Minute
	scheduledInterval = time.Hour

	// idleSleep bounds how long the loop sleeps when no item is due.
	idleSleep = 10 * time.Second
)

// schedulableItem wraps a scanner container with its dispatch state.
type schedulableItem struct {
	container     types.ScannerContainer
	generation    int64
	lastProcessed time.Time
}

func (i *schedulableItem) nextProcessingTime() time.Time {
	interval := scheduledInterval
	if i.container.Metadata.Periodicity == onMessagePeriodicity {
		interval = onMessageInterval
	}

	return i.lastProcessed.Add(interval)
}

// Scheduler owns the set of schedulable items and the dispatch loop.
// Discovery feeds it snapshots through UpdateWorkingItems.
type Scheduler struct {
	registry *normalizer.Registry
	logger   *logrus.Logger

	mutex      sync.Mutex
	items      map[string]*schedulableItem
	generation int64

	// Now is replaceable in tests.
	Now func() time.Time
}

// NewScheduler creates a scheduler with an empty item set.
func NewScheduler(registry *normalizer.Registry, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		registry: registry,
		logger:   logger,
		items:    make(map[string]*schedulableItem),
		Now:      time.Now,
	}
}

// UpdateWorkingItems reconciles the item set with the latest discovery
// snapshot. Known containers keep their lastProcessed; containers absent
// from the snapshot are removed.
func (s *Scheduler) UpdateWorkingItems(containers []types.ScannerContainer) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.generation++

	for _, container := range containers {
		if item, ok := s.items[container.Name]; ok {
			item.container = container
			item.generation = s.generation
			continue
		}

		s.items[container.Name] = &schedulableItem{
			container:  container,
			generation: s.generation,
		}
		s.logger.WithFields(logrus.Fields{
			"container": container.Name,
			"scanner":   container.ScannerID(),
		}).Info("Added scanner container")
	}

	for name, item := range s.items {
		if item.generation != s.generation {
			delete(s.items, name)
			s.logger.WithField("container", name).Info("Removed vanished scanner container")
		}
	}
}

// ItemCount returns the current amount of schedulable items.
func (s *Scheduler) ItemCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return len(s.items)
}

// Run dispatches due items until the context is cancelled. Per-item
// failures are logged and the loop continues; an unknown scanner type
// terminates the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("Starting scheduler dispatch loop")

	for {
		item, due := s.nextDue()

		var wait time.Duration
		switch {
		case item == nil:
			wait = idleSleep
		case due.After(s.Now()):
			wait = time.Until(due)
			if wait > idleSleep {
				wait = idleSleep
			}
		}

		if wait > 0 {
			select {
			case <-ctx.Done():
				s.logger.Info("Scheduler stopping")
				return nil
			case <-time.After(wait):
			}
			continue
		}

		if err := s.dispatch(ctx, item); err != nil {
			return err
		}
		if ctx.Err() != nil {
			s.logger.Info("Scheduler stopping")
			return nil
		}
	}
}

// nextDue returns a copy-safe pointer to the item with the earliest next
// processing time.
func (s *Scheduler) nextDue() (*schedulableItem, time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var earliest *schedulableItem
	var earliestAt time.Time
	for _, item := range s.items {
		at := item.nextProcessingTime()
		if earliest == nil || at.Before(earliestAt) {
			earliest = item
			earliestAt = at
		}
	}

	return earliest, earliestAt
}

// dispatch runs the matching normalizer for one item. The item's
// lastProcessed is set when processing completes, so the next run is
// scheduled a full period after the previous one finished. It advances even
// on failure, otherwise a persistently broken container would be retried in
// a hot loop.
func (s *Scheduler) dispatch(ctx context.Context, item *schedulableItem) error {
	s.mutex.Lock()
	container := item.container
	s.mutex.Unlock()

	n, ok := s.registry.Get(container.Metadata.Type)
	if !ok {
		return fmt.Errorf("no normalizer registered for scanner type %q", container.Metadata.Type)
	}

	err := n.Process(ctx, container)

	s.mutex.Lock()
	item.lastProcessed = s.Now()
	s.mutex.Unlock()

	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"container": container.Name,
			"scanner":   container.ScannerID(),
		}).Error("Failed to process scanner container")
	}

	return nil
}
