// ABOUTME: Tests for scheduler reconciliation and the dispatch loop.

package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deepnetworkgmbh/joseki-sub000/internal/normalizer"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

type stubNormalizer struct {
	mu        sync.Mutex
	calls     []string
	err       error
	processed chan string
}

func (s *stubNormalizer) Process(_ context.Context, container types.ScannerContainer) error {
	s.mu.Lock()
	s.calls = append(s.calls, container.Name)
	s.mu.Unlock()

	if s.processed != nil {
		s.processed <- container.Name
	}
	return s.err
}

func (s *stubNormalizer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func container(name string, scannerType types.ScannerType, periodicity string) types.ScannerContainer {
	return types.ScannerContainer{
		Name: name,
		Metadata: types.ScannerMetadata{
			Type:        scannerType,
			ID:          name,
			Periodicity: periodicity,
		},
	}
}

func TestUpdateWorkingItemsPreservesLastProcessed(t *testing.T) {
	s := NewScheduler(normalizer.NewRegistry(), testLogger())

	a := container("azsk-a", types.ScannerAzsk, "0 * * * *")
	b := container("polaris-b", types.ScannerPolaris, "on-message")

	s.UpdateWorkingItems([]types.ScannerContainer{a})

	processedAt := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	s.items[a.Name].lastProcessed = processedAt

	s.UpdateWorkingItems([]types.ScannerContainer{a, b})

	if got := s.items[a.Name].lastProcessed; !got.Equal(processedAt) {
		t.Errorf("lastProcessed = %v, want preserved %v", got, processedAt)
	}
	if !s.items[b.Name].lastProcessed.IsZero() {
		t.Errorf("new item lastProcessed = %v, want zero", s.items[b.Name].lastProcessed)
	}
	if s.ItemCount() != 2 {
		t.Errorf("ItemCount() = %d, want 2", s.ItemCount())
	}
}

func TestUpdateWorkingItemsRemovesVanishedContainers(t *testing.T) {
	s := NewScheduler(normalizer.NewRegistry(), testLogger())

	a := container("azsk-a", types.ScannerAzsk, "0 * * * *")
	b := container("polaris-b", types.ScannerPolaris, "on-message")

	s.UpdateWorkingItems([]types.ScannerContainer{a, b})
	s.UpdateWorkingItems([]types.ScannerContainer{b})

	if _, ok := s.items[a.Name]; ok {
		t.Error("vanished container still schedulable")
	}
	if _, ok := s.items[b.Name]; !ok {
		t.Error("surviving container lost")
	}
}

func TestNextProcessingTime(t *testing.T) {
	processedAt := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	onMessage := &schedulableItem{
		container:     container("trivy-c", types.ScannerTrivy, "on-message"),
		lastProcessed: processedAt,
	}
	if got := onMessage.nextProcessingTime(); !got.Equal(processedAt.Add(time.Minute)) {
		t.Errorf("on-message next = %v, want +1m", got)
	}

	scheduled := &schedulableItem{
		container:     container("azsk-a", types.ScannerAzsk, "0 * * * *"),
		lastProcessed: processedAt,
	}
	if got := scheduled.nextProcessingTime(); !got.Equal(processedAt.Add(time.Hour)) {
		t.Errorf("scheduled next = %v, want +1h", got)
	}
}

func TestRunDispatchesDueItemsAndSurvivesFailures(t *testing.T) {
	stub := &stubNormalizer{err: errors.New("boom"), processed: make(chan string, 4)}
	registry := normalizer.NewRegistry()
	registry.Register(types.ScannerPolaris, stub)

	s := NewScheduler(registry, testLogger())
	s.UpdateWorkingItems([]types.ScannerContainer{
		container("polaris-a", types.ScannerPolaris, "on-message"),
		container("polaris-b", types.ScannerPolaris, "on-message"),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	seen := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case name := <-stub.processed:
			seen[name] = true
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for dispatches")
		}
	}
	cancel()

	if err := <-done; err != nil {
		t.Errorf("Run() error = %v, want nil on cancellation", err)
	}
	if !seen["polaris-a"] || !seen["polaris-b"] {
		t.Errorf("dispatched = %v, want both items despite the first failure", seen)
	}
}

func TestRunFailsOnUnknownScannerType(t *testing.T) {
	s := NewScheduler(normalizer.NewRegistry(), testLogger())
	s.UpdateWorkingItems([]types.ScannerContainer{
		container("mystery", types.ScannerType("mystery-scanner"), "on-message"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.Run(ctx)
	if err == nil {
		t.Fatal("Run() = nil, want a fatal error for the unknown scanner type")
	}
}

// clockNormalizer advances the scheduler's fake clock while processing, to
// make the dispatch duration observable.
type clockNormalizer struct {
	advance func()
	err     error
}

func (c *clockNormalizer) Process(_ context.Context, _ types.ScannerContainer) error {
	c.advance()
	return c.err
}

func TestDispatchTimestampsCompletionNotStart(t *testing.T) {
	start := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	finish := start.Add(45 * time.Second)

	for name, processErr := range map[string]error{
		"successful run": nil,
		"failing run":    errors.New("boom"),
	} {
		t.Run(name, func(t *testing.T) {
			now := start
			stub := &clockNormalizer{advance: func() { now = finish }, err: processErr}

			registry := normalizer.NewRegistry()
			registry.Register(types.ScannerPolaris, stub)

			s := NewScheduler(registry, testLogger())
			s.Now = func() time.Time { return now }
			s.UpdateWorkingItems([]types.ScannerContainer{
				container("polaris-a", types.ScannerPolaris, "on-message"),
			})

			if err := s.dispatch(context.Background(), s.items["polaris-a"]); err != nil {
				t.Fatalf("dispatch() error = %v", err)
			}

			if got := s.items["polaris-a"].lastProcessed; !got.Equal(finish) {
				t.Errorf("lastProcessed = %v, want completion time %v", got, finish)
			}
		})
	}
}
