// ABOUTME: In-memory queue used in mock mode and package tests.

package queue

import (
	"context"
	"sync"
)

// MemoryQueue implements Queue by recording every request.
type MemoryQueue struct {
	mutex    sync.Mutex
	requests []ScanRequestPayload
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// EnqueueImageScanRequest implements Queue.
func (q *MemoryQueue) EnqueueImageScanRequest(_ context.Context, imageTag, scanID string) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.requests = append(q.requests, ScanRequestPayload{
		ImageFullName: imageTag,
		ImageScanID:   scanID,
	})

	return nil
}

// Requests returns a snapshot of everything enqueued so far.
func (q *MemoryQueue) Requests() []ScanRequestPayload {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	snapshot := make([]ScanRequestPayload, len(q.requests))
	copy(snapshot, q.requests)

	return snapshot
}
