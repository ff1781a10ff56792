// ABOUTME: In-memory blob storage used in mock mode and package tests.
// ABOUTME: Stores blobs in a flat path-keyed map with a processed-marker set.

package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/deepnetworkgmbh/joseki-sub000/internal/types"
)

// MemoryStorage implements BlobStorage on plain maps.
type MemoryStorage struct {
	mutex     sync.Mutex
	blobs     map[string][]byte
	processed map[string]bool
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		blobs:     make(map[string][]byte),
		processed: make(map[string]bool),
	}
}

// Put uploads a blob under the given path.
func (s *MemoryStorage) Put(path string, data []byte) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.blobs[path] = data
}

// IsProcessed reports whether the blob carries the processed marker.
func (s *MemoryStorage) IsProcessed(path string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.processed[path]
}

// ListAllContainers implements BlobStorage.
func (s *MemoryStorage) ListAllContainers(_ context.Context) ([]string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	seen := make(map[string]bool)
	var containers []string
	for path := range s.blobs {
		name, _, ok := strings.Cut(path, "/")
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		containers = append(containers, name)
	}
	sort.Strings(containers)

	return containers, nil
}

// GetUnprocessedAudits implements BlobStorage.
func (s *MemoryStorage) GetUnprocessedAudits(_ context.Context, container types.ScannerContainer) ([]types.AuditBlob, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	prefix := container.Name + "/"

	var paths []string
	for path := range s.blobs {
		if strings.HasPrefix(path, prefix) &&
			strings.HasSuffix(path, "/"+AuditMetadataFileName) &&
			!s.processed[path] {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)

	audits := make([]types.AuditBlob, 0, len(paths))
	for _, path := range paths {
		audits = append(audits, types.AuditBlob{
			Name:   strings.TrimPrefix(path, prefix),
			Parent: container,
		})
	}

	return audits, nil
}

// DownloadFile implements BlobStorage.
func (s *MemoryStorage) DownloadFile(_ context.Context, path string) ([]byte, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	data, ok := s.blobs[path]
	if !ok {
		return nil, fmt.Errorf("blob %s does not exist", path)
	}

	return data, nil
}

// MarkAsProcessed implements BlobStorage.
func (s *MemoryStorage) MarkAsProcessed(_ context.Context, blob types.AuditBlob) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	path := blob.Path()
	if _, ok := s.blobs[path]; !ok {
		return fmt.Errorf("blob %s does not exist", path)
	}
	s.processed[path] = true

	return nil
}
