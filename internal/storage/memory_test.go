// ABOUTME: Tests for the in-memory blob storage fake.

package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepnetworkgmbh/joseki-sub000/internal/types"
)

func TestMemoryStorageListAllContainers(t *testing.T) {
	store := NewMemoryStorage()
	store.Put("polaris-scanner/polaris-scanner", []byte(`{}`))
	store.Put("polaris-scanner/20260829/meta", []byte(`{}`))
	store.Put("azsk-scanner/azsk-scanner", []byte(`{}`))

	containers, err := store.ListAllContainers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"azsk-scanner", "polaris-scanner"}, containers)
}

func TestMemoryStorageUnprocessedAudits(t *testing.T) {
	store := NewMemoryStorage()
	container := types.ScannerContainer{Name: "polaris-scanner"}

	store.Put("polaris-scanner/20260828/meta", []byte(`{}`))
	store.Put("polaris-scanner/20260829/meta", []byte(`{}`))
	store.Put("polaris-scanner/20260829/audit.json", []byte(`{}`))
	store.Put("trivy-scanner/20260829/meta", []byte(`{}`))

	audits, err := store.GetUnprocessedAudits(context.Background(), container)
	require.NoError(t, err)
	require.Len(t, audits, 2, "only meta files of the requested container are audits")
	assert.Equal(t, "20260828/meta", audits[0].Name)
	assert.Equal(t, "20260829/meta", audits[1].Name)

	require.NoError(t, store.MarkAsProcessed(context.Background(), audits[0]))
	assert.True(t, store.IsProcessed("polaris-scanner/20260828/meta"))

	audits, err = store.GetUnprocessedAudits(context.Background(), container)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, "20260829/meta", audits[0].Name)
}

func TestMemoryStorageDownloadFile(t *testing.T) {
	store := NewMemoryStorage()
	store.Put("polaris-scanner/20260829/audit.json", []byte(`{"results":[]}`))

	data, err := store.DownloadFile(context.Background(), "polaris-scanner/20260829/audit.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"results":[]}`, string(data))

	_, err = store.DownloadFile(context.Background(), "polaris-scanner/missing")
	assert.Error(t, err)
}

func TestMemoryStorageMarkAsProcessedMissingBlob(t *testing.T) {
	store := NewMemoryStorage()
	blob := types.AuditBlob{
		Name:   "20260829/meta",
		Parent: types.ScannerContainer{Name: "polaris-scanner"},
	}

	assert.Error(t, store.MarkAsProcessed(context.Background(), blob))
}
