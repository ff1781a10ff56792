// ABOUTME: S3-compatible blob storage adapter built on minio-go.
// ABOUTME: Maps root-level prefixes of one bucket onto scanner containers.

package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"github.com/deepnetworkgmbh/joseki-sub000/internal/config"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/types"
)

// MinioStorage implements BlobStorage against any S3-compatible endpoint.
type MinioStorage struct {
	client *minio.Client
	bucket string
	logger *logrus.Logger
}

// NewMinioStorage connects to the endpoint and verifies the bucket exists.
func NewMinioStorage(ctx context.Context, cfg config.BlobStorageConfig, logger *logrus.Logger) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create blob storage client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", cfg.Bucket)
	}

	return &MinioStorage{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// ListAllContainers implements BlobStorage.
func (s *MinioStorage) ListAllContainers(ctx context.Context) ([]string, error) {
	var containers []string

	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{}) {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list containers: %w", object.Err)
		}
		// Non-recursive listing returns prefixes with a trailing slash.
		if strings.HasSuffix(object.Key, "/") {
			containers = append(containers, strings.TrimSuffix(object.Key, "/"))
		}
	}

	return containers, nil
}

// GetUnprocessedAudits implements BlobStorage. Audit folders are complete
// once their metadata file exists, so only those files are inspected.
func (s *MinioStorage) GetUnprocessedAudits(ctx context.Context, container types.ScannerContainer) ([]types.AuditBlob, error) {
	prefix := container.Name + "/"

	var audits []types.AuditBlob
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:       prefix,
		Recursive:    true,
		WithMetadata: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("failed to list audits of %s: %w", container.Name, object.Err)
		}
		if !strings.HasSuffix(object.Key, "/"+AuditMetadataFileName) {
			continue
		}
		if isProcessed(object.UserMetadata) {
			continue
		}

		audits = append(audits, types.AuditBlob{
			Name:   strings.TrimPrefix(object.Key, prefix),
			Parent: container,
		})
	}

	return audits, nil
}

func isProcessed(metadata map[string]string) bool {
	for key := range metadata {
		if strings.EqualFold(key, ProcessedMetadataKey) ||
			strings.EqualFold(key, "X-Amz-Meta-"+ProcessedMetadataKey) {
			return true
		}
	}

	return false
}

// DownloadFile implements BlobStorage.
func (s *MinioStorage) DownloadFile(ctx context.Context, path string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %s: %w", path, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", path, err)
	}

	return data, nil
}

// MarkAsProcessed implements BlobStorage. Object metadata is immutable in
// S3, so the marker is applied through a self-copy.
func (s *MinioStorage) MarkAsProcessed(ctx context.Context, blob types.AuditBlob) error {
	path := blob.Path()

	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{
			Bucket: s.bucket,
			Object: path,
			UserMetadata: map[string]string{
				ProcessedMetadataKey: time.Now().UTC().Format(time.RFC3339),
			},
			ReplaceMetadata: true,
		},
		minio.CopySrcOptions{Bucket: s.bucket, Object: path})
	if err != nil {
		return fmt.Errorf("failed to mark blob %s as processed: %w", path, err)
	}

	s.logger.WithField("blob", path).Debug("Marked audit as processed")

	return nil
}
