// ABOUTME: Audit post-processor extracting component ownership from labels.

package normalizer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/deepnetworkgmbh/joseki-sub000/internal/database"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/types"
)

// OwnerLabel is the workload label that assigns a responsible owner.
const OwnerLabel = "owner"

// OwnershipExtractor implements AuditPostProcessor. It reads the owner label
// of every workload in the cluster metadata and upserts the mapping, so the
// UI can group findings by team.
type OwnershipExtractor struct {
	db     database.Database
	logger *logrus.Logger
}

// NewOwnershipExtractor wires the extractor.
func NewOwnershipExtractor(db database.Database, logger *logrus.Logger) *OwnershipExtractor {
	return &OwnershipExtractor{db: db, logger: logger}
}

// ProcessAudit implements AuditPostProcessor. Only kubernetes audits carry
// workload labels; other audits pass through untouched.
func (e *OwnershipExtractor) ProcessAudit(ctx context.Context, audit *types.Audit) error {
	if audit.MetadataKind != types.MetadataKube {
		return nil
	}

	kubeMeta := kubeMetadata{}
	if err := json.Unmarshal(audit.Metadata, &kubeMeta); err != nil {
		return fmt.Errorf("failed to parse cluster metadata of audit %s: %w", audit.ID, err)
	}

	var owners []database.ComponentOwner
	for _, w := range kubeMeta.workloads() {
		owner := w.Labels[OwnerLabel]
		if owner == "" {
			continue
		}
		owners = append(owners, database.ComponentOwner{
			ComponentID: w.componentID(kubeMeta.ClusterID),
			Owner:       owner,
		})
	}
	if len(owners) == 0 {
		return nil
	}

	if err := e.db.SaveComponentOwners(ctx, owners); err != nil {
		return fmt.Errorf("failed to save component owners: %w", err)
	}

	e.logger.WithFields(logrus.Fields{
		"audit_id": audit.ID,
		"owners":   len(owners),
	}).Debug("Extracted component ownership")

	return nil
}
