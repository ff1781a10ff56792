// ABOUTME: Normalizer for azure subscription audits (azsk scanner).
// ABOUTME: Maps per-control scan results onto subscription and resource checks.

package normalizer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/deepnetworkgmbh/joseki-sub000/internal/database"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/metrics"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/storage"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/types"
)

// azskControlResult is one control verdict in an azsk result file.
type azskControlResult struct {
	ControlID      string `json:"control-id"`
	FeatureName    string `json:"feature-name"`
	Status         string `json:"status"`
	Description    string `json:"description"`
	Recommendation string `json:"recommendation"`
	Severity       string `json:"severity"`

	// Resource fields are empty for subscription-level controls.
	ResourceGroup string `json:"resource-group"`
	ResourceType  string `json:"resource-type"`
	ResourceName  string `json:"resource-name"`
}

// azskScanResult is the shape of one azsk result file.
type azskScanResult struct {
	SubscriptionID string              `json:"subscription-id"`
	Results        []azskControlResult `json:"scan-results"`
}

// AzskNormalizer ingests azsk audits into subscription-scoped check results.
type AzskNormalizer struct {
	storage storage.BlobStorage
	db      database.Database
	checks  ChecksCache
	scores  ScoreInvalidator
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

// NewAzskNormalizer wires the azsk ingester.
func NewAzskNormalizer(
	store storage.BlobStorage,
	db database.Database,
	checks ChecksCache,
	scores ScoreInvalidator,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *AzskNormalizer {
	return &AzskNormalizer{storage: store, db: db, checks: checks, scores: scores, metrics: m, logger: logger}
}

// Process implements Normalizer.
func (n *AzskNormalizer) Process(ctx context.Context, container types.ScannerContainer) error {
	return processContainer(ctx, n.storage, n.metrics, n.logger, container, n.ingest)
}

func (n *AzskNormalizer) ingest(ctx context.Context, blob types.AuditBlob, meta *auditMetadata) error {
	if !meta.Succeeded() {
		n.logger.WithFields(logrus.Fields{
			"audit_id": meta.AuditID,
			"reason":   meta.FailureDescription,
		}).Warn("Skipping failed azsk audit")
		return nil
	}

	var results []azskScanResult
	var payloads []json.RawMessage
	for _, path := range meta.AzskAuditPaths {
		// Result paths are relative to the scanner container.
		raw, err := n.storage.DownloadFile(ctx, blob.Parent.Name+"/"+path)
		if err != nil {
			return fmt.Errorf("failed to download azsk result %s: %w", path, err)
		}

		result := azskScanResult{}
		if err := json.Unmarshal(raw, &result); err != nil {
			return fmt.Errorf("failed to parse azsk result %s: %w", path, err)
		}

		results = append(results, result)
		payloads = append(payloads, json.RawMessage(raw))
	}

	if len(results) == 0 {
		return fmt.Errorf("azsk audit %s references no result files", meta.AuditID)
	}

	subscriptionID := results[0].SubscriptionID
	audit := &types.Audit{
		ID:            meta.AuditID,
		Date:          meta.Date(),
		ScannerID:     blob.Parent.ScannerID(),
		ComponentID:   types.SubscriptionComponentID(subscriptionID),
		ComponentName: "Subscription " + subscriptionID,
		MetadataKind:  types.MetadataAzure,
	}

	for _, result := range results {
		for _, control := range result.Results {
			checkResult, err := n.normalizeControl(ctx, result.SubscriptionID, control)
			if err != nil {
				return err
			}
			audit.CheckResults = append(audit.CheckResults, *checkResult)
		}
	}

	metadata, err := json.Marshal(payloads)
	if err != nil {
		return fmt.Errorf("failed to marshal azsk audit metadata: %w", err)
	}
	audit.Metadata = metadata

	if err := n.db.SaveAuditResult(ctx, audit); err != nil {
		return fmt.Errorf("failed to save azsk audit %s: %w", audit.ID, err)
	}
	n.metrics.AuditSaved(string(types.ScannerAzsk))
	n.scores.Invalidate(audit.ComponentID, audit.Date)

	n.logger.WithFields(logrus.Fields{
		"audit_id":  audit.ID,
		"component": audit.ComponentID,
		"checks":    len(audit.CheckResults),
	}).Info("Ingested azsk audit")

	return nil
}

func (n *AzskNormalizer) normalizeControl(ctx context.Context, subscriptionID string, control azskControlResult) (*types.CheckResult, error) {
	externalID := "azsk." + control.FeatureName

	internalID, err := n.checks.GetOrAdd(ctx, externalID, func() *types.Check {
		return &types.Check{
			ID:          externalID,
			Category:    "Azure Security",
			Severity:    azskSeverity(control.Severity),
			Description: control.Description,
			Remediation: control.Recommendation,
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve check %s: %w", externalID, err)
	}

	componentID := types.SubscriptionComponentID(subscriptionID)
	if control.ResourceName != "" {
		componentID = types.AzureResourceComponentID(
			subscriptionID, control.ResourceGroup, control.ResourceType, control.ResourceName)
	}

	return &types.CheckResult{
		InternalCheckID: internalID,
		ExternalCheckID: externalID,
		ComponentID:     componentID,
		Value:           azskCheckValue(control.Status),
		Message:         control.ControlID,
	}, nil
}

// azskCheckValue maps azsk control statuses onto check values. Verify and
// Manual both mean a human has to look, which is no data for scoring.
func azskCheckValue(status string) types.CheckValue {
	switch strings.ToLower(status) {
	case "passed":
		return types.Succeeded
	case "failed", "error":
		return types.Failed
	default:
		return types.NoData
	}
}

func azskSeverity(severity string) types.CheckSeverity {
	switch strings.ToLower(severity) {
	case "critical":
		return types.SeverityCritical
	case "high":
		return types.SeverityHigh
	case "medium":
		return types.SeverityMedium
	case "low":
		return types.SeverityLow
	default:
		return types.SeverityUnknown
	}
}
