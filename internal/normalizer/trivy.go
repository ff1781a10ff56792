// ABOUTME: Normalizer for container image scans (trivy scanner).
// ABOUTME: Resolves found CVEs through the reference cache and updates scan rows.

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

// trivyVulnerability is one finding in a trivy scan target.
type trivyVulnerability struct {
	VulnerabilityID  string   `json:"VulnerabilityID"`
	PkgName          string   `json:"PkgName"`
	InstalledVersion string   `json:"InstalledVersion"`
	FixedVersion     string   `json:"FixedVersion"`
	Title            string   `json:"Title"`
	Description      string   `json:"Description"`
	Severity         string   `json:"Severity"`
	References       []string `json:"References"`
}

// trivyTarget is one scanned artifact: the OS package set or a dependency file.
type trivyTarget struct {
	Target          string               `json:"Target"`
	Vulnerabilities []trivyVulnerability `json:"Vulnerabilities"`
}

// TrivyNormalizer ingests trivy scan results and resolves the Queued
// placeholders created by the cluster normalizer.
type TrivyNormalizer struct {
	storage storage.BlobStorage
	db      database.Database
	cves    CveCache
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

// NewTrivyNormalizer wires the trivy ingester.
func NewTrivyNormalizer(
	store storage.BlobStorage,
	db database.Database,
	cves CveCache,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *TrivyNormalizer {
	return &TrivyNormalizer{storage: store, db: db, cves: cves, metrics: m, logger: logger}
}

// Process implements Normalizer.
func (n *TrivyNormalizer) Process(ctx context.Context, container types.ScannerContainer) error {
	return processContainer(ctx, n.storage, n.metrics, n.logger, container, n.ingest)
}

func (n *TrivyNormalizer) ingest(ctx context.Context, blob types.AuditBlob, meta *auditMetadata) error {
	scan := &types.ImageScanResult{
		ID:       meta.AuditID,
		ImageTag: meta.ImageTag,
		Date:     meta.Date(),
	}

	// A failed scan is a result too: the placeholder has to stop being
	// InProgress even when the scanner could not pull the image.
	if !meta.Succeeded() {
		scan.Status = types.ScanFailed
		scan.Description = normalizeScanFailure(meta.FailureDescription)
	} else {
		raw, err := n.storage.DownloadFile(ctx, blob.Parent.Name+"/"+meta.TrivyAuditPath)
		if err != nil {
			return fmt.Errorf("failed to download trivy payload: %w", err)
		}

		var targets []trivyTarget
		if err := json.Unmarshal(raw, &targets); err != nil {
			return fmt.Errorf("failed to parse trivy payload: %w", err)
		}

		scan.Status = types.ScanSucceeded
		scan.FoundCVEs, err = n.resolveCVEs(ctx, targets)
		if err != nil {
			return err
		}
	}

	if err := n.db.SaveImageScanResult(ctx, scan); err != nil {
		return fmt.Errorf("failed to save image scan %s: %w", scan.ID, err)
	}
	n.metrics.AuditSaved(string(types.ScannerTrivy))

	n.logger.WithFields(logrus.Fields{
		"scan_id":   scan.ID,
		"image_tag": scan.ImageTag,
		"status":    scan.Status.String(),
		"cves":      len(scan.FoundCVEs),
	}).Info("Ingested image scan")

	return nil
}

// resolveCVEs maps trivy findings onto reference CVE rows, deduplicated per
// target, package, and CVE id. Trivy repeats a finding when several layers
// carry the same package.
func (n *TrivyNormalizer) resolveCVEs(ctx context.Context, targets []trivyTarget) ([]types.ImageScanToCve, error) {
	var found []types.ImageScanToCve
	seen := make(map[string]bool)

	for _, target := range targets {
		for _, vuln := range target.Vulnerabilities {
			key := target.Target + "|" + vuln.PkgName + "|" + vuln.VulnerabilityID
			if seen[key] {
				continue
			}
			seen[key] = true

			vuln := vuln
			internalID, err := n.cves.GetOrAdd(ctx, vuln.VulnerabilityID, func() *types.CVE {
				return &types.CVE{
					ID:          vuln.VulnerabilityID,
					Severity:    cveSeverity(vuln.Severity),
					PackageName: vuln.PkgName,
					Title:       vuln.Title,
					Description: vuln.Description,
					Remediation: cveRemediation(vuln),
					References:  strings.Join(vuln.References, "\n"),
				}
			})
			if err != nil {
				return nil, fmt.Errorf("failed to resolve cve %s: %w", vuln.VulnerabilityID, err)
			}

			found = append(found, types.ImageScanToCve{
				InternalCveID:      internalID,
				CveID:              vuln.VulnerabilityID,
				Severity:           cveSeverity(vuln.Severity),
				Target:             target.Target,
				UsedPackageVersion: vuln.InstalledVersion,
			})
		}
	}

	return found, nil
}

func cveRemediation(vuln trivyVulnerability) string {
	if vuln.FixedVersion == "" {
		return ""
	}

	return fmt.Sprintf("Update %s to version %s", vuln.PkgName, vuln.FixedVersion)
}

func cveSeverity(severity string) types.CveSeverity {
	switch strings.ToUpper(severity) {
	case "CRITICAL":
		return types.CveCritical
	case "HIGH":
		return types.CveHigh
	case "MEDIUM":
		return types.CveMedium
	case "LOW":
		return types.CveLow
	default:
		return types.CveUnknown
	}
}

// normalizeScanFailure maps raw trivy failure output onto a short
// human-readable description.
func normalizeScanFailure(raw string) string {
	lowered := strings.ToLower(raw)
	switch {
	case strings.Contains(lowered, "401") || strings.Contains(lowered, "unauthorized"):
		return "The scanner is not authorized to pull the image"
	case strings.Contains(lowered, "unknown os"):
		return "The image operating system is not supported"
	default:
		return "Unknown scan error"
	}
}
