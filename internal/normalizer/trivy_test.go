// ABOUTME: Tests for the trivy normalizer: CVE resolution, dedup, failures.

package normalizer

import (
	"context"
	"testing"

	"github.com/deepnetworkgmbh/joseki-sub000/internal/types"
)

const trivyMeta = `{
	"audit-id": "scan-1",
	"timestamp": 1788004800,
	"audit-result": "succeeded",
	"image-tag": "nginx:1.17",
	"trivy-audit-path": "20260829/scan.json"
}`

// Two targets with 12 findings overall: 1 critical, 4 high, 4 medium,
// 2 low, 1 unknown. One finding is repeated inside a target.
const trivyPayload = `[
	{
		"Target": "nginx:1.17 (debian 9.9)",
		"Vulnerabilities": [
			{"VulnerabilityID": "CVE-2026-0001", "PkgName": "libssl1.1", "InstalledVersion": "1.1.0k", "FixedVersion": "1.1.0l", "Severity": "CRITICAL"},
			{"VulnerabilityID": "CVE-2026-0002", "PkgName": "bash", "InstalledVersion": "4.4", "Severity": "HIGH"},
			{"VulnerabilityID": "CVE-2026-0003", "PkgName": "coreutils", "InstalledVersion": "8.26", "Severity": "HIGH"},
			{"VulnerabilityID": "CVE-2026-0004", "PkgName": "curl", "InstalledVersion": "7.52", "Severity": "HIGH"},
			{"VulnerabilityID": "CVE-2026-0004", "PkgName": "curl", "InstalledVersion": "7.52", "Severity": "HIGH"},
			{"VulnerabilityID": "CVE-2026-0005", "PkgName": "git", "InstalledVersion": "2.11", "Severity": "HIGH"},
			{"VulnerabilityID": "CVE-2026-0006", "PkgName": "perl", "InstalledVersion": "5.24", "Severity": "MEDIUM"},
			{"VulnerabilityID": "CVE-2026-0007", "PkgName": "tar", "InstalledVersion": "1.29", "Severity": "MEDIUM"},
			{"VulnerabilityID": "CVE-2026-0008", "PkgName": "wget", "InstalledVersion": "1.18", "Severity": "LOW"}
		]
	},
	{
		"Target": "app/package-lock.json",
		"Vulnerabilities": [
			{"VulnerabilityID": "CVE-2026-0009", "PkgName": "lodash", "InstalledVersion": "4.17.11", "Severity": "MEDIUM"},
			{"VulnerabilityID": "CVE-2026-0010", "PkgName": "minimist", "InstalledVersion": "1.2.0", "Severity": "MEDIUM"},
			{"VulnerabilityID": "CVE-2026-0011", "PkgName": "yargs", "InstalledVersion": "13.2.2", "Severity": "LOW"},
			{"VulnerabilityID": "CVE-2026-0012", "PkgName": "acorn", "InstalledVersion": "6.1.1", "Severity": "UNKNOWN"}
		]
	}
]`

func seedInProgressAudit(t *testing.T, f *fixture, imageTag string) {
	t.Helper()

	audit := &types.Audit{
		ID:          "cluster-audit",
		Date:        f.db.Now(),
		ComponentID: "/k8s/cluster-1",
		CheckResults: []types.CheckResult{
			{
				InternalCheckID: f.checks.GetImageScanCheck(),
				ExternalCheckID: types.ImageScanCheckID,
				ComponentID:     types.ImageComponentID("/k8s/cluster-1/ns/web/deployment/api/container/api", imageTag),
				Value:           types.InProgress,
				Message:         "The scan is in progress",
			},
		},
	}
	if err := f.db.SaveAuditResult(context.Background(), audit); err != nil {
		t.Fatalf("SaveAuditResult() error = %v", err)
	}

	placeholder := &types.ImageScanResult{ID: "scan-1", ImageTag: imageTag, Date: f.db.Now(), Status: types.ScanQueued}
	if err := f.db.SaveInProgressImageScan(context.Background(), placeholder); err != nil {
		t.Fatalf("SaveInProgressImageScan() error = %v", err)
	}
}

func TestTrivyResolvesAndDeduplicatesCVEs(t *testing.T) {
	f := newFixture(t)
	f.storage.Put("trivy-scanner/20260829/meta", []byte(trivyMeta))
	f.storage.Put("trivy-scanner/20260829/scan.json", []byte(trivyPayload))
	seedInProgressAudit(t, f, "nginx:1.17")

	n := NewTrivyNormalizer(f.storage, f.db, f.cves, f.metrics, f.logger)
	if err := n.Process(context.Background(), f.container(types.ScannerTrivy, "trivy-scanner")); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	scans := f.db.ImageScans()
	if len(scans) != 1 {
		t.Fatalf("stored %d scans, want the updated placeholder only", len(scans))
	}
	scan := scans[0]

	if scan.Status != types.ScanSucceeded {
		t.Errorf("status = %v, want Succeeded", scan.Status)
	}
	if len(scan.FoundCVEs) != 12 {
		t.Errorf("found %d CVEs, want 12 after dedup", len(scan.FoundCVEs))
	}

	wantCounts := map[types.CveSeverity]int{
		types.CveCritical: 1, types.CveHigh: 4, types.CveMedium: 4, types.CveLow: 2, types.CveUnknown: 1,
	}
	for _, counter := range scan.Counters() {
		if counter.Count != wantCounts[counter.Severity] {
			t.Errorf("%s count = %d, want %d", counter.Severity, counter.Count, wantCounts[counter.Severity])
		}
	}

	// The waiting check result must flip to Failed: Medium and above found.
	result := f.db.Audits()[0].CheckResults[0]
	if result.Value != types.Failed {
		t.Errorf("check value = %v, want Failed", result.Value)
	}
	if result.Message != "1 Critical; 4 High; 4 Medium; 2 Low; 1 Unknown" {
		t.Errorf("check message = %q", result.Message)
	}
}

func TestTrivyFailedScan(t *testing.T) {
	tests := []struct {
		name        string
		description string
		want        string
	}{
		{"registry denied access", "GET https://registry.io/v2/app/manifests/1.0: unexpected status code 401 Unauthorized", "The scanner is not authorized to pull the image"},
		{"unsupported os", "failed analysis: unknown OS", "The image operating system is not supported"},
		{"anything else", "context deadline exceeded", "Unknown scan error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.storage.Put("trivy-scanner/20260829/meta", []byte(`{
				"audit-id": "scan-1",
				"timestamp": 1788004800,
				"audit-result": "failed",
				"failure-description": "`+tt.description+`",
				"image-tag": "nginx:1.17"
			}`))
			seedInProgressAudit(t, f, "nginx:1.17")

			n := NewTrivyNormalizer(f.storage, f.db, f.cves, f.metrics, f.logger)
			if err := n.Process(context.Background(), f.container(types.ScannerTrivy, "trivy-scanner")); err != nil {
				t.Fatalf("Process() error = %v", err)
			}

			scan := f.db.ImageScans()[0]
			if scan.Status != types.ScanFailed {
				t.Errorf("status = %v, want Failed", scan.Status)
			}
			if scan.Description != tt.want {
				t.Errorf("description = %q, want %q", scan.Description, tt.want)
			}

			// A failed scan yields no verdict for the image check.
			result := f.db.Audits()[0].CheckResults[0]
			if result.Value != types.NoData {
				t.Errorf("check value = %v, want NoData", result.Value)
			}
		})
	}
}
