// ABOUTME: Image-scan model: CVEs, severities, and scan results.
// ABOUTME: Maps scan outcomes onto check values for the cluster audits.

package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// CveSeverity ranks a vulnerability. The order matters: everything at
// Medium or above turns an image check into a failure.
type CveSeverity int

const (
	CveUnknown CveSeverity = iota
	CveLow
	CveMedium
	CveHigh
	CveCritical
)

func (s CveSeverity) String() string {
	switch s {
	case CveCritical:
		return "Critical"
	case CveHigh:
		return "High"
	case CveMedium:
		return "Medium"
	case CveLow:
		return "Low"
	default:
		return "Unknown"
	}
}

// CVE is a single vulnerability definition. Like checks, CVEs are reference
// data: the external id (e.g. "CVE-2019-19242") is globally unique and the
// database assigns a surrogate integer id on first insert.
type CVE struct {
	// ID is the external CVE identifier.
	ID          string
	Severity    CveSeverity
	PackageName string
	Title       string
	Description string
	Remediation string
	References  string
	DateUpdated time.Time
}

// ImageScanStatus is the lifecycle state of an image scan.
type ImageScanStatus int

const (
	// ScanQueued means the scan request was enqueued but no result arrived yet.
	ScanQueued ImageScanStatus = iota
	// ScanFailed means the image scanner could not scan the image.
	ScanFailed
	// ScanSucceeded means the scan finished. It does not mean the image is clean.
	ScanSucceeded
)

func (s ImageScanStatus) String() string {
	switch s {
	case ScanFailed:
		return "Failed"
	case ScanSucceeded:
		return "Succeeded"
	default:
		return "Queued"
	}
}

// ImageScanToCve links one scan to one found CVE occurrence.
type ImageScanToCve struct {
	// InternalCveID references the CVE row assigned by the reference cache.
	InternalCveID int64
	CveID         string
	Severity      CveSeverity

	// Target is the scanned artifact inside the image: the OS package set
	// or an application dependency file.
	Target string

	UsedPackageVersion string
}

// VulnerabilityCounter is the amount of found CVEs of one severity.
type VulnerabilityCounter struct {
	Severity CveSeverity
	Count    int
}

// ImageScanResult is the scan verdict for one image tag. A Queued
// placeholder is created when the cluster audit references an unscanned
// image; the trivy normalizer later updates the row in place.
type ImageScanResult struct {
	// ID is the scanner-assigned scan identifier, or a generated one for
	// Queued placeholders.
	ID string

	// ImageTag is the full image reference, e.g.
	// "mcr.microsoft.com/dotnet/core/sdk:3.1.101-alpine3.10".
	ImageTag string

	Date   time.Time
	Status ImageScanStatus

	// Description carries the human-readable failure reason for failed scans.
	Description string

	FoundCVEs []ImageScanToCve
}

// Counters aggregates found CVEs by severity, most severe first.
func (r *ImageScanResult) Counters() []VulnerabilityCounter {
	bysev := make(map[CveSeverity]int)
	for _, cve := range r.FoundCVEs {
		bysev[cve.Severity]++
	}

	counters := make([]VulnerabilityCounter, 0, len(bysev))
	for severity, count := range bysev {
		counters = append(counters, VulnerabilityCounter{Severity: severity, Count: count})
	}
	sort.Slice(counters, func(i, j int) bool { return counters[i].Severity > counters[j].Severity })

	return counters
}

// CheckResultValue maps the scan onto a check verdict. Low and Unknown
// severity issues are not treated as failures.
func (r *ImageScanResult) CheckResultValue() CheckValue {
	switch r.Status {
	case ScanQueued:
		return InProgress
	case ScanFailed:
		return NoData
	case ScanSucceeded:
		for _, counter := range r.Counters() {
			if counter.Count > 0 && counter.Severity >= CveMedium {
				return Failed
			}
		}
		return Succeeded
	default:
		return NoData
	}
}

// CheckResultMessage composes a short human-readable scan summary with
// format "{count-1} {severity-1}; {count-2} {severity-2}; ...".
func (r *ImageScanResult) CheckResultMessage() string {
	if r.Status == ScanQueued {
		return "The scan is in progress"
	}

	if r.Status == ScanFailed {
		if r.Description != "" {
			return r.Description
		}
		return "The image scan failed"
	}

	counters := r.Counters()
	if len(counters) == 0 {
		return "No issues"
	}

	parts := make([]string, 0, len(counters))
	for _, counter := range counters {
		if counter.Count > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counter.Count, counter.Severity))
		}
	}
	if len(parts) == 0 {
		return "No issues"
	}

	return strings.Join(parts, "; ")
}
