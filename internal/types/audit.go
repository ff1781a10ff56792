// ABOUTME: Canonical audit model shared across the ingestion pipeline.
// ABOUTME: Defines scanners, audits, checks, and check results.

package types

import (
	"fmt"
	"strings"
	"time"
)

// OverallComponentID identifies the synthesized pseudo-component that
// aggregates every audited component for a day.
const OverallComponentID = "/all"

// OverallComponentName is the human-friendly name of the overall pseudo-component.
const OverallComponentName = "Overall infrastructure"

// ImageScanCheckID is the well-known external id of the check every
// container-image scan result is attached to.
const ImageScanCheckID = "container_image.CVE_scan"

// ScannerType tells which scanner family produced an audit container.
type ScannerType string

const (
	// ScannerAzsk audits azure subscriptions.
	ScannerAzsk ScannerType = "azsk"
	// ScannerPolaris audits kubernetes cluster objects.
	ScannerPolaris ScannerType = "polaris"
	// ScannerTrivy scans container images for known CVEs.
	ScannerTrivy ScannerType = "trivy"
)

// ScannerMetadata is the heartbeat document every scanner keeps at the root
// of its container: identity, type, and execution cadence.
type ScannerMetadata struct {
	Type ScannerType `json:"type"`
	ID   string      `json:"id"`

	// Periodicity is either "on-message" or a cron expression.
	Periodicity string `json:"periodicity"`

	// HeartbeatPeriodicity is how often the scanner re-writes its metadata
	// file, in seconds.
	HeartbeatPeriodicity int64 `json:"heartbeat-periodicity"`

	// Heartbeat is the unix-epoch seconds value of the last scanner execution.
	Heartbeat int64 `json:"heartbeat"`
}

// ScannerContainer is a single root-level container in blob storage. One
// container belongs to exactly one scanner instance. Containers are
// ephemeral: the discovery loop rebuilds the set on every cycle.
type ScannerContainer struct {
	Name     string
	Metadata ScannerMetadata
}

// MetadataFilePath is the relative path to the scanner heartbeat file.
func (c ScannerContainer) MetadataFilePath() string {
	return fmt.Sprintf("%s/%s", c.Name, c.Name)
}

// ScannerID returns the canonical "{type}/{id}" scanner identifier stored
// on every audit.
func (c ScannerContainer) ScannerID() string {
	return fmt.Sprintf("%s/%s", c.Metadata.Type, c.Metadata.ID)
}

// AuditBlob points at one unprocessed audit metadata file inside a scanner
// container.
type AuditBlob struct {
	// Name of the metadata file, relative to the parent container.
	Name string

	Parent ScannerContainer
}

// Path returns the blob path relative to the storage root.
func (b AuditBlob) Path() string {
	return fmt.Sprintf("%s/%s", b.Parent.Name, b.Name)
}

// CheckValue is the outcome of a single check against a single component.
type CheckValue int

const (
	// NoData means the check produced no verdict: it needs a manual step or
	// the scanner could not evaluate it.
	NoData CheckValue = iota
	// Failed means the component does not satisfy the check.
	Failed
	// Succeeded means the component satisfies the check.
	Succeeded
	// InProgress means the verdict depends on an image scan that has not
	// finished yet. The check result is updated in place once it resolves.
	InProgress
)

func (v CheckValue) String() string {
	switch v {
	case Failed:
		return "Failed"
	case Succeeded:
		return "Succeeded"
	case InProgress:
		return "InProgress"
	default:
		return "NoData"
	}
}

// CheckSeverity ranks how important a failed check is.
type CheckSeverity int

const (
	SeverityUnknown CheckSeverity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s CheckSeverity) String() string {
	switch s {
	case SeverityCritical:
		return "Critical"
	case SeverityHigh:
		return "High"
	case SeverityMedium:
		return "Medium"
	case SeverityLow:
		return "Low"
	default:
		return "Unknown"
	}
}

// Check is a reusable rule definition referenced by many check results.
// The external string id is globally unique; the database assigns a
// surrogate integer id on first insert.
type Check struct {
	// ID is the external identifier with format "{scanner}.{check-id}".
	ID          string
	Category    string
	Severity    CheckSeverity
	Description string
	Remediation string
	DateUpdated time.Time
}

// CheckResult is one check verdict for one component at audit time.
type CheckResult struct {
	// InternalCheckID references the Check row assigned by the reference cache.
	InternalCheckID int64

	// ExternalCheckID duplicates the external check id for traceability.
	ExternalCheckID string

	// ComponentID is the hierarchical path of the audited component, e.g.
	// "/subscriptions/{sub}/resource_group/{rg}/{type}/{name}" or
	// "/k8s/{cluster}/ns/{ns}/{kind}/{name}/pod/{pod}/container/{c}/image/{tag}".
	ComponentID string

	Value   CheckValue
	Message string
}

// AuditMetadataKind tells which raw-metadata flavor an audit carries.
type AuditMetadataKind string

const (
	MetadataKube  AuditMetadataKind = "kube"
	MetadataAzure AuditMetadataKind = "azure"
)

// Audit is one normalized snapshot of check results for a component.
// Audits are immutable once persisted; deduplication to "latest per day"
// happens at read time.
type Audit struct {
	// ID is the scanner-assigned audit identifier.
	ID   string
	Date time.Time

	// ScannerID is "{scanner-type}/{scanner-instance-id}".
	ScannerID string

	ComponentID   string
	ComponentName string

	CheckResults []CheckResult

	// MetadataKind and Metadata carry the raw scanner document for later
	// post-processing. Metadata is a JSON blob.
	MetadataKind AuditMetadataKind
	Metadata     []byte
}

// SubscriptionComponentID builds the component path of an azure subscription.
func SubscriptionComponentID(subscriptionID string) string {
	return "/subscriptions/" + subscriptionID
}

// AzureResourceComponentID builds the component path of a single azure resource.
func AzureResourceComponentID(subscriptionID, resourceGroup, objectType, objectName string) string {
	return fmt.Sprintf("/subscriptions/%s/resource_group/%s/%s/%s",
		subscriptionID,
		strings.ToLower(resourceGroup),
		strings.ToLower(objectType),
		strings.ToLower(objectName))
}

// ClusterComponentID builds the component path of a kubernetes cluster.
func ClusterComponentID(clusterID string) string {
	return "/k8s/" + clusterID
}

// ObjectComponentID builds the component path of a kubernetes object.
func ObjectComponentID(clusterID, namespace, objectKind, objectName string) string {
	return fmt.Sprintf("/k8s/%s/ns/%s/%s/%s",
		clusterID,
		namespace,
		strings.ToLower(objectKind),
		strings.ToLower(objectName))
}

// ImageComponentID builds the component path of a container image reference.
// The path deliberately ends with the image tag: resolved image scans are
// matched back to in-progress check results by that suffix.
func ImageComponentID(objectComponentID, imageTag string) string {
	return fmt.Sprintf("%s/image/%s", objectComponentID, imageTag)
}
