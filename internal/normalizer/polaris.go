// ABOUTME: Normalizer for kubernetes cluster audits (polaris scanner).
// ABOUTME: Traverses object/pod/container results and enriches them with image scans.

package normalizer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"

	"github.com/deepnetworkgmbh/joseki-sub000/internal/database"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/metrics"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/queue"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/storage"
	"github.com/deepnetworkgmbh/joseki-sub000/internal/types"
)

// polarisCheck is one rule verdict in the polaris audit payload.
type polarisCheck struct {
	ID       string `json:"ID"`
	Message  string `json:"Message"`
	Success  bool   `json:"Success"`
	Severity string `json:"Severity"`
	Category string `json:"Category"`
}

type polarisContainerResult struct {
	Name    string                  `json:"Name"`
	Results map[string]polarisCheck `json:"Results"`
}

type polarisPodResult struct {
	Name             string                   `json:"Name"`
	Results          map[string]polarisCheck  `json:"Results"`
	ContainerResults []polarisContainerResult `json:"ContainerResults"`
}

type polarisResult struct {
	Name      string                  `json:"Name"`
	Namespace string                  `json:"Namespace"`
	Kind      string                  `json:"Kind"`
	Results   map[string]polarisCheck `json:"Results"`
	PodResult *polarisPodResult       `json:"PodResult"`
}

// polarisAudit is the shape of the polaris audit payload file.
type polarisAudit struct {
	SourceName string          `json:"SourceName"`
	Results    []polarisResult `json:"Results"`
}

// kubeMetadata is the cluster snapshot the scanner uploads next to the
// polaris payload. Workload specs are kubernetes API objects.
type kubeMetadata struct {
	ClusterID   string `json:"cluster-id"`
	ClusterName string `json:"cluster-name"`

	Deployments  []appsv1.Deployment  `json:"deployments"`
	StatefulSets []appsv1.StatefulSet `json:"stateful-sets"`
	DaemonSets   []appsv1.DaemonSet   `json:"daemon-sets"`
	Jobs         []batchv1.Job        `json:"jobs"`
	CronJobs     []batchv1.CronJob    `json:"cron-jobs"`
}

// workload is the flattened view of one cluster workload.
type workload struct {
	Kind      string
	Namespace string
	Name      string
	Labels    map[string]string
	PodSpec   corev1.PodSpec
}

func (m *kubeMetadata) workloads() []workload {
	var all []workload
	for _, d := range m.Deployments {
		all = append(all, workload{"Deployment", d.Namespace, d.Name, d.Labels, d.Spec.Template.Spec})
	}
	for _, s := range m.StatefulSets {
		all = append(all, workload{"StatefulSet", s.Namespace, s.Name, s.Labels, s.Spec.Template.Spec})
	}
	for _, d := range m.DaemonSets {
		all = append(all, workload{"DaemonSet", d.Namespace, d.Name, d.Labels, d.Spec.Template.Spec})
	}
	for _, j := range m.Jobs {
		all = append(all, workload{"Job", j.Namespace, j.Name, j.Labels, j.Spec.Template.Spec})
	}
	for _, c := range m.CronJobs {
		all = append(all, workload{"CronJob", c.Namespace, c.Name, c.Labels, c.Spec.JobTemplate.Spec.Template.Spec})
	}

	return all
}

func (w workload) componentID(clusterID string) string {
	return types.ObjectComponentID(clusterID, w.Namespace, w.Kind, w.Name)
}

// PolarisNormalizer ingests polaris audits into cluster-scoped check results.
type PolarisNormalizer struct {
	storage storage.BlobStorage
	db      database.Database
	checks  ChecksCache
	scores  ScoreInvalidator
	queue   queue.Queue
	post    AuditPostProcessor
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

// NewPolarisNormalizer wires the polaris ingester. post may be nil.
func NewPolarisNormalizer(
	store storage.BlobStorage,
	db database.Database,
	checks ChecksCache,
	scores ScoreInvalidator,
	q queue.Queue,
	post AuditPostProcessor,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *PolarisNormalizer {
	return &PolarisNormalizer{
		storage: store, db: db, checks: checks, scores: scores,
		queue: q, post: post, metrics: m, logger: logger,
	}
}

// Process implements Normalizer.
func (n *PolarisNormalizer) Process(ctx context.Context, container types.ScannerContainer) error {
	return processContainer(ctx, n.storage, n.metrics, n.logger, container, n.ingest)
}

func (n *PolarisNormalizer) ingest(ctx context.Context, blob types.AuditBlob, meta *auditMetadata) error {
	if !meta.Succeeded() {
		n.logger.WithFields(logrus.Fields{
			"audit_id": meta.AuditID,
			"reason":   meta.FailureDescription,
		}).Warn("Skipping failed polaris audit")
		return nil
	}

	rawAudit, err := n.storage.DownloadFile(ctx, blob.Parent.Name+"/"+meta.PolarisAuditPath)
	if err != nil {
		return fmt.Errorf("failed to download polaris payload: %w", err)
	}
	payload := polarisAudit{}
	if err := json.Unmarshal(rawAudit, &payload); err != nil {
		return fmt.Errorf("failed to parse polaris payload: %w", err)
	}

	rawMeta, err := n.storage.DownloadFile(ctx, blob.Parent.Name+"/"+meta.KubeMetaPath)
	if err != nil {
		return fmt.Errorf("failed to download cluster metadata: %w", err)
	}
	kubeMeta := kubeMetadata{}
	if err := json.Unmarshal(rawMeta, &kubeMeta); err != nil {
		return fmt.Errorf("failed to parse cluster metadata: %w", err)
	}

	clusterID := kubeMeta.ClusterID
	clusterName := kubeMeta.ClusterName
	if clusterName == "" {
		clusterName = payload.SourceName
	}

	audit := &types.Audit{
		ID:            meta.AuditID,
		Date:          meta.Date(),
		ScannerID:     blob.Parent.ScannerID(),
		ComponentID:   types.ClusterComponentID(clusterID),
		ComponentName: clusterName,
		MetadataKind:  types.MetadataKube,
		Metadata:      rawMeta,
	}

	for _, result := range payload.Results {
		objectID := types.ObjectComponentID(clusterID, result.Namespace, result.Kind, result.Name)

		if err := n.appendChecks(ctx, audit, objectID, result.Results); err != nil {
			return err
		}
		if result.PodResult == nil {
			continue
		}

		podID := objectID + "/pod/" + strings.ToLower(result.PodResult.Name)
		if err := n.appendChecks(ctx, audit, podID, result.PodResult.Results); err != nil {
			return err
		}

		for _, container := range result.PodResult.ContainerResults {
			containerID := podID + "/container/" + strings.ToLower(container.Name)
			if err := n.appendChecks(ctx, audit, containerID, container.Results); err != nil {
				return err
			}
		}
	}

	// Image scans are best-effort: a broken queue or scan store must not
	// lose the cluster audit itself.
	if err := n.enrichWithImageScans(ctx, audit, clusterID, &kubeMeta); err != nil {
		n.logger.WithError(err).WithField("audit_id", audit.ID).Error("Failed to enrich audit with image scans")
	}

	if n.post != nil {
		if err := n.post.ProcessAudit(ctx, audit); err != nil {
			n.logger.WithError(err).WithField("audit_id", audit.ID).Warn("Audit post-processing failed")
		}
	}

	if err := n.db.SaveAuditResult(ctx, audit); err != nil {
		return fmt.Errorf("failed to save polaris audit %s: %w", audit.ID, err)
	}
	n.metrics.AuditSaved(string(types.ScannerPolaris))
	n.scores.Invalidate(audit.ComponentID, audit.Date)

	n.logger.WithFields(logrus.Fields{
		"audit_id":  audit.ID,
		"component": audit.ComponentID,
		"checks":    len(audit.CheckResults),
	}).Info("Ingested polaris audit")

	return nil
}

func (n *PolarisNormalizer) appendChecks(ctx context.Context, audit *types.Audit, componentID string, checks map[string]polarisCheck) error {
	for _, check := range checks {
		externalID := "polaris." + check.ID
		internalID, err := n.checks.GetOrAdd(ctx, externalID, func() *types.Check {
			return &types.Check{
				ID:          externalID,
				Category:    check.Category,
				Severity:    polarisSeverity(check.Severity),
				Description: check.Message,
			}
		})
		if err != nil {
			return fmt.Errorf("failed to resolve check %s: %w", externalID, err)
		}

		value := types.Failed
		if check.Success {
			value = types.Succeeded
		}

		audit.CheckResults = append(audit.CheckResults, types.CheckResult{
			InternalCheckID: internalID,
			ExternalCheckID: externalID,
			ComponentID:     componentID,
			Value:           value,
			Message:         check.Message,
		})
	}

	return nil
}

// enrichWithImageScans adds one image-scan check result per container image
// used by the cluster workloads. Images without a fresh scan get a Queued
// placeholder, a scan request, and an InProgress result.
func (n *PolarisNormalizer) enrichWithImageScans(ctx context.Context, audit *types.Audit, clusterID string, kubeMeta *kubeMetadata) error {
	imageComponents := make(map[string][]string)
	for _, w := range kubeMeta.workloads() {
		objectID := w.componentID(clusterID)
		containers := append(w.PodSpec.InitContainers, w.PodSpec.Containers...)
		for _, container := range containers {
			if container.Image == "" {
				continue
			}
			componentID := types.ImageComponentID(objectID+"/container/"+strings.ToLower(container.Name), container.Image)
			imageComponents[container.Image] = append(imageComponents[container.Image], componentID)
		}
	}
	if len(imageComponents) == 0 {
		return nil
	}

	tags := make([]string, 0, len(imageComponents))
	for tag := range imageComponents {
		tags = append(tags, tag)
	}

	scans, err := n.db.GetNotExpiredImageScans(ctx, tags)
	if err != nil {
		return fmt.Errorf("failed to load image scans: %w", err)
	}
	byTag := make(map[string]*types.ImageScanResult, len(scans))
	for _, scan := range scans {
		byTag[scan.ImageTag] = scan
	}

	checkID := n.checks.GetImageScanCheck()
	for tag, componentIDs := range imageComponents {
		scan, ok := byTag[tag]
		if !ok {
			scan = n.requestScan(ctx, tag, audit.Date)
		}

		for _, componentID := range componentIDs {
			audit.CheckResults = append(audit.CheckResults, types.CheckResult{
				InternalCheckID: checkID,
				ExternalCheckID: types.ImageScanCheckID,
				ComponentID:     componentID,
				Value:           scan.CheckResultValue(),
				Message:         scan.CheckResultMessage(),
			})
		}
	}

	return nil
}

// requestScan creates a Queued placeholder and asks the scanner fleet for a
// fresh scan of the image.
func (n *PolarisNormalizer) requestScan(ctx context.Context, imageTag string, date time.Time) *types.ImageScanResult {
	scan := &types.ImageScanResult{
		ID:       uuid.NewString(),
		ImageTag: imageTag,
		Date:     date,
		Status:   types.ScanQueued,
	}

	if err := n.db.SaveInProgressImageScan(ctx, scan); err != nil {
		n.logger.WithError(err).WithField("image_tag", imageTag).Warn("Failed to save queued image scan")
	}

	if err := n.queue.EnqueueImageScanRequest(ctx, imageTag, scan.ID); err != nil {
		n.logger.WithError(err).WithField("image_tag", imageTag).Warn("Failed to enqueue image scan request")
	} else {
		n.metrics.ScanRequestEnqueued()
	}

	return scan
}

func polarisSeverity(severity string) types.CheckSeverity {
	switch strings.ToLower(severity) {
	case "error":
		return types.SeverityHigh
	case "warning":
		return types.SeverityMedium
	default:
		return types.SeverityUnknown
	}
}
