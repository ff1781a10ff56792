// ABOUTME: SQS implementation of the image-scan request queue.

package queue

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/sirupsen/logrus"

	"github.com/deepnetworkgmbh/joseki-sub000/internal/config"
)

// SQSQueue implements Queue on top of an SQS queue URL.
type SQSQueue struct {
	client *sqs.Client
	url    string
	logger *logrus.Logger
}

// NewSQSQueue builds the client from the default AWS credential chain.
func NewSQSQueue(ctx context.Context, cfg config.QueueConfig, logger *logrus.Logger) (*SQSQueue, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SQSQueue{
		client: sqs.NewFromConfig(awsCfg),
		url:    cfg.URL,
		logger: logger,
	}, nil
}

// EnqueueImageScanRequest implements Queue.
func (q *SQSQueue) EnqueueImageScanRequest(ctx context.Context, imageTag, scanID string) error {
	body, err := NewScanRequestMessage(imageTag, scanID).Encode()
	if err != nil {
		return err
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    &q.url,
		MessageBody: &body,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue scan request for %s: %w", imageTag, err)
	}

	q.logger.WithFields(logrus.Fields{
		"image_tag": imageTag,
		"scan_id":   scanID,
	}).Debug("Enqueued image scan request")

	return nil
}
