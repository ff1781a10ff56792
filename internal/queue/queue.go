// ABOUTME: Image-scan request queue port and its wire envelope.
// ABOUTME: Messages are base64-encoded JSON envelopes with a versioned payload.

package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// PayloadVersion is bumped whenever the payload shape changes, so scanners
// can reject envelopes they do not understand.
const PayloadVersion = "1"

// MessageHeaders carry envelope-level information shared by every payload
// version.
type MessageHeaders struct {
	// CreationTime is unix-epoch seconds.
	CreationTime   int64  `json:"creation-time"`
	PayloadVersion string `json:"payload-version"`
}

// ScanRequestPayload asks a scanner to scan one image and report the result
// under the given scan id.
type ScanRequestPayload struct {
	ImageFullName string `json:"image-full-name"`
	ImageScanID   string `json:"image-scan-id"`
}

// ScanRequestMessage is the complete envelope of an image-scan request.
type ScanRequestMessage struct {
	Headers MessageHeaders     `json:"headers"`
	Payload ScanRequestPayload `json:"payload"`
}

// NewScanRequestMessage builds an envelope for the image/scan-id pair.
func NewScanRequestMessage(imageTag, scanID string) ScanRequestMessage {
	return ScanRequestMessage{
		Headers: MessageHeaders{
			CreationTime:   time.Now().Unix(),
			PayloadVersion: PayloadVersion,
		},
		Payload: ScanRequestPayload{
			ImageFullName: imageTag,
			ImageScanID:   scanID,
		},
	}
}

// Encode serializes the envelope to the base64 wire form.
func (m ScanRequestMessage) Encode() (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal scan request: %w", err)
	}

	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeScanRequestMessage parses the base64 wire form back into an envelope.
func DecodeScanRequestMessage(body string) (ScanRequestMessage, error) {
	var message ScanRequestMessage

	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return message, fmt.Errorf("failed to decode scan request: %w", err)
	}
	if err := json.Unmarshal(raw, &message); err != nil {
		return message, fmt.Errorf("failed to unmarshal scan request: %w", err)
	}

	return message, nil
}

// Queue enqueues image-scan requests for the scanner fleet.
type Queue interface {
	// EnqueueImageScanRequest asks for a scan of the image, to be reported
	// under the given scan id.
	EnqueueImageScanRequest(ctx context.Context, imageTag, scanID string) error
}
