// ABOUTME: Tests for the image-scan request envelope.

package queue

import (
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestScanRequestMessageRoundTrip(t *testing.T) {
	message := NewScanRequestMessage("nginx:1.17", "scan-42")

	body, err := message.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	decoded, err := DecodeScanRequestMessage(body)
	if err != nil {
		t.Fatalf("DecodeScanRequestMessage() error = %v", err)
	}

	if decoded.Payload.ImageFullName != "nginx:1.17" {
		t.Errorf("ImageFullName = %q", decoded.Payload.ImageFullName)
	}
	if decoded.Payload.ImageScanID != "scan-42" {
		t.Errorf("ImageScanID = %q", decoded.Payload.ImageScanID)
	}
	if decoded.Headers.PayloadVersion != PayloadVersion {
		t.Errorf("PayloadVersion = %q, want %q", decoded.Headers.PayloadVersion, PayloadVersion)
	}
	if decoded.Headers.CreationTime == 0 {
		t.Error("CreationTime not set")
	}
}

func TestScanRequestMessageWireFormat(t *testing.T) {
	body, err := NewScanRequestMessage("nginx:1.17", "scan-42").Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		t.Fatalf("message body is not valid base64: %v", err)
	}

	var wire map[string]map[string]any
	if err := json.Unmarshal(raw, &wire); err != nil {
		t.Fatalf("message body is not a JSON envelope: %v", err)
	}

	if _, ok := wire["headers"]["creation-time"]; !ok {
		t.Error("envelope misses headers.creation-time")
	}
	if got := wire["payload"]["image-full-name"]; got != "nginx:1.17" {
		t.Errorf("payload.image-full-name = %v", got)
	}
	if got := wire["payload"]["image-scan-id"]; got != "scan-42" {
		t.Errorf("payload.image-scan-id = %v", got)
	}
}

func TestDecodeScanRequestMessageRejectsGarbage(t *testing.T) {
	if _, err := DecodeScanRequestMessage("not-base64!!"); err == nil {
		t.Error("expected an error for invalid base64")
	}

	garbage := base64.StdEncoding.EncodeToString([]byte("not json"))
	if _, err := DecodeScanRequestMessage(garbage); err == nil {
		t.Error("expected an error for invalid JSON")
	}
}
