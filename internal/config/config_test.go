// ABOUTME: Tests for configuration parsing, defaults, and validation.

package config

import (
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`port: 9000`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Port != 9000 {
		t.Errorf("Port = %d, want 9000", cfg.Port)
	}
	if cfg.Cache.PolarisCheckTTLDays != 7 {
		t.Errorf("PolarisCheckTTLDays = %d, want default 7", cfg.Cache.PolarisCheckTTLDays)
	}
	if cfg.Cache.ScoreHistoryDays != 31 {
		t.Errorf("ScoreHistoryDays = %d, want default 31", cfg.Cache.ScoreHistoryDays)
	}
	if cfg.Watchmen.ScannerContainersSeconds != 600 {
		t.Errorf("ScannerContainersSeconds = %d, want default 600", cfg.Watchmen.ScannerContainersSeconds)
	}
}

func TestParseOverrides(t *testing.T) {
	raw := `
port: 8081
mockMode: true
cache:
  polarisCheckTtl: 3
  imageScanTtl: 6
watchmen:
  scannerContainersPeriodicity: 120
blobStorage:
  endpoint: minio:9000
  bucket: audits
`
	cfg, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if !cfg.MockMode {
		t.Error("MockMode = false, want true")
	}
	if cfg.Cache.PolarisCheckTTLDays != 3 {
		t.Errorf("PolarisCheckTTLDays = %d, want 3", cfg.Cache.PolarisCheckTTLDays)
	}
	if cfg.ImageScanTTL() != 6*time.Hour {
		t.Errorf("ImageScanTTL() = %v, want 6h", cfg.ImageScanTTL())
	}
	if cfg.DiscoveryInterval() != 2*time.Minute {
		t.Errorf("DiscoveryInterval() = %v, want 2m", cfg.DiscoveryInterval())
	}
	if cfg.BlobStorage.Bucket != "audits" {
		t.Errorf("Bucket = %s, want audits", cfg.BlobStorage.Bucket)
	}
}

func TestValidate(t *testing.T) {
	t.Run("mock mode needs no external ports", func(t *testing.T) {
		cfg := Default()
		cfg.MockMode = true
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})

	t.Run("real mode requires storage database and queue", func(t *testing.T) {
		cfg := Default()
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() = nil, want an error for missing external ports")
		}

		cfg.BlobStorage.Endpoint = "minio:9000"
		cfg.BlobStorage.Bucket = "audits"
		cfg.Database.DSN = "postgres://joseki@db/joseki"
		cfg.Queue.URL = "https://sqs.eu-west-1.amazonaws.com/1/scan-requests"
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() error = %v", err)
		}
	})

	t.Run("rejects invalid port", func(t *testing.T) {
		cfg := Default()
		cfg.MockMode = true
		cfg.Port = -1
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() = nil, want an error")
		}
	})

	t.Run("rejects non-positive history window", func(t *testing.T) {
		cfg := Default()
		cfg.MockMode = true
		cfg.Cache.ScoreHistoryDays = 0
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() = nil, want an error")
		}
	})
}
