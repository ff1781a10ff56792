// ABOUTME: Service configuration loaded from a YAML file with env overrides.
// ABOUTME: Carries cache TTLs, watchman cadences, and external port settings.

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CacheConfig groups the TTLs of the reference and score caches.
type CacheConfig struct {
	// Check TTLs are in days and differ per reference-data family.
	PolarisCheckTTLDays int `yaml:"polarisCheckTtl"`
	AzskCheckTTLDays    int `yaml:"azskCheckTtl"`
	DefaultCheckTTLDays int `yaml:"defaultCheckTtl"`
	CveTTLDays          int `yaml:"cveTtl"`

	// ImageScanTTLHours bounds how long an image scan result is trusted
	// before the image gets re-scanned.
	ImageScanTTLHours int `yaml:"imageScanTtl"`

	// ScoreHistoryDays is the rolling lookback window of the score cache.
	ScoreHistoryDays int `yaml:"scoreHistoryDays"`
}

// WatchmenConfig groups the periodic background loops.
type WatchmenConfig struct {
	// ScannerContainersSeconds is how often blob storage is listed for
	// scanner containers.
	ScannerContainersSeconds int `yaml:"scannerContainersPeriodicity"`

	// ScoreReloadHours is how often the entire score cache is reloaded.
	ScoreReloadHours int `yaml:"infraScorePeriodicityHours"`
}

// BlobStorageConfig points at the object storage holding scanner containers.
type BlobStorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	UseSSL    bool   `yaml:"useSsl"`
}

// QueueConfig points at the image-scan request queue.
type QueueConfig struct {
	URL    string `yaml:"url"`
	Region string `yaml:"region"`
}

// DatabaseConfig points at the relational database.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// Config is the root service configuration.
type Config struct {
	Port int `yaml:"port"`

	// MockMode replaces every external port with an in-memory fake.
	MockMode bool `yaml:"mockMode"`

	Cache       CacheConfig       `yaml:"cache"`
	Watchmen    WatchmenConfig    `yaml:"watchmen"`
	BlobStorage BlobStorageConfig `yaml:"blobStorage"`
	Queue       QueueConfig       `yaml:"queue"`
	Database    DatabaseConfig    `yaml:"database"`
}

// Default returns the configuration used when the YAML file omits a value.
func Default() *Config {
	return &Config{
		Port: 8080,
		Cache: CacheConfig{
			PolarisCheckTTLDays: 7,
			AzskCheckTTLDays:    14,
			DefaultCheckTTLDays: 7,
			CveTTLDays:          14,
			ImageScanTTLHours:   12,
			ScoreHistoryDays:    31,
		},
		Watchmen: WatchmenConfig{
			ScannerContainersSeconds: 600,
			ScoreReloadHours:         12,
		},
	}
}

// Parse decodes a YAML document on top of the defaults.
func Parse(input []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(input, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// Load reads and parses the configuration file, then applies env overrides.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	cfg.applyEnv()

	return cfg, nil
}

// applyEnv lets deployment secrets override file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("BLOB_STORAGE_ACCESS_KEY"); v != "" {
		c.BlobStorage.AccessKey = v
	}
	if v := os.Getenv("BLOB_STORAGE_SECRET_KEY"); v != "" {
		c.BlobStorage.SecretKey = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("IMAGE_SCAN_QUEUE_URL"); v != "" {
		c.Queue.URL = v
	}
}

// Validate checks that every external port is reachable by configuration.
// Mock mode needs no external settings.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Cache.ScoreHistoryDays <= 0 {
		return fmt.Errorf("score history window must be positive, got %d days", c.Cache.ScoreHistoryDays)
	}

	if c.MockMode {
		return nil
	}

	if c.BlobStorage.Endpoint == "" || c.BlobStorage.Bucket == "" {
		return fmt.Errorf("blob storage endpoint and bucket are required")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	if c.Queue.URL == "" {
		return fmt.Errorf("image-scan queue url is required")
	}

	return nil
}

// ImageScanTTL returns the image-scan freshness window as a duration.
func (c *Config) ImageScanTTL() time.Duration {
	return time.Duration(c.Cache.ImageScanTTLHours) * time.Hour
}

// ScoreHistory returns the score lookback window as a duration.
func (c *Config) ScoreHistory() time.Duration {
	return time.Duration(c.Cache.ScoreHistoryDays) * 24 * time.Hour
}

// DiscoveryInterval returns the container discovery cadence.
func (c *Config) DiscoveryInterval() time.Duration {
	return time.Duration(c.Watchmen.ScannerContainersSeconds) * time.Second
}

// ScoreReloadInterval returns the full score cache reload cadence.
func (c *Config) ScoreReloadInterval() time.Duration {
	return time.Duration(c.Watchmen.ScoreReloadHours) * time.Hour
}
