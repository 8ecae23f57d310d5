package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete cache subsystem configuration
type Configuration struct {
	Global    GlobalConfig    `yaml:"global"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
	Storage   StorageConfig   `yaml:"storage"`
	Network   NetworkConfig   `yaml:"network"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Caches    []CachePreset   `yaml:"caches"`
}

// GlobalConfig represents global settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DefaultsConfig represents the per-cache defaults applied when a preset
// leaves a field unset
type DefaultsConfig struct {
	MaxMemory           string        `yaml:"max_memory"`
	MaxItems            int           `yaml:"max_items"`
	TTL                 time.Duration `yaml:"ttl"`
	Strategy            string        `yaml:"strategy"`
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`
}

// StorageConfig represents durable snapshot storage settings
type StorageConfig struct {
	// Backend selects the blob store: "none", "fs", or "s3".
	Backend string          `yaml:"backend"`
	FS      FSStorageConfig `yaml:"fs"`
	S3      S3StorageConfig `yaml:"s3"`
}

// FSStorageConfig represents filesystem blob store settings
type FSStorageConfig struct {
	Directory string `yaml:"directory"`
}

// S3StorageConfig represents S3 blob store settings
type S3StorageConfig struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// NetworkConfig represents retry and circuit breaker settings for the
// durable store path
type NetworkConfig struct {
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig represents retry settings
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig represents circuit breaker settings
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	CoolDown         time.Duration `yaml:"cool_down"`
}

// TelemetryConfig represents metrics settings
type TelemetryConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	Namespace  string `yaml:"namespace"`
}

// CachePreset declares a named cache created at startup
type CachePreset struct {
	Name      string        `yaml:"name"`
	MaxMemory string        `yaml:"max_memory"`
	MaxItems  int           `yaml:"max_items"`
	TTL       time.Duration `yaml:"ttl"`
	Strategy  string        `yaml:"strategy"`
	Persist   bool          `yaml:"persist"`
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: "json",
		},
		Defaults: DefaultsConfig{
			MaxMemory:           "500MB",
			MaxItems:            10000,
			TTL:                 24 * time.Hour,
			Strategy:            "lru",
			MaintenanceInterval: time.Hour,
		},
		Storage: StorageConfig{
			Backend: "none",
			FS: FSStorageConfig{
				Directory: "/var/cache/poolcache",
			},
			S3: S3StorageConfig{
				Region: "us-east-1",
				Prefix: "poolcache",
			},
		},
		Network: NetworkConfig{
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   50 * time.Millisecond,
				MaxDelay:    2 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				CoolDown:         30 * time.Second,
			},
		},
		Telemetry: TelemetryConfig{
			Enabled:    true,
			ListenAddr: ":9109",
			Namespace:  "poolcache",
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration overrides from environment variables
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("POOLCACHE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("POOLCACHE_LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}

	if val := os.Getenv("POOLCACHE_MAX_MEMORY"); val != "" {
		c.Defaults.MaxMemory = val
	}
	if val := os.Getenv("POOLCACHE_MAX_ITEMS"); val != "" {
		if items, err := strconv.Atoi(val); err == nil {
			c.Defaults.MaxItems = items
		}
	}
	if val := os.Getenv("POOLCACHE_TTL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Defaults.TTL = duration
		}
	}
	if val := os.Getenv("POOLCACHE_STRATEGY"); val != "" {
		c.Defaults.Strategy = val
	}
	if val := os.Getenv("POOLCACHE_MAINTENANCE_INTERVAL"); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			c.Defaults.MaintenanceInterval = duration
		}
	}

	if val := os.Getenv("POOLCACHE_STORAGE_BACKEND"); val != "" {
		c.Storage.Backend = strings.ToLower(val)
	}
	if val := os.Getenv("POOLCACHE_STORAGE_DIR"); val != "" {
		c.Storage.FS.Directory = val
	}
	if val := os.Getenv("POOLCACHE_S3_BUCKET"); val != "" {
		c.Storage.S3.Bucket = val
	}
	if val := os.Getenv("POOLCACHE_S3_REGION"); val != "" {
		c.Storage.S3.Region = val
	}
	if val := os.Getenv("POOLCACHE_S3_ENDPOINT"); val != "" {
		c.Storage.S3.Endpoint = val
	}

	if val := os.Getenv("POOLCACHE_METRICS_ENABLED"); val != "" {
		c.Telemetry.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("POOLCACHE_METRICS_ADDR"); val != "" {
		c.Telemetry.ListenAddr = val
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if c.Defaults.MaxItems < 0 {
		return fmt.Errorf("max_items cannot be negative")
	}
	if c.Defaults.TTL < 0 {
		return fmt.Errorf("ttl cannot be negative")
	}
	if c.Defaults.MaintenanceInterval <= 0 {
		return fmt.Errorf("maintenance_interval must be greater than 0")
	}
	if _, err := ParseSize(c.Defaults.MaxMemory); err != nil {
		return fmt.Errorf("invalid max_memory: %w", err)
	}

	switch strings.ToLower(c.Defaults.Strategy) {
	case "lru", "lfu", "fifo":
	default:
		return fmt.Errorf("invalid strategy: %s (must be one of: lru, lfu, fifo)", c.Defaults.Strategy)
	}

	switch c.Storage.Backend {
	case "", "none":
	case "fs":
		if c.Storage.FS.Directory == "" {
			return fmt.Errorf("storage.fs.directory is required for the fs backend")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be one of: none, fs, s3)", c.Storage.Backend)
	}

	if c.Network.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be greater than 0")
	}
	if c.Network.CircuitBreaker.FailureThreshold <= 0 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be greater than 0")
	}

	seen := make(map[string]bool, len(c.Caches))
	for _, preset := range c.Caches {
		if preset.Name == "" {
			return fmt.Errorf("cache preset name cannot be empty")
		}
		if seen[preset.Name] {
			return fmt.Errorf("duplicate cache preset: %s", preset.Name)
		}
		seen[preset.Name] = true
		if preset.MaxMemory != "" {
			if _, err := ParseSize(preset.MaxMemory); err != nil {
				return fmt.Errorf("cache %s: invalid max_memory: %w", preset.Name, err)
			}
		}
		if preset.Strategy != "" {
			switch strings.ToLower(preset.Strategy) {
			case "lru", "lfu", "fifo":
			default:
				return fmt.Errorf("cache %s: invalid strategy: %s", preset.Name, preset.Strategy)
			}
		}
	}

	return nil
}

// ParseSize parses a human-readable size such as "500MB" or "2GB" into
// bytes. A bare number is taken as bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		s = strings.TrimSuffix(s, "B")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %q", s)
	}
	if value < 0 {
		return 0, fmt.Errorf("size cannot be negative")
	}

	return value * multiplier, nil
}
