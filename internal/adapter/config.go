package adapter

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/estrateji/satchel/internal/store"
	"github.com/spf13/viper"
)

var envKeyReplacer = strings.NewReplacer(".", "_")

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Prefetch PrefetchConfig `mapstructure:"prefetch"`
	Boundary BoundaryConfig `mapstructure:"boundary"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds the learning server connection
type ServerConfig struct {
	URL       string        `mapstructure:"url"`
	Token     string        `mapstructure:"token"` // bearer token, obtained elsewhere
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"` // requests per second, 0 = unlimited
	Burst     int           `mapstructure:"burst"`
}

// StorageConfig holds local cache settings
type StorageConfig struct {
	Dir             string `mapstructure:"dir"` // empty = memory only
	BlobQuotaMB     int64  `mapstructure:"blob_quota_mb"`
	SnapshotQuotaMB int64  `mapstructure:"snapshot_quota_mb"`
	BookQuotaMB     int64  `mapstructure:"book_quota_mb"`
	ArchiveQuotaMB  int64  `mapstructure:"archive_quota_mb"`
}

// SyncConfig holds scheduler intervals and the queue retry policy
type SyncConfig struct {
	ProbeInterval   time.Duration `mapstructure:"probe_interval"`
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	PruneInterval   time.Duration `mapstructure:"prune_interval"`

	RetryPolicy string        `mapstructure:"retry_policy"` // "fixed", "unlimited" or "backoff"
	MaxAttempts int           `mapstructure:"max_attempts"`
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap"`

	ModuleTTL         time.Duration `mapstructure:"module_ttl"`
	DownloadRetention time.Duration `mapstructure:"download_retention"`
}

// PrefetchConfig holds download settings
type PrefetchConfig struct {
	Limit     int     `mapstructure:"limit"`
	MaxBlobMB int64   `mapstructure:"max_blob_mb"`
	RateLimit float64 `mapstructure:"rate_limit"` // downloads per second
	Burst     int     `mapstructure:"burst"`
}

// BoundaryConfig holds the local proxy settings
type BoundaryConfig struct {
	Listen   string   `mapstructure:"listen"`
	Precache []string `mapstructure:"precache"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File       string `mapstructure:"file"`
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Timeout: 30 * time.Second,
			Burst:   1,
		},
		Storage: StorageConfig{
			Dir:             defaultCachePath(),
			BlobQuotaMB:     2048,
			SnapshotQuotaMB: 64,
			BookQuotaMB:     1024,
			ArchiveQuotaMB:  2048,
		},
		Sync: SyncConfig{
			ProbeInterval:     5 * time.Second,
			TickInterval:      15 * time.Second,
			CleanupInterval:   30 * time.Second,
			PruneInterval:     30 * time.Second,
			RetryPolicy:       "fixed",
			MaxAttempts:       3,
			BackoffBase:       5 * time.Second,
			BackoffCap:        10 * time.Minute,
			ModuleTTL:         24 * time.Hour,
			DownloadRetention: time.Hour,
		},
		Prefetch: PrefetchConfig{
			Limit:     3,
			MaxBlobMB: 50,
			RateLimit: 2,
			Burst:     1,
		},
		Boundary: BoundaryConfig{
			Listen: "127.0.0.1:8642",
			Precache: []string{
				"/offline",
				"/static/offline-fallback.html",
				"/static/js/offline.bundle.js",
			},
		},
		Logging: LoggingConfig{
			File:       defaultLogPath(),
			Level:      "INFO",
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// defaultLogPath returns the default log file path for the current OS
func defaultLogPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "satchel", "satchel.log")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "satchel", "satchel.log")
	}
}

// defaultConfigPath returns the default config file path for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "satchel")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "satchel")
	}
}

// defaultCachePath returns the default cache directory path for the current OS
func defaultCachePath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("LOCALAPPDATA"), "satchel", "cache")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "satchel", "cache")
	}
}

// LoadConfig loads configuration from file and environment
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(defaultConfigPath())
	viper.AddConfigPath(".")

	// Environment variable overrides, e.g. SATCHEL_SERVER_TOKEN
	viper.SetEnvPrefix("SATCHEL")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	return readConfig()
}

func readConfig() (*Config, error) {
	cfg := DefaultConfig()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the current configuration to file
func SaveConfig(cfg *Config) error {
	configPath := defaultConfigPath()

	if err := os.MkdirAll(configPath, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Set fields individually to keep snake_case key names
	viper.Set("server.url", cfg.Server.URL)
	viper.Set("server.token", cfg.Server.Token)
	viper.Set("server.timeout", cfg.Server.Timeout.String())
	viper.Set("server.rate_limit", cfg.Server.RateLimit)
	viper.Set("server.burst", cfg.Server.Burst)

	viper.Set("storage.dir", cfg.Storage.Dir)
	viper.Set("storage.blob_quota_mb", cfg.Storage.BlobQuotaMB)
	viper.Set("storage.snapshot_quota_mb", cfg.Storage.SnapshotQuotaMB)
	viper.Set("storage.book_quota_mb", cfg.Storage.BookQuotaMB)
	viper.Set("storage.archive_quota_mb", cfg.Storage.ArchiveQuotaMB)

	viper.Set("sync.retry_policy", cfg.Sync.RetryPolicy)
	viper.Set("sync.max_attempts", cfg.Sync.MaxAttempts)

	viper.Set("prefetch.limit", cfg.Prefetch.Limit)
	viper.Set("prefetch.max_blob_mb", cfg.Prefetch.MaxBlobMB)

	viper.Set("boundary.listen", cfg.Boundary.Listen)

	viper.Set("logging.file", cfg.Logging.File)
	viper.Set("logging.level", cfg.Logging.Level)

	configFile := filepath.Join(configPath, "config.yaml")
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// IsConfigured returns true if the server URL and token are set
func (c *Config) IsConfigured() bool {
	return c.Server.URL != "" && c.Server.Token != ""
}

// Quotas returns the per-namespace byte budgets for the store
func (c *StorageConfig) Quotas() map[string]int64 {
	return map[string]int64{
		store.NSModuleBlobs:   c.BlobQuotaMB << 20,
		store.NSSnapshots:     c.SnapshotQuotaMB << 20,
		store.NSResourceBlobs: c.BookQuotaMB << 20,
		store.NSArchives:      c.ArchiveQuotaMB << 20,
	}
}

// ClearCache removes all cached data
func ClearCache(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}
