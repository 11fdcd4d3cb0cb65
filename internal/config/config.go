package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"tasksync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Remote     RemoteConfig     `yaml:"remote"`
	Sync       SyncConfig       `yaml:"sync"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	API        APIConfig        `yaml:"api"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RemoteConfig points the sync client at the remote authority.
type RemoteConfig struct {
	BaseURL      string        `yaml:"base_url"`
	BatchPath    string        `yaml:"batch_path"`
	HealthPath   string        `yaml:"health_path"`
	Timeout      time.Duration `yaml:"timeout"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

type SyncConfig struct {
	BatchSize         int           `yaml:"batch_size"`
	MaxRetries        int           `yaml:"max_retries"`
	TieBreak          string        `yaml:"tie_break"`
	AutoSync          bool          `yaml:"auto_sync"`
	AutoSyncInterval  time.Duration `yaml:"auto_sync_interval"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay"`
}

type RedisConfig struct {
	Address       string        `yaml:"address"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	PoolSize      int           `yaml:"pool_size"`
	LockKey       string        `yaml:"lock_key"`
	LockTTL       time.Duration `yaml:"lock_ttl"`
	DeadLetterKey string        `yaml:"dead_letter_key"`
}

// BackupConfig controls periodic snapshots of the offline store, which is
// the only copy of mutations the remote has not confirmed yet.
type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// Load reads the YAML config at configPath, expanding ${VAR} references from
// the environment and an optional .env file in the working directory.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Remote.BaseURL == "" {
		return errors.New("remote base_url is required")
	}
	u, err := url.Parse(c.Remote.BaseURL)
	if err != nil {
		return fmt.Errorf("remote base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("remote base_url must be http or https, got %q", c.Remote.BaseURL)
	}

	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync batch_size must be positive, got %d", c.Sync.BatchSize)
	}
	if c.Sync.MaxRetries <= 0 {
		return fmt.Errorf("sync max_retries must be positive, got %d", c.Sync.MaxRetries)
	}

	switch c.Sync.TieBreak {
	case "server", "local":
	default:
		return fmt.Errorf("sync tie_break must be server or local, got %q", c.Sync.TieBreak)
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "tasksync"
	}

	c.Remote.BaseURL = strings.TrimRight(c.Remote.BaseURL, "/")
	if c.Remote.BatchPath == "" {
		c.Remote.BatchPath = "/sync/batch"
	}
	if c.Remote.HealthPath == "" {
		c.Remote.HealthPath = "/health"
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = models.DefaultBatchTimeout
	}
	if c.Remote.ProbeTimeout == 0 {
		c.Remote.ProbeTimeout = models.DefaultProbeTimeout
	}

	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = models.DefaultBatchSize
	}
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = models.DefaultMaxRetries
	}
	c.Sync.TieBreak = strings.ToLower(strings.TrimSpace(c.Sync.TieBreak))
	if c.Sync.TieBreak == "" {
		c.Sync.TieBreak = "server"
	}
	if c.Sync.AutoSyncInterval == 0 {
		c.Sync.AutoSyncInterval = models.DefaultAutoSyncInterval
	}
	if c.Sync.RetryInitialDelay == 0 {
		c.Sync.RetryInitialDelay = 2 * time.Second
	}
	if c.Sync.RetryMaxDelay == 0 {
		c.Sync.RetryMaxDelay = 5 * time.Minute
	}

	if c.Redis.LockKey == "" {
		c.Redis.LockKey = "tasksync:lock"
	}
	if c.Redis.LockTTL == 0 {
		c.Redis.LockTTL = models.DefaultLockTTL
	}
	if c.Redis.DeadLetterKey == "" {
		c.Redis.DeadLetterKey = "tasksync:deadletter"
	}

	if c.Backup.Enabled && c.Backup.Interval == 0 {
		c.Backup.Interval = 24 * time.Hour
	}
	if c.Backup.Enabled && c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "backups"
	}

	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
}
