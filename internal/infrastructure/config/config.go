package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config is the full platform configuration. Defaults are loaded from the
// struct below, overridden by configs/config.yaml, overridden by
// TRAILGUARD_-prefixed environment variables.
type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`

	Retry            RetryConfig            `koanf:"retry"`
	KMS              KMSConfig              `koanf:"kms"`
	Crypto           CryptoConfig           `koanf:"crypto"`
	PatternDetection PatternDetectionConfig `koanf:"pattern_detection"`
	Monitoring       MonitoringConfig       `koanf:"monitoring"`
	DLQ              DLQConfig              `koanf:"dlq"`
	Retention        RetentionConfig        `koanf:"retention"`
	Worker           WorkerConfig           `koanf:"worker"`
	GDPR             GDPRConfig             `koanf:"gdpr"`
	Scheduler        SchedulerConfig        `koanf:"scheduler"`
	Delivery         DeliveryConfig         `koanf:"delivery"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MinIdleConns    int           `koanf:"min_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL          string        `koanf:"url"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	MaxRetries   int           `koanf:"max_retries"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// RetryConfig is the generic retry envelope for enqueue and worker
// processing: min(initial * multiplier^attempt, max_delay), capped attempts.
type RetryConfig struct {
	Enabled           bool          `koanf:"enabled"`
	MaxAttempts       int           `koanf:"max_attempts"`
	InitialDelay      time.Duration `koanf:"initial_delay"`
	MaxDelay          time.Duration `koanf:"max_delay"`
	BackoffMultiplier float64       `koanf:"backoff_multiplier"`
}

// Delay computes the backoff delay for a zero-based attempt number.
func (r RetryConfig) Delay(attempt int) time.Duration {
	d := float64(r.InitialDelay)
	for i := 0; i < attempt; i++ {
		d *= r.BackoffMultiplier
	}
	if max := float64(r.MaxDelay); d > max {
		d = max
	}
	return time.Duration(d)
}

type KMSConfig struct {
	Enabled          bool          `koanf:"enabled"`
	BaseURL          string        `koanf:"base_url"`
	AccessToken      string        `koanf:"access_token"`
	SigningAlgorithm string        `koanf:"signing_algorithm"`
	Timeout          time.Duration `koanf:"timeout"`
	MaxRetries       int           `koanf:"max_retries"`
}

type CryptoConfig struct {
	// SigningKey feeds the local HMAC signer when KMS is disabled.
	SigningKey string `koanf:"signing_key"`
	// EncryptionKey is the 32-byte AES key for pseudonym mappings and
	// encrypted exports.
	EncryptionKey string `koanf:"encryption_key"`
}

// PatternDetectionConfig carries the sliding-window thresholds for the five
// suspicious-pattern detectors. Defaults mirror the documented rule table.
type PatternDetectionConfig struct {
	FailedAuthThreshold         int           `koanf:"failed_auth_threshold"`
	FailedAuthWindow            time.Duration `koanf:"failed_auth_window"`
	UnauthorizedAccessThreshold int           `koanf:"unauthorized_access_threshold"`
	UnauthorizedAccessWindow    time.Duration `koanf:"unauthorized_access_window"`
	DataAccessThreshold         int           `koanf:"data_access_threshold"`
	DataAccessWindow            time.Duration `koanf:"data_access_window"`
	BulkOperationThreshold      int           `koanf:"bulk_operation_threshold"`
	BulkOperationWindow         time.Duration `koanf:"bulk_operation_window"`
	OffHoursStart               int           `koanf:"off_hours_start"`
	OffHoursEnd                 int           `koanf:"off_hours_end"`
}

type MonitoringConfig struct {
	Notification NotificationConfig `koanf:"notification"`
}

type NotificationConfig struct {
	Enabled     bool   `koanf:"enabled"`
	URL         string `koanf:"url"`
	Credentials string `koanf:"credentials"`
}

// DLQConfig thresholds are expressed in days; the scanner runs every
// ScanInterval regardless.
type DLQConfig struct {
	AlertThreshold   int           `koanf:"alert_threshold"`
	MaxRetentionDays int           `koanf:"max_retention_days"`
	ArchiveAfterDays int           `koanf:"archive_after_days"`
	ScanInterval     time.Duration `koanf:"scan_interval"`
}

type RetentionPolicyConfig struct {
	Name               string `koanf:"name"`
	DataClassification string `koanf:"data_classification"`
	RetentionDays      int    `koanf:"retention_days"`
	ArchiveAfterDays   int    `koanf:"archive_after_days"`
	DeleteAfterDays    int    `koanf:"delete_after_days"`
}

type RetentionConfig struct {
	Policies []RetentionPolicyConfig `koanf:"policies"`
}

type WorkerConfig struct {
	Concurrency        int   `koanf:"concurrency"`
	QueueHighWatermark int64 `koanf:"queue_high_watermark"`
}

type GDPRConfig struct {
	PseudonymSalt string `koanf:"pseudonym_salt"`
}

type SchedulerConfig struct {
	TickInterval     time.Duration `koanf:"tick_interval"`
	AlertRetention   int           `koanf:"alert_retention_days"`
	CooldownDuration time.Duration `koanf:"cooldown_duration"`
	// RetryWindow bounds how far back retryFailedDeliveries looks.
	RetryWindow time.Duration `koanf:"retry_window"`
}

// DeliveryConfig covers the scheduled-report delivery channels.
type DeliveryConfig struct {
	Timeout time.Duration         `koanf:"timeout"`
	SMTP    SMTPConfig            `koanf:"smtp"`
	Storage StorageDeliveryConfig `koanf:"storage"`
}

type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
}

type StorageDeliveryConfig struct {
	LocalDir string `koanf:"local_dir"`
	S3Region string `koanf:"s3_region"`
}

func defaults() *Config {
	return &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MinIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			DB:          0,
			PoolSize:    10,
			MaxRetries:  3,
			DialTimeout: 5 * time.Second,
		},
		Retry: RetryConfig{
			Enabled:           true,
			MaxAttempts:       5,
			InitialDelay:      time.Second,
			MaxDelay:          30 * time.Second,
			BackoffMultiplier: 2,
		},
		KMS: KMSConfig{
			SigningAlgorithm: "RSASSA_PSS_SHA_256",
			Timeout:          10 * time.Second,
			MaxRetries:       3,
		},
		PatternDetection: PatternDetectionConfig{
			FailedAuthThreshold:         5,
			FailedAuthWindow:            5 * time.Minute,
			UnauthorizedAccessThreshold: 3,
			UnauthorizedAccessWindow:    10 * time.Minute,
			DataAccessThreshold:         50,
			DataAccessWindow:            time.Minute,
			BulkOperationThreshold:      100,
			BulkOperationWindow:         5 * time.Minute,
			OffHoursStart:               22,
			OffHoursEnd:                 6,
		},
		DLQ: DLQConfig{
			AlertThreshold:   100,
			MaxRetentionDays: 30,
			ArchiveAfterDays: 7,
			ScanInterval:     5 * time.Minute,
		},
		Worker: WorkerConfig{
			Concurrency:        4,
			QueueHighWatermark: 10000,
		},
		Scheduler: SchedulerConfig{
			TickInterval:     time.Minute,
			AlertRetention:   90,
			CooldownDuration: 300 * time.Second,
			RetryWindow:      24 * time.Hour,
		},
		Delivery: DeliveryConfig{
			Timeout: 30 * time.Second,
			SMTP:    SMTPConfig{Port: 587},
			Storage: StorageDeliveryConfig{LocalDir: "exports"},
		},
	}
}

// Load builds configuration from defaults, optional YAML file, and
// environment overrides.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	if _, err := os.Stat(configPath); err == nil {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("TRAILGUARD_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "TRAILGUARD_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Salt may come from either well-known environment variable when not
	// set in the config file.
	if cfg.GDPR.PseudonymSalt == "" {
		if salt := os.Getenv("PSEUDONYM_SALT"); salt != "" {
			cfg.GDPR.PseudonymSalt = salt
		} else if salt := os.Getenv("GDPR_PSEUDONYM_SALT"); salt != "" {
			cfg.GDPR.PseudonymSalt = salt
		}
	}

	return &cfg, nil
}
