package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AWSRegion    string
	BackupBucket string
	SNSTopicARN  string
	// DatabaseURL points at the run-catalog database. Optional: without it
	// run summaries are logged but not persisted.
	DatabaseURL string

	RetentionDays            int
	ComputeRetentionDays     int
	DatabaseRetentionDays    int
	ObjectStoreRetentionDays int

	// WorkerBudget bounds concurrent backup operations per resource kind.
	WorkerBudget int

	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryJitter      time.Duration
	// CallTimeout is the overall deadline applied to each external call.
	CallTimeout time.Duration

	LogLevel          string
	ServiceName       string
	MetricsListenAddr string
}

func Load() (*Config, error) {
	cfg := &Config{
		AWSRegion:                getEnv("AWS_REGION", "us-east-1"),
		BackupBucket:             getEnv("BACKUP_BUCKET", ""),
		SNSTopicARN:              getEnv("SNS_TOPIC_ARN", ""),
		DatabaseURL:              getEnv("DATABASE_URL", ""),
		RetentionDays:            getEnvInt("BACKUP_RETENTION_DAYS", 30),
		ComputeRetentionDays:     getEnvInt("COMPUTE_RETENTION_DAYS", 0),
		DatabaseRetentionDays:    getEnvInt("DATABASE_RETENTION_DAYS", 0),
		ObjectStoreRetentionDays: getEnvInt("OBJECTSTORE_RETENTION_DAYS", 0),
		WorkerBudget:             getEnvInt("WORKER_BUDGET", 5),
		RetryMaxAttempts:         getEnvInt("RETRY_MAX_ATTEMPTS", 5),
		RetryBaseDelay:           getEnvDuration("RETRY_BASE_DELAY", 500*time.Millisecond),
		RetryJitter:              getEnvDuration("RETRY_JITTER", 250*time.Millisecond),
		CallTimeout:              getEnvDuration("CALL_TIMEOUT", 5*time.Minute),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
		ServiceName:              getEnv("SERVICE_NAME", "backupd"),
		MetricsListenAddr:        getEnv("METRICS_LISTEN_ADDR", ""),
	}

	return cfg, nil
}

// Validate checks the fields required by the given run mode.
func (c *Config) Validate(mode string) error {
	var missing []string

	switch mode {
	case "run", "sweep", "list", "validate", "restore", "status":
		if c.BackupBucket == "" {
			missing = append(missing, "BACKUP_BUCKET")
		}
	case "history":
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.WorkerBudget < 1 {
		return fmt.Errorf("WORKER_BUDGET must be at least 1, got %d", c.WorkerBudget)
	}
	if c.RetentionDays < 1 {
		return fmt.Errorf("BACKUP_RETENTION_DAYS must be at least 1, got %d", c.RetentionDays)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.RetryMaxAttempts)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
