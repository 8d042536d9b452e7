package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config holds all application configuration.
type Config struct {
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	LogFile           string `env:"LOG_FILE"`
	LogFileMaxSizeMB  int    `env:"LOG_FILE_MAX_SIZE_MB" envDefault:"100" validate:"gt=0"`
	LogFileMaxBackups int    `env:"LOG_FILE_MAX_BACKUPS" envDefault:"5" validate:"gte=0"`

	AppEnv       string `env:"APP_ENV" envDefault:"production"`
	ServerAddr   string `env:"AUDIT_SERVER_ADDR" envDefault:":8080" validate:"required"`
	MetricsAddr  string `env:"METRICS_ADDR" envDefault:":9091" validate:"required"`
	MaxEventSize int64  `env:"MAX_EVENT_SIZE_BYTES" envDefault:"1048576" validate:"gt=0"` // 1MB

	FileEnabled   bool   `env:"AUDIT_FILE_ENABLED" envDefault:"true"`
	FileDir       string `env:"AUDIT_FILE_DIR" envDefault:"Logs" validate:"required_if=FileEnabled true"`
	FileName      string `env:"AUDIT_FILE_NAME" envDefault:"log" validate:"required_if=FileEnabled true"`
	FileMaxSizeMB int64  `env:"AUDIT_FILE_MAX_SIZE_MB" envDefault:"5" validate:"gt=0"`
	FileRotation  string `env:"AUDIT_FILE_ROTATION" envDefault:"Daily" validate:"oneof=Daily Weekly SizeBased None daily weekly sizebased none"`

	DBEnabled      bool          `env:"AUDIT_DB_ENABLED" envDefault:"false"`
	PostgresURL    string        `env:"POSTGRES_URL" validate:"required_if=DBEnabled true,required_if=AuthEnabled true"`
	DBWriteTimeout time.Duration `env:"AUDIT_DB_WRITE_TIMEOUT" envDefault:"5s" validate:"gte=0"`

	RedisEnabled      bool          `env:"AUDIT_REDIS_ENABLED" envDefault:"false"`
	RedisAddr         string        `env:"REDIS_ADDR" validate:"required_if=RedisEnabled true"`
	RedisStream       string        `env:"AUDIT_REDIS_STREAM" envDefault:"audit_events" validate:"required"`
	RedisDLQStream    string        `env:"AUDIT_REDIS_DLQ_STREAM" envDefault:"audit_events_dlq" validate:"required"`
	RedisWriteTimeout time.Duration `env:"AUDIT_REDIS_WRITE_TIMEOUT" envDefault:"2s" validate:"gte=0"`

	SpoolDir         string `env:"SPOOL_DIR" envDefault:"./spool" validate:"required"`
	SpoolSegmentSize int64  `env:"SPOOL_SEGMENT_SIZE_BYTES" envDefault:"104857600" validate:"gt=0"`     // 100MB
	SpoolMaxDiskSize int64  `env:"SPOOL_MAX_DISK_SIZE_BYTES" envDefault:"1073741824" validate:"gt=0"` // 1GB

	ConsumerGroup        string        `env:"AUDIT_CONSUMER_GROUP" envDefault:"audit-writers" validate:"required"`
	ConsumerBatchSize    int           `env:"CONSUMER_BATCH_SIZE" envDefault:"500" validate:"gt=0"`
	ConsumerRetryCount   int           `env:"CONSUMER_RETRY_COUNT" envDefault:"3" validate:"gt=0"`
	ConsumerRetryBackoff time.Duration `env:"CONSUMER_RETRY_BACKOFF" envDefault:"1s" validate:"gt=0"`
	ConsumerClaimIdle    time.Duration `env:"CONSUMER_CLAIM_MIN_IDLE" envDefault:"1m" validate:"gt=0"`

	RedactFields     string `env:"AUDIT_REDACT_FIELDS" envDefault:"password,credit_card,ssn"`
	ExceptionMessage string `env:"AUDIT_EXCEPTION_MESSAGE" envDefault:"An unexpected error occurred. Please try again later." validate:"required"`

	AuthEnabled    bool          `env:"AUTH_ENABLED" envDefault:"false"`
	APIKeyCacheTTL time.Duration `env:"API_KEY_CACHE_TTL" envDefault:"5m" validate:"gt=0"`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Development reports whether raw failure details may be shown to clients.
func (c *Config) Development() bool {
	return strings.EqualFold(c.AppEnv, EnvDevelopment)
}

// RedactFieldList splits RedactFields into trimmed, non-empty names.
func (c *Config) RedactFieldList() []string {
	var fields []string
	for _, f := range strings.Split(c.RedactFields, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}
