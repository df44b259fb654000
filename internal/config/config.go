package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	DatabaseMaxConns int `env:"DATABASE_MAX_CONNS,default=25"`

	S3Bucket          string `env:"S3_BUCKET,required=true"`
	S3Endpoint        string `env:"S3_ENDPOINT"`
	S3Region          string `env:"S3_REGION,default=us-east-1"`
	S3AccessKeyID     string `env:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"S3_SECRET_ACCESS_KEY"`
	S3UsePathStyle    bool   `env:"S3_USE_PATH_STYLE,default=false"`

	InlineThreshold   int `env:"INLINE_THRESHOLD,default=500"`
	InlineChunkSize   int `env:"INLINE_CHUNK_SIZE,default=100"`
	OffloadChunkSize  int `env:"OFFLOAD_CHUNK_SIZE,default=500"`
	ScanCap           int `env:"SCAN_CAP,default=10000"`
	DeleteChunkSize   int `env:"DELETE_CHUNK_SIZE,default=500"`
	MaxQuantity       int `env:"MAX_QUANTITY,default=100000"`
	InlineTimeoutSec  int `env:"INLINE_TIMEOUT_SEC,default=60"`
	OffloadTimeoutSec int `env:"OFFLOAD_TIMEOUT_SEC,default=300"`
	ExportURLTTLSec   int `env:"EXPORT_URL_TTL_SEC,default=3600"`
	LeaseTTLSec       int `env:"GENERATION_LEASE_SEC,default=600"`

	RateLimitPerSec   int    `env:"RATE_LIMIT_PER_SEC,default=20"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=4"`
	APIPort           int    `env:"API_PORT,default=8080"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`

	// AdminPrincipalIDs is a comma separated allow list. Empty admits every
	// authenticated principal.
	AdminPrincipalIDs string `env:"ADMIN_PRINCIPAL_IDS"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	positive := map[string]int{
		"INLINE_CHUNK_SIZE":    c.InlineChunkSize,
		"OFFLOAD_CHUNK_SIZE":   c.OffloadChunkSize,
		"SCAN_CAP":             c.ScanCap,
		"DELETE_CHUNK_SIZE":    c.DeleteChunkSize,
		"MAX_QUANTITY":         c.MaxQuantity,
		"INLINE_TIMEOUT_SEC":   c.InlineTimeoutSec,
		"OFFLOAD_TIMEOUT_SEC":  c.OffloadTimeoutSec,
		"EXPORT_URL_TTL_SEC":   c.ExportURLTTLSec,
		"GENERATION_LEASE_SEC": c.LeaseTTLSec,
		"DATABASE_MAX_CONNS":   c.DatabaseMaxConns,
	}
	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, value)
		}
	}
	if c.InlineThreshold < 0 {
		return fmt.Errorf("INLINE_THRESHOLD must not be negative, got %d", c.InlineThreshold)
	}
	return nil
}

func (c *Config) InlineTimeout() time.Duration {
	return time.Duration(c.InlineTimeoutSec) * time.Second
}

func (c *Config) OffloadTimeout() time.Duration {
	return time.Duration(c.OffloadTimeoutSec) * time.Second
}

func (c *Config) ExportURLTTL() time.Duration {
	return time.Duration(c.ExportURLTTLSec) * time.Second
}

func (c *Config) LeaseTTL() time.Duration {
	return time.Duration(c.LeaseTTLSec) * time.Second
}

// AdminPrincipals splits AdminPrincipalIDs, dropping blanks.
func (c *Config) AdminPrincipals() []string {
	var ids []string
	for _, id := range strings.Split(c.AdminPrincipalIDs, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
