// Package config loads and validates service configuration from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Passport storage backends.
const (
	PassportBackendLocal = "local"
	PassportBackendS3    = "s3"
)

// Config holds application configuration.
type Config struct {
	HTTPAddr      string `mapstructure:"HTTP_ADDR"`
	DatabaseDSN   string `mapstructure:"DATABASE_DSN"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	// ExtractorAddr is the gRPC address of the face feature extractor.
	ExtractorAddr string `mapstructure:"EXTRACTOR_ADDR"`

	// VerifyThreshold is the maximum Euclidean distance counted as a match.
	VerifyThreshold float64 `mapstructure:"VERIFY_THRESHOLD"`
	// VerifyRequiredMatches is how many reference vectors one probe must match. 1 accepts any match.
	VerifyRequiredMatches int `mapstructure:"VERIFY_REQUIRED_MATCHES"`

	SessionTTL           time.Duration `mapstructure:"SESSION_TTL"`
	SessionPurgeInterval time.Duration `mapstructure:"SESSION_PURGE_INTERVAL"`
	CookieSecure         bool          `mapstructure:"COOKIE_SECURE"`

	// ImageMaxPixels bounds width*height of every submitted image.
	ImageMaxPixels int `mapstructure:"IMAGE_MAX_PIXELS"`

	PassportPadding float64 `mapstructure:"PASSPORT_PADDING"`
	PassportBackend string  `mapstructure:"PASSPORT_BACKEND"`
	PassportDir     string  `mapstructure:"PASSPORT_DIR"`

	S3Region    string `mapstructure:"S3_REGION"`
	S3Bucket    string `mapstructure:"S3_BUCKET"`
	S3Endpoint  string `mapstructure:"S3_ENDPOINT"`
	S3AccessKey string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey string `mapstructure:"S3_SECRET_KEY"`

	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
}

// Load reads .env when present, then overlays the environment. Missing .env is ignored.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=faceauth port=5432 sslmode=disable")
	v.SetDefault("REDIS_ADDR", "redis:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("EXTRACTOR_ADDR", "face-extractor:50051")
	v.SetDefault("VERIFY_THRESHOLD", 0.6)
	v.SetDefault("VERIFY_REQUIRED_MATCHES", 3)
	v.SetDefault("SESSION_TTL", "120s")
	v.SetDefault("SESSION_PURGE_INTERVAL", "1m")
	v.SetDefault("COOKIE_SECURE", true)
	v.SetDefault("IMAGE_MAX_PIXELS", 16<<20)
	v.SetDefault("PASSPORT_PADDING", 0.5)
	v.SetDefault("PASSPORT_BACKEND", PassportBackendLocal)
	v.SetDefault("PASSPORT_DIR", "data")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_BUCKET", "")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_ACCESS_KEY", "")
	v.SetDefault("S3_SECRET_KEY", "")
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("LOG_LEVEL", "info")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.PassportBackend = strings.ToLower(strings.TrimSpace(cfg.PassportBackend))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}
	if c.DatabaseDSN == "" {
		return errors.New("config: DATABASE_DSN must be set")
	}
	if c.ExtractorAddr == "" {
		return errors.New("config: EXTRACTOR_ADDR must be set")
	}
	if !(c.VerifyThreshold > 0) || math.IsInf(c.VerifyThreshold, 1) {
		return errors.New("config: VERIFY_THRESHOLD must be a positive finite number")
	}
	if c.VerifyRequiredMatches < 1 || c.VerifyRequiredMatches > 5 {
		return errors.New("config: VERIFY_REQUIRED_MATCHES must be between 1 and 5")
	}
	if c.SessionTTL <= 0 {
		return errors.New("config: SESSION_TTL must be positive")
	}
	if c.SessionPurgeInterval <= 0 {
		return errors.New("config: SESSION_PURGE_INTERVAL must be positive")
	}
	if !(c.PassportPadding >= 0) || math.IsInf(c.PassportPadding, 1) {
		return errors.New("config: PASSPORT_PADDING must be a non-negative finite number")
	}
	if c.ImageMaxPixels <= 0 {
		return errors.New("config: IMAGE_MAX_PIXELS must be positive")
	}
	switch c.PassportBackend {
	case PassportBackendLocal:
		if c.PassportDir == "" {
			return errors.New("config: PASSPORT_DIR must be set for the local backend")
		}
	case PassportBackendS3:
		if c.S3Bucket == "" {
			return errors.New("config: S3_BUCKET must be set for the s3 backend")
		}
	default:
		return fmt.Errorf("config: unknown PASSPORT_BACKEND %q", c.PassportBackend)
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 15 * time.Second
	}
	return nil
}
