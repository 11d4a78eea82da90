package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.VerifyThreshold != 0.6 {
		t.Errorf("VerifyThreshold = %v, want 0.6", cfg.VerifyThreshold)
	}
	if cfg.VerifyRequiredMatches != 3 {
		t.Errorf("VerifyRequiredMatches = %d, want 3", cfg.VerifyRequiredMatches)
	}
	if cfg.SessionTTL != 120*time.Second {
		t.Errorf("SessionTTL = %v, want 120s", cfg.SessionTTL)
	}
	if !cfg.CookieSecure {
		t.Error("CookieSecure should default to true")
	}
	if cfg.PassportBackend != PassportBackendLocal {
		t.Errorf("PassportBackend = %q, want local", cfg.PassportBackend)
	}
	if cfg.ImageMaxPixels != 16<<20 {
		t.Errorf("ImageMaxPixels = %d, want %d", cfg.ImageMaxPixels, 16<<20)
	}
	if cfg.ShutdownTimeout != 15*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 15s", cfg.ShutdownTimeout)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	os.Clearenv()
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("VERIFY_REQUIRED_MATCHES", "1")
	t.Setenv("SESSION_TTL", "5m")
	t.Setenv("COOKIE_SECURE", "false")
	t.Setenv("PASSPORT_BACKEND", "S3")
	t.Setenv("S3_BUCKET", "passports")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want :9090", cfg.HTTPAddr)
	}
	if cfg.VerifyRequiredMatches != 1 {
		t.Errorf("VerifyRequiredMatches = %d, want 1", cfg.VerifyRequiredMatches)
	}
	if cfg.SessionTTL != 5*time.Minute {
		t.Errorf("SessionTTL = %v, want 5m", cfg.SessionTTL)
	}
	if cfg.CookieSecure {
		t.Error("CookieSecure should be false")
	}
	if cfg.PassportBackend != PassportBackendS3 || cfg.S3Bucket != "passports" {
		t.Errorf("unexpected passport config %q %q", cfg.PassportBackend, cfg.S3Bucket)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "required matches", env: map[string]string{"VERIFY_REQUIRED_MATCHES": "6"}, want: "VERIFY_REQUIRED_MATCHES"},
		{name: "threshold", env: map[string]string{"VERIFY_THRESHOLD": "0"}, want: "VERIFY_THRESHOLD"},
		{name: "threshold nan", env: map[string]string{"VERIFY_THRESHOLD": "NaN"}, want: "VERIFY_THRESHOLD"},
		{name: "threshold inf", env: map[string]string{"VERIFY_THRESHOLD": "+Inf"}, want: "VERIFY_THRESHOLD"},
		{name: "padding nan", env: map[string]string{"PASSPORT_PADDING": "NaN"}, want: "PASSPORT_PADDING"},
		{name: "image max pixels", env: map[string]string{"IMAGE_MAX_PIXELS": "0"}, want: "IMAGE_MAX_PIXELS"},
		{name: "backend", env: map[string]string{"PASSPORT_BACKEND": "ftp"}, want: "PASSPORT_BACKEND"},
		{name: "s3 bucket", env: map[string]string{"PASSPORT_BACKEND": "s3"}, want: "S3_BUCKET"},
		{name: "session ttl", env: map[string]string{"SESSION_TTL": "0s"}, want: "SESSION_TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.HasPrefix(err.Error(), "config:") || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("unexpected error %q", err)
			}
		})
	}
}
