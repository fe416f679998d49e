package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TRIPWISE_HTTP_ADDR", "")
	t.Setenv("TRIPWISE_DIRECTORY_TIMEOUT", "")
	t.Setenv("TRIPWISE_NOTIFY_TIMEOUT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.DirectoryTimeout != 2*time.Second || cfg.NotifyTimeout != 5*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadFromDotEnv(t *testing.T) {
	t.Setenv("TRIPWISE_GRPC_ADDR", "")
	os.Unsetenv("TRIPWISE_GRPC_ADDR")
	t.Setenv("TRIPWISE_POLICY_FILE", "")
	os.Unsetenv("TRIPWISE_POLICY_FILE")
	t.Setenv("TRIPWISE_DIRECTORY_TIMEOUT", "750ms")

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("TRIPWISE_GRPC_ADDR=:7001\nTRIPWISE_POLICY_FILE=/etc/tripwise/policy.yaml\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GRPCAddr != ":7001" {
		t.Fatalf("expected .env value, got %q", cfg.GRPCAddr)
	}
	if cfg.PolicyFile != "/etc/tripwise/policy.yaml" {
		t.Fatalf("unexpected policy file %q", cfg.PolicyFile)
	}
	if cfg.DirectoryTimeout != 750*time.Millisecond {
		t.Fatalf("expected process env to win, got %v", cfg.DirectoryTimeout)
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("TRIPWISE_NOTIFY_TIMEOUT", "soon")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatalf("expected error for malformed duration")
	}
	t.Setenv("TRIPWISE_NOTIFY_TIMEOUT", "")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "maybe")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Fatalf("expected error for malformed bool")
	}
}
