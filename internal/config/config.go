// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr         string
	GRPCAddr         string
	PostgresDSN      string
	AuthSecret       string
	DirectoryTimeout time.Duration
	NotifyTimeout    time.Duration
	RedisAddr        string
	RedisPassword    string
	NotifyStream     string
	OTLPEndpoint     string
	OTLPInsecure     bool
	ServiceName      string
	PolicyFile       string
}

// Load reads an optional .env file and then the process environment.
// Malformed values are reported instead of silently falling back.
func Load(files ...string) (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load(files...)

	cfg := Config{
		HTTPAddr:      getEnv("TRIPWISE_HTTP_ADDR", ":8080"),
		GRPCAddr:      getEnv("TRIPWISE_GRPC_ADDR", ":9090"),
		PostgresDSN:   strings.TrimSpace(os.Getenv("TRIPWISE_PG_DSN")),
		AuthSecret:    strings.TrimSpace(os.Getenv("TRIPWISE_AUTH_SECRET")),
		RedisAddr:     strings.TrimSpace(os.Getenv("TRIPWISE_REDIS_ADDR")),
		RedisPassword: os.Getenv("TRIPWISE_REDIS_PASSWORD"),
		NotifyStream:  getEnv("TRIPWISE_NOTIFY_STREAM", "tripwise:notifications"),
		OTLPEndpoint:  strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		ServiceName:   getEnv("OTEL_SERVICE_NAME", "tripwise-api"),
		PolicyFile:    strings.TrimSpace(os.Getenv("TRIPWISE_POLICY_FILE")),
	}
	var err error
	if cfg.DirectoryTimeout, err = durationEnv("TRIPWISE_DIRECTORY_TIMEOUT", 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.NotifyTimeout, err = durationEnv("TRIPWISE_NOTIFY_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.OTLPInsecure, err = boolEnv("OTEL_EXPORTER_OTLP_INSECURE", false); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config: %s must be a positive duration, got %q", key, raw)
	}
	return d, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("config: %s must be a boolean, got %q", key, raw)
	}
	return b, nil
}
