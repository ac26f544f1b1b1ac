package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for
// LoadConfig and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	t.Cleanup(func() { os.Remove(f.Name()) })
	return f.Name()
}

const minimalConfig = `tradeflow:
  name: "TestApp"
  version: "1.0"
broker:
  url: "ws://localhost:8080/ws"
rest:
  base_url: "http://localhost:8080"
`

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, minimalConfig)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Tradeflow.Name != "TestApp" {
		t.Fatalf("unexpected name: %s", cfg.Tradeflow.Name)
	}
	if cfg.Broker.HeartbeatInterval != 4*time.Second {
		t.Fatalf("expected default heartbeat interval, got %v", cfg.Broker.HeartbeatInterval)
	}
	if cfg.Broker.Reconnect.Interval != 3*time.Second {
		t.Fatalf("expected default reconnect interval, got %v", cfg.Broker.Reconnect.Interval)
	}
	if cfg.Broker.Reconnect.MaxAttempts != 0 {
		t.Fatalf("expected unbounded retries by default, got %d", cfg.Broker.Reconnect.MaxAttempts)
	}
}

func TestLoadConfigMissingBrokerURL(t *testing.T) {
	path := writeTempConfig(t, `tradeflow:
  name: "TestApp"
  version: "1.0"
rest:
  base_url: "http://localhost:8080"
`)

	if _, err := LoadConfig(path); err == nil || !strings.Contains(err.Error(), "broker.url") {
		t.Fatalf("expected broker.url validation error, got %v", err)
	}
}

func TestLoadConfigRecorderValidation(t *testing.T) {
	path := writeTempConfig(t, minimalConfig+`recorder:
  enabled: true
`)

	if _, err := LoadConfig(path); err == nil || !strings.Contains(err.Error(), "recorder.directory") {
		t.Fatalf("expected recorder.directory validation error, got %v", err)
	}
}

func TestLoadConfigS3EnvOverride(t *testing.T) {
	t.Setenv("S3_BUCKET", "override-bucket")
	t.Setenv("AWS_REGION", "eu-west-1")

	path := writeTempConfig(t, minimalConfig+`recorder:
  enabled: true
  directory: "tape"
  flush_interval: 5s
  s3:
    enabled: true
    bucket: "from-file"
    region: "us-east-1"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Recorder.S3.Bucket != "override-bucket" {
		t.Fatalf("expected env override for bucket, got %s", cfg.Recorder.S3.Bucket)
	}
	if cfg.Recorder.S3.Region != "eu-west-1" {
		t.Fatalf("expected env override for region, got %s", cfg.Recorder.S3.Region)
	}
}

func TestAppEnvironmentAliases(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	if env := AppEnvironment(); env != EnvironmentProduction {
		t.Fatalf("expected production, got %s", env)
	}
	if !IsProductionLike(EnvironmentStaging) {
		t.Fatalf("staging should be production-like")
	}
	t.Setenv("APP_ENV", "")
	if env := AppEnvironment(); env != EnvironmentDevelopment {
		t.Fatalf("expected development default, got %s", env)
	}
}
