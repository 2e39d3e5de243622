package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const baseYAML = `
environment: dev
connection:
  host: ${TEST_IBD_HOST}
  port: 7497
  client_id: 1
retry:
  max_attempts: 3
  wait_seconds: 5s
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadExpandsEnvAndNormalizes(t *testing.T) {
	t.Setenv("TEST_IBD_HOST", "127.0.0.1")
	dir := t.TempDir()
	path := writeFile(t, dir, "settings.yaml", baseYAML)

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Connection.Host != "127.0.0.1" {
		t.Fatalf("want expanded host, got %q", cfg.Connection.Host)
	}
	if cfg.RateLimit.Window != 10*time.Second {
		t.Fatalf("want default rate limit window 10s, got %s", cfg.RateLimit.Window)
	}
	if cfg.FailureHandling.MaxConsecutiveNoDataDays != 10 {
		t.Fatalf("want normalized default 10, got %d", cfg.FailureHandling.MaxConsecutiveNoDataDays)
	}
}

func TestLoadAppliesEnvironmentOverlay(t *testing.T) {
	t.Setenv("TEST_IBD_HOST", "127.0.0.1")
	dir := t.TempDir()
	path := writeFile(t, dir, "settings.yaml", baseYAML)
	writeFile(t, dir, "settings-prod.yaml", "connection:\n  port: 4001\n")

	cfg, err := Load(path, "prod")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Connection.Port != 4001 {
		t.Fatalf("want overlay port 4001, got %d", cfg.Connection.Port)
	}
}

func TestLoadEnvVarOverridesTakePrecedence(t *testing.T) {
	t.Setenv("TEST_IBD_HOST", "127.0.0.1")
	t.Setenv("IBD_HOST", "10.0.0.5")
	dir := t.TempDir()
	path := writeFile(t, dir, "settings.yaml", baseYAML)

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Connection.Host != "10.0.0.5" {
		t.Fatalf("want IBD_HOST override to win, got %q", cfg.Connection.Host)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Setenv("TEST_IBD_HOST", "127.0.0.1")
	dir := t.TempDir()
	path := writeFile(t, dir, "settings.yaml", baseYAML+"\nbogus_key: true\n")

	if _, err := Load(path, ""); err == nil {
		t.Fatalf("want error for unknown config key")
	}
}

func TestValidateRejectsMissingHost(t *testing.T) {
	cfg := &Config{}
	cfg.Connection.Port = 7497
	cfg.Normalize()
	if err := cfg.Validate(); err == nil {
		t.Fatalf("want error for missing connection.host")
	}
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := &Config{}
	cfg.Connection.Host = "127.0.0.1"
	cfg.Connection.Port = 7497
	cfg.Logging.Level = "verbose"
	cfg.Normalize()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("want error for invalid logging.level")
	}
}

func TestDashboardIsEnabledDefaultsTrue(t *testing.T) {
	var d DashboardConfig
	if !d.IsEnabled() {
		t.Fatal("want dashboard enabled by default when unset")
	}
}

func TestDashboardIsEnabledHonorsExplicitFalse(t *testing.T) {
	f := false
	d := DashboardConfig{Enabled: &f}
	if d.IsEnabled() {
		t.Fatal("want dashboard disabled when enabled: false")
	}
}
