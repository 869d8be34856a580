package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Jobs.ProgressEvery != 100 {
		t.Fatalf("expected progress every 100, got %d", cfg.Jobs.ProgressEvery)
	}
	if len(cfg.Parse.ReservedInstallationIDs) != 3 {
		t.Fatalf("expected 3 reserved installation ids, got %d", len(cfg.Parse.ReservedInstallationIDs))
	}
}

func TestLoadFromFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cloudcode.yaml")
	body := `
parse:
  server_url: https://api.example.com/parse
  application_id: app
  master_key: secret
upstream:
  timeout: 5s
jobs:
  page_size: 50
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Parse.ServerURL != "https://api.example.com/parse" || cfg.Parse.ApplicationID != "app" {
		t.Fatalf("unexpected parse section: %+v", cfg.Parse)
	}
	if cfg.Upstream.Timeout != 5*time.Second {
		t.Fatalf("expected 5s timeout, got %s", cfg.Upstream.Timeout)
	}
	if cfg.Jobs.PageSize != 50 {
		t.Fatalf("expected page size 50, got %d", cfg.Jobs.PageSize)
	}
	// Untouched sections keep their defaults.
	if cfg.Jobs.ProgressEvery != 100 {
		t.Fatalf("expected default progress cadence, got %d", cfg.Jobs.ProgressEvery)
	}
}

func TestLoadFromFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cloudcode.json")
	body := `{"parse": {"application_id": "app", "master_key": "mk"}, "daemon": {"http_addr": ":9000"}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Parse.MasterKey != "mk" || cfg.Daemon.HTTPAddr != ":9000" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CLOUDCODE_APPLICATION_ID", "env-app")
	t.Setenv("CLOUDCODE_MASTER_KEY", "env-master")
	t.Setenv("CLOUDCODE_RESERVED_INSTALLATION_IDS", "a, b ,,c")
	t.Setenv("CLOUDCODE_PROGRESS_EVERY", "10")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Parse.ApplicationID != "env-app" || cfg.Parse.MasterKey != "env-master" {
		t.Fatalf("credentials not applied: %+v", cfg.Parse)
	}
	if got := strings.Join(cfg.Parse.ReservedInstallationIDs, "|"); got != "a|b|c" {
		t.Fatalf("unexpected reserved ids %q", got)
	}
	if cfg.Jobs.ProgressEvery != 10 {
		t.Fatalf("expected progress every 10, got %d", cfg.Jobs.ProgressEvery)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Parse.ServerURL = "not a url"
	cfg.Jobs.ProgressEvery = 0
	cfg.Daemon.LogFormat = "xml"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"server_url", "progress_every", "log_format"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestRedactedMasksSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Parse.MasterKey = "mk"
	cfg.Postgres.DSN = "postgres://user:pw@localhost/db"

	out := cfg.Redacted()
	if out.Parse.MasterKey == "mk" {
		t.Fatal("master key not masked")
	}
	if strings.Contains(out.Postgres.DSN, "pw") {
		t.Fatalf("dsn password not masked: %s", out.Postgres.DSN)
	}
	if cfg.Parse.MasterKey != "mk" {
		t.Fatal("original config modified")
	}
}

func TestRateLimitFromEnv(t *testing.T) {
	t.Setenv("CLOUDCODE_RATE_LIMIT_RPS", "12.5")
	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if !cfg.RateLimit.Enabled || cfg.RateLimit.RequestsPerSecond != 12.5 {
		t.Fatalf("unexpected rate limit config %+v", cfg.RateLimit)
	}
	cfg.RateLimit.Burst = 0
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "rate_limit") {
		t.Fatalf("expected rate_limit validation error, got %v", err)
	}
}
