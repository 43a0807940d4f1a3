package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/onescan/dentalsync/order"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /var/lib/dentalsync/orders.db
http:
  addr: ":9090"
ingest:
  max_parallel: 3
  logout_after_run: true
  interval: 30m
platforms:
  meditlink:
    enabled: true
  dexis:
    enabled: true
    username_env: DEXIS_USER
    password_env: DEXIS_PASS
  itero:
    enabled: false
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Path != "/var/lib/dentalsync/orders.db" || cfg.HTTP.Addr != ":9090" {
		t.Errorf("paths: %+v", cfg)
	}
	if cfg.Ingest.MaxParallel != 3 || !cfg.Ingest.LogoutAfterRun || cfg.Ingest.Interval != 30*time.Minute {
		t.Errorf("ingest: %+v", cfg.Ingest)
	}

	enabled := cfg.EnabledPlatforms()
	if len(enabled) != 2 || enabled[0] != order.MeditLink || enabled[1] != order.Dexis {
		t.Errorf("enabled: %v", enabled)
	}

	// Named env vars stick, unnamed ones get the standard derivation.
	if cfg.Platforms["dexis"].UsernameEnv != "DEXIS_USER" {
		t.Errorf("dexis env: %+v", cfg.Platforms["dexis"])
	}
	if cfg.Platforms["meditlink"].PasswordEnv != "DENTALSYNC_MEDITLINK_PASSWORD" {
		t.Errorf("meditlink env: %+v", cfg.Platforms["meditlink"])
	}
}

func TestLoadFileRejectsUnknownPlatform(t *testing.T) {
	path := writeConfig(t, "platforms:\n  invisalign:\n    enabled: true\n")
	if _, err := LoadFile(path); err == nil {
		t.Fatal("unknown platform accepted")
	}
}

func TestDefaultEnablesEverything(t *testing.T) {
	cfg := Default()
	if got := cfg.EnabledPlatforms(); len(got) != len(order.Platforms) {
		t.Errorf("enabled: %v", got)
	}
	if cfg.Database.Path == "" || cfg.HTTP.Addr == "" {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestEnvCredentials(t *testing.T) {
	cfg := Default()
	src := cfg.Credentials()

	if _, err := src.Lookup(order.MeditLink); err == nil {
		t.Fatal("missing env vars should fail lookup")
	}

	t.Setenv("DENTALSYNC_MEDITLINK_USERNAME", "lab@example.com")
	t.Setenv("DENTALSYNC_MEDITLINK_PASSWORD", "s3cret")
	creds, err := src.Lookup(order.MeditLink)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if creds.Username != "lab@example.com" || creds.Password != "s3cret" {
		t.Errorf("creds: %+v", creds)
	}
}
