package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ListenAddr != ":8484" {
		t.Errorf("listen addr = %q, want :8484", cfg.ListenAddr)
	}
	if cfg.Remote.SyncInterval != 5*time.Minute {
		t.Errorf("sync interval = %v, want 5m", cfg.Remote.SyncInterval)
	}
	if cfg.StateDir == "" || cfg.DatabasePath == "" {
		t.Error("state dir and database path should have defaults")
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
listen_addr: ":9000"
remote:
  base_url: "https://tasks.example.com"
  sync_interval: 90s
log:
  file: "/tmp/syncpad.log"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ListenAddr != ":9000" {
		t.Errorf("listen addr = %q, want :9000", cfg.ListenAddr)
	}
	if cfg.Remote.BaseURL != "https://tasks.example.com" {
		t.Errorf("base url = %q", cfg.Remote.BaseURL)
	}
	if cfg.Remote.SyncInterval != 90*time.Second {
		t.Errorf("sync interval = %v, want 90s", cfg.Remote.SyncInterval)
	}
	if cfg.Log.MaxSizeMB != 10 {
		t.Errorf("unset log.max_size_mb should keep its default, got %d", cfg.Log.MaxSizeMB)
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("SYNCPAD_REMOTE_TOKEN", "secret")
	t.Setenv("SYNCPAD_LISTEN_ADDR", ":7777")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Remote.Token != "secret" {
		t.Errorf("token = %q, want secret", cfg.Remote.Token)
	}
	if cfg.ListenAddr != ":7777" {
		t.Errorf("listen addr = %q, want :7777", cfg.ListenAddr)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected an error for a missing config file")
	}
}
