package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  addr: ":8088"
auth:
  enabled: true
  admin_user: operator
dashboard:
  poll_interval: 2s
agents:
  - type: support
    name: Support Bot
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8088" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if !cfg.Auth.Enabled || cfg.Auth.AdminUser != "operator" {
		t.Errorf("auth = %+v", cfg.Auth)
	}
	if cfg.Dashboard.PollInterval.Std() != 2*time.Second {
		t.Errorf("poll interval = %v", cfg.Dashboard.PollInterval.Std())
	}
	// Fields absent from the file keep their defaults.
	if cfg.LogLevel != "info" || cfg.Dashboard.PageSize != 10 {
		t.Errorf("defaults lost: log_level=%q page_size=%d", cfg.LogLevel, cfg.Dashboard.PageSize)
	}
	if len(cfg.Agents) != 1 || cfg.Agents[0].Type != "support" {
		t.Errorf("agents = %+v", cfg.Agents)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("dashboard:\n  poll_interval: soon\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for bad duration")
	}
}
