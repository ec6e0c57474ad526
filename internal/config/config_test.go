package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.Persistence.FlushInterval = Duration{30 * time.Second}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.Persistence.FlushInterval.Duration != 30*time.Second {
		t.Errorf("FlushInterval = %v, want 30s", loaded.Persistence.FlushInterval)
	}
}

func TestLoadMissingUsesDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Persistence.BackupRetention != 10 || cfg.Connection.ReconnectDelay.Duration != 5*time.Second {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestLoadPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
default_session = "ops"

[persistence]
backup_interval = "1m"

[dedup]
window = "1500ms"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Persistence.BackupInterval.Duration != time.Minute {
		t.Errorf("BackupInterval = %v, want 1m", cfg.Persistence.BackupInterval)
	}
	if cfg.Persistence.FlushInterval.Duration != 10*time.Second {
		t.Errorf("FlushInterval = %v, default should survive", cfg.Persistence.FlushInterval)
	}
	if cfg.Dedup.Window.Duration != 1500*time.Millisecond {
		t.Errorf("Window = %v", cfg.Dedup.Window)
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[connection]\nreconnect_delay = \"soon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid duration")
	}
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	env := map[string]string{"WPP_LISTEN": ":8080", "WPP_LOG_LEVEL": "debug"}
	cfg.ApplyEnv(func(k string) string { return env[k] })
	if cfg.HTTP.Listen != ":8080" || cfg.LogLevel != "debug" {
		t.Errorf("cfg = %+v", cfg)
	}

	cfg.ApplyEnv(func(string) string { return "" })
	if cfg.HTTP.Listen != ":8080" {
		t.Error("empty variables must not override")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultSession: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
