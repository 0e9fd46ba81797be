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
	cfg.DefaultProfile = "work"
	cfg.Notifications.WhileVisible = []string{"boss@example.net"}
	cfg.Privacy.Blocked = []string{"spam@example.net"}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if len(loaded.Notifications.WhileVisible) != 1 || loaded.Notifications.WhileVisible[0] != "boss@example.net" {
		t.Errorf("WhileVisible = %v, want [boss@example.net]", loaded.Notifications.WhileVisible)
	}
	if len(loaded.Privacy.Blocked) != 1 {
		t.Errorf("Blocked = %v, want one entry", loaded.Privacy.Blocked)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestLoadOrDefaultMissing(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if !cfg.Notifications.Enabled {
		t.Error("default Notifications.Enabled = false, want true")
	}
	if got := cfg.DelayThreshold(); got != 60*time.Second {
		t.Errorf("DelayThreshold() = %v, want 60s", got)
	}
}

func TestDelayThresholdOverride(t *testing.T) {
	cfg := Default()
	cfg.Dispatch.DelayMarkerSeconds = 90
	if got := cfg.DelayThreshold(); got != 90*time.Second {
		t.Errorf("DelayThreshold() = %v, want 90s", got)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
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
