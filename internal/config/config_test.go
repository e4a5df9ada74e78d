package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Resolution.CollaboratorTimeout != 30*time.Second {
		t.Errorf("default timeout wrong: %v", cfg.Resolution.CollaboratorTimeout)
	}
	if cfg.Resolution.TransientRetries != 2 {
		t.Errorf("default retries wrong: %d", cfg.Resolution.TransientRetries)
	}
	if cfg.Match.Floor != 40 || cfg.Match.ConfirmThreshold != 80 {
		t.Errorf("default match config wrong: %+v", cfg.Match)
	}
}

func TestLoad_PartialFileLayersOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	body := []byte("match:\n  floor: 50\nresolution:\n  transient_retries: 5\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Match.Floor != 50 {
		t.Errorf("floor override not applied: %d", cfg.Match.Floor)
	}
	if cfg.Match.ConfirmThreshold != 80 {
		t.Errorf("unset field should keep default, got %d", cfg.Match.ConfirmThreshold)
	}
	if cfg.Resolution.TransientRetries != 5 {
		t.Errorf("retries override not applied: %d", cfg.Resolution.TransientRetries)
	}
	if cfg.Resolution.CollaboratorTimeout != 30*time.Second {
		t.Errorf("unset timeout should keep default: %v", cfg.Resolution.CollaboratorTimeout)
	}
}

func TestLoad_MissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
