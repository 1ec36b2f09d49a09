package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/contractgate/contractgate/internal/config"
)

func TestApplyOverridesSpecRelativeToWorkingDir(t *testing.T) {
	configDir := t.TempDir()
	configPath := filepath.Join(configDir, "contractgate.yaml")
	if err := os.WriteFile(configPath, []byte("configVersion: 1\nengine:\n  spec: orders.jst\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := applyOverrides(cfg, "127.0.0.1:9000", filepath.Join("specs", "v2.jst")); err != nil {
		t.Fatalf("applyOverrides error: %v", err)
	}

	want := filepath.Join(wd, "specs", "v2.jst")
	if got := cfg.SpecFor(cfg.Routes[0]); got != want {
		t.Fatalf("expected spec %q, got %q", want, got)
	}
	if cfg.Server.Listen != "127.0.0.1:9000" {
		t.Fatalf("expected listen override, got %q", cfg.Server.Listen)
	}
}

func TestApplyOverridesKeepsConfigWithoutFlags(t *testing.T) {
	cfg := &config.Config{Engine: config.EngineConfig{Spec: "orders.jst"}}
	cfg.ApplyDefaults()

	if err := applyOverrides(cfg, "", ""); err != nil {
		t.Fatalf("applyOverrides error: %v", err)
	}
	if cfg.Engine.Spec != "orders.jst" || cfg.Server.Listen != config.DefaultListen {
		t.Fatalf("expected config untouched, got spec=%q listen=%q", cfg.Engine.Spec, cfg.Server.Listen)
	}
}
