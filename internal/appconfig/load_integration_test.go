// internal/appconfig/load_integration_test.go
package appconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadDefaultPath(t *testing.T) {
	tempDir := t.TempDir()
	configDir := filepath.Join(tempDir, "configs")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	path := filepath.Join(configDir, "experiment.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	oldCwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(tempDir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(oldCwd) })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.ConfigPath != DefaultConfigPath {
		t.Fatalf("expected config path %q, got %q", DefaultConfigPath, cfg.ConfigPath)
	}
	if cfg.Server.Model != "test-model" {
		t.Fatalf("unexpected model %q", cfg.Server.Model)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "no configuration file found") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadInvalidFileNamesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), path) {
		t.Fatalf("error should mention %s: %v", path, err)
	}
}

func TestLoadRepositoryExample(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "experiment.yaml"))
	if err != nil {
		t.Fatalf("example config should load: %v", err)
	}
	if cfg.Target.Kind != TargetNative {
		t.Fatalf("unexpected target kind %q", cfg.Target.Kind)
	}
	if cfg.LoadGen.Seed == nil || *cfg.LoadGen.Seed != 7 {
		t.Fatalf("expected loadgen seed 7, got %v", cfg.LoadGen.Seed)
	}
}
