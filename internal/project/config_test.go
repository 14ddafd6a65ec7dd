package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ChamsBouzaiene/gencode/internal/engine"
)

func TestConfigExists(t *testing.T) {
	tempDir := t.TempDir()

	if ConfigExists(tempDir) {
		t.Error("ConfigExists should return false when config doesn't exist")
	}

	dir := filepath.Join(tempDir, Dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create %s dir: %v", Dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte(`{"max_steps": 3}`), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if !ConfigExists(tempDir) {
		t.Error("ConfigExists should return true when config exists")
	}
}

func TestLoadConfig_NotExists(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Errorf("LoadConfig should not error when file doesn't exist: %v", err)
	}
	if cfg != nil {
		t.Error("LoadConfig should return nil when file doesn't exist")
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	tempDir := t.TempDir()

	cfg := &ProjectConfig{
		Permissions: &engine.Permissions{AllowFileCreate: true, AllowDirectoryCreate: true},
		MaxSteps:    8,
		Ignore:      []string{"generated/"},
	}
	if err := SaveConfig(tempDir, cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, Dir)); os.IsNotExist(err) {
		t.Errorf("%s directory should be created", Dir)
	}

	loaded, err := LoadConfig(tempDir)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded == nil {
		t.Fatal("LoadConfig returned nil")
	}
	if loaded.MaxSteps != 8 {
		t.Errorf("Expected MaxSteps=8, got %d", loaded.MaxSteps)
	}
	if len(loaded.Ignore) != 1 || loaded.Ignore[0] != "generated/" {
		t.Errorf("Expected Ignore=[generated/], got %v", loaded.Ignore)
	}
	if loaded.Permissions == nil || !loaded.Permissions.AllowDirectoryCreate {
		t.Errorf("Expected directory creation to be allowed, got %+v", loaded.Permissions)
	}
}

func TestApply(t *testing.T) {
	base := engine.DefaultOptions()
	base.Permissions.AllowFileDelete = true

	var none *ProjectConfig
	if got := none.Apply(base); got != base {
		t.Errorf("nil config should not change options, got %+v", got)
	}

	got := (&ProjectConfig{ContextTrigger: 4000, MaxSteps: 3}).Apply(base)
	if got.ContextTrigger != 4000 || got.MaxSteps != 3 {
		t.Errorf("overrides not applied: %+v", got)
	}
	if got.ContextBudget != base.ContextBudget {
		t.Errorf("ContextBudget changed to %d", got.ContextBudget)
	}
	if !got.Permissions.AllowFileDelete {
		t.Error("permissions without override should be kept")
	}

	got = (&ProjectConfig{Permissions: &engine.Permissions{}}).Apply(base)
	if got.Permissions.AllowFileDelete {
		t.Error("project permissions should replace user permissions")
	}
}

func TestLoadRules_NotExists(t *testing.T) {
	rules, err := LoadRules(t.TempDir())
	if err != nil {
		t.Errorf("LoadRules should not error when file doesn't exist: %v", err)
	}
	if rules != "" {
		t.Errorf("LoadRules should return empty string when file doesn't exist, got: %s", rules)
	}
}

func TestLoadRules(t *testing.T) {
	tempDir := t.TempDir()

	dir := filepath.Join(tempDir, Dir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create %s dir: %v", Dir, err)
	}

	expectedRules := "Prefer table-driven tests.\nNever touch vendor/."
	if err := os.WriteFile(filepath.Join(dir, RulesFile), []byte(expectedRules), 0644); err != nil {
		t.Fatalf("Failed to write rules file: %v", err)
	}

	rules, err := LoadRules(tempDir)
	if err != nil {
		t.Fatalf("LoadRules failed: %v", err)
	}
	if rules != expectedRules {
		t.Errorf("Expected rules:\n%s\nGot:\n%s", expectedRules, rules)
	}
}
