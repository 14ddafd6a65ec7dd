package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ChamsBouzaiene/gencode/internal/engine"
)

const (
	// Dir is the directory name for per-project configuration
	Dir = ".gencode"
	// ConfigFile is the name of the project configuration file
	ConfigFile = "config.json"
	// RulesFile is the name of the custom rules file
	RulesFile = "rules"
)

// ProjectConfig holds per-project overrides of the user configuration.
// Zero values leave the user setting in place.
type ProjectConfig struct {
	Permissions    *engine.Permissions `json:"permissions,omitempty"`
	ContextTrigger int                 `json:"context_trigger,omitempty"`
	ContextBudget  int                 `json:"context_budget,omitempty"`
	MaxSteps       int                 `json:"max_steps,omitempty"`
	// Ignore adds gitignore-style patterns excluded from the source map.
	Ignore []string `json:"ignore,omitempty"`
}

// Apply overlays the project overrides on opts.
func (c *ProjectConfig) Apply(opts engine.Options) engine.Options {
	if c == nil {
		return opts
	}
	if c.Permissions != nil {
		opts.Permissions = *c.Permissions
	}
	if c.ContextTrigger > 0 {
		opts.ContextTrigger = c.ContextTrigger
	}
	if c.ContextBudget > 0 {
		opts.ContextBudget = c.ContextBudget
	}
	if c.MaxSteps > 0 {
		opts.MaxSteps = c.MaxSteps
	}
	return opts
}

// configPath returns the full path to the project config file.
func configPath(repoRoot string) string {
	return filepath.Join(repoRoot, Dir, ConfigFile)
}

// rulesPath returns the full path to the project rules file.
func rulesPath(repoRoot string) string {
	return filepath.Join(repoRoot, Dir, RulesFile)
}

// ConfigExists checks if a project configuration file exists.
func ConfigExists(repoRoot string) bool {
	_, err := os.Stat(configPath(repoRoot))
	return !os.IsNotExist(err)
}

// LoadConfig reads the project configuration from disk.
// Returns nil and no error if the config file does not exist.
func LoadConfig(repoRoot string) (*ProjectConfig, error) {
	path := configPath(repoRoot)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read project config: %w", err)
	}

	var cfg ProjectConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse project config: %w", err)
	}

	return &cfg, nil
}

// SaveConfig writes the project configuration to disk.
// Creates the .gencode directory if it doesn't exist.
func SaveConfig(repoRoot string, cfg *ProjectConfig) error {
	if err := os.MkdirAll(filepath.Join(repoRoot, Dir), 0755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", Dir, err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal project config: %w", err)
	}

	if err := os.WriteFile(configPath(repoRoot), data, 0644); err != nil {
		return fmt.Errorf("failed to write project config: %w", err)
	}

	return nil
}

// LoadRules reads custom rules from the .gencode/rules file. They are
// appended to the system prompt.
// Returns empty string and no error if the file does not exist.
func LoadRules(repoRoot string) (string, error) {
	path := rulesPath(repoRoot)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read rules file: %w", err)
	}

	return string(data), nil
}
