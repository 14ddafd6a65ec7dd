package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ChamsBouzaiene/gencode/internal/engine"
)

// Config holds the user's persistent configuration preferences.
type Config struct {
	// Providers is the fallback order, e.g. ["anthropic", "openai"].
	Providers   []string           `json:"providers,omitempty"`
	Permissions engine.Permissions `json:"permissions"`

	ContextTrigger      int     `json:"context_trigger,omitempty"`      // Default: 10000 tokens
	ContextBudget       int     `json:"context_budget,omitempty"`       // Default: ContextTrigger
	AdmitRelevance      float64 `json:"admit_relevance,omitempty"`      // Default: 0.5
	HighRelevance       float64 `json:"high_relevance,omitempty"`       // Default: 0.7
	PopularityThreshold int     `json:"popularity_threshold,omitempty"` // Default: 25
	MaxSteps            int     `json:"max_steps,omitempty"`            // Default: 20

	Temperature   float32 `json:"temperature,omitempty"`
	Cheap         bool    `json:"cheap"`          // Use the cheap tier for action selection
	ImagesEnabled bool    `json:"images_enabled"` // Allow the generate-image action
	AutoRefresh   bool    `json:"auto_refresh"`   // Re-summarize files when they change
}

// Options converts the configuration into conversation options.
// Unset thresholds keep their defaults.
func (c *Config) Options() engine.Options {
	opts := engine.DefaultOptions()
	if c == nil {
		return opts
	}
	opts.Permissions = c.Permissions
	if c.ContextTrigger > 0 {
		opts.ContextTrigger = c.ContextTrigger
		opts.ContextBudget = c.ContextTrigger
	}
	if c.ContextBudget > 0 {
		opts.ContextBudget = c.ContextBudget
	}
	if c.AdmitRelevance > 0 {
		opts.AdmitRelevance = c.AdmitRelevance
	}
	if c.HighRelevance > 0 {
		opts.HighRelevance = c.HighRelevance
	}
	if c.PopularityThreshold > 0 {
		opts.PopularityThreshold = c.PopularityThreshold
	}
	if c.MaxSteps > 0 {
		opts.MaxSteps = c.MaxSteps
	}
	if c.Temperature > 0 {
		opts.Temperature = c.Temperature
	}
	opts.Cheap = c.Cheap
	opts.ImagesEnabled = c.ImagesEnabled
	return opts
}

// Validate rejects thresholds the optimizer cannot work with.
func (c *Config) Validate() error {
	if c.AdmitRelevance < 0 || c.AdmitRelevance > 1 {
		return fmt.Errorf("admit_relevance must be between 0 and 1, got %v", c.AdmitRelevance)
	}
	if c.HighRelevance < 0 || c.HighRelevance > 1 {
		return fmt.Errorf("high_relevance must be between 0 and 1, got %v", c.HighRelevance)
	}
	if c.AdmitRelevance > 0 && c.HighRelevance > 0 && c.HighRelevance < c.AdmitRelevance {
		return fmt.Errorf("high_relevance (%v) is below admit_relevance (%v)", c.HighRelevance, c.AdmitRelevance)
	}
	if c.ContextTrigger < 0 || c.ContextBudget < 0 || c.MaxSteps < 0 || c.PopularityThreshold < 0 {
		return fmt.Errorf("thresholds must not be negative")
	}
	return nil
}

// Manager handles loading and saving the configuration.
type Manager struct {
	configDir string
}

// NewManager creates a new configuration manager.
func NewManager() (*Manager, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user config dir: %w", err)
	}
	return NewManagerAt(filepath.Join(configDir, "gencode")), nil
}

// NewManagerAt creates a manager rooted at dir.
func NewManagerAt(dir string) *Manager {
	return &Manager{configDir: dir}
}

// Dir returns the configuration directory. The summary cache lives here too.
func (m *Manager) Dir() string {
	return m.configDir
}

// GetConfigPath returns the absolute path to the config.json file.
func (m *Manager) GetConfigPath() string {
	return filepath.Join(m.configDir, "config.json")
}

// Load reads the configuration from disk.
// If the file does not exist, it returns an empty Config and no error.
func (m *Manager) Load() (*Config, error) {
	path := m.GetConfigPath()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config json: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return &cfg, nil
}

// Save writes the configuration to disk with restricted permissions (0600).
func (m *Manager) Save(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(m.configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.GetConfigPath(), data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Exists checks if the configuration file has been created.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.GetConfigPath())
	return !os.IsNotExist(err)
}
