// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for the
// OrchestratAI terminal client.
//
// Configuration is TOML, with sensible defaults and environment variable
// overrides. File location: ~/.orchestratai/config.toml.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete client configuration.
type Config struct {
	// API holds the backend endpoint settings.
	API APIConfig `toml:"api"`

	// UI holds presentation settings.
	UI UIConfig `toml:"ui"`

	// DevMode enables structured request/response logging to
	// ~/.orchestratai/debug.log.
	DevMode bool `toml:"dev_mode"`
}

// APIConfig contains backend endpoint configuration.
type APIConfig struct {
	// BaseURL is the root of the OrchestratAI API, e.g. "http://localhost:8000".
	// Required: the streaming path fails fast without it.
	BaseURL string `toml:"base_url"`

	// RequestTimeoutSecs is the per-request deadline for the
	// non-streaming path. The streaming path is context-controlled.
	RequestTimeoutSecs int `toml:"request_timeout_secs"`
}

// UIConfig contains UI configuration.
type UIConfig struct {
	// Theme is the UI theme: "dark", "light", "auto"
	Theme string `toml:"theme"`
	// ShowMetrics displays token/cost totals in the agent panel
	ShowMetrics bool `toml:"show_metrics"`
	// ShowLogs opens the retrieval log panel at startup
	ShowLogs bool `toml:"show_logs"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:            "",
			RequestTimeoutSecs: 30,
		},
		UI: UIConfig{
			Theme:       "dark",
			ShowMetrics: true,
			ShowLogs:    false,
		},
		DevMode: false,
	}
}

// =============================================================================
// PATH HELPERS
// =============================================================================

// Dir returns the client configuration directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".orchestratai"), nil
}

// Path returns the path to the TOML config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load loads configuration from the config file, applies environment
// overrides, fills defaults, and validates. A missing file is not an
// error: defaults plus environment are used.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific file path.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, statErr := os.Stat(path); statErr == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	fmt.Fprintln(file, "# orchestratai-tui configuration file")
	fmt.Fprintln(file, "")

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - ORCA_BASE_URL: overrides api.base_url
//   - ORCA_TIMEOUT_SECS: overrides api.request_timeout_secs
//   - ORCA_THEME: overrides ui.theme
//   - ORCA_DEV: set to "1" or "true" to enable dev mode
func (c *Config) ApplyEnvOverrides() {
	if base := os.Getenv("ORCA_BASE_URL"); base != "" {
		c.API.BaseURL = base
	}
	if secs := os.Getenv("ORCA_TIMEOUT_SECS"); secs != "" {
		if n, err := strconv.Atoi(secs); err == nil {
			c.API.RequestTimeoutSecs = n
		}
	}
	if theme := os.Getenv("ORCA_THEME"); theme != "" {
		c.UI.Theme = theme
	}
	if dev := os.Getenv("ORCA_DEV"); dev != "" {
		c.DevMode = dev == "1" || strings.EqualFold(dev, "true")
	}
}

// SetDefaults fills any missing or zero-value fields.
func (c *Config) SetDefaults() {
	defaults := Default()
	if c.API.RequestTimeoutSecs == 0 {
		c.API.RequestTimeoutSecs = defaults.API.RequestTimeoutSecs
	}
	if c.UI.Theme == "" {
		c.UI.Theme = defaults.UI.Theme
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
// An empty base URL passes here: only the streaming path requires it,
// and it fails fast at stream construction instead.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.API.BaseURL != "" {
		u, err := url.Parse(c.API.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "api.base_url",
				Message: fmt.Sprintf("invalid URL %q, expected e.g. http://localhost:8000", c.API.BaseURL),
			})
		}
	}

	if c.API.RequestTimeoutSecs < 1 || c.API.RequestTimeoutSecs > 300 {
		errs = append(errs, ValidationError{
			Field:   "api.request_timeout_secs",
			Message: fmt.Sprintf("must be 1-300, got %d", c.API.RequestTimeoutSecs),
		})
	}

	validThemes := map[string]bool{"dark": true, "light": true, "auto": true}
	if !validThemes[strings.ToLower(c.UI.Theme)] {
		errs = append(errs, ValidationError{
			Field:   "ui.theme",
			Message: fmt.Sprintf("invalid theme '%s', must be one of: dark, light, auto", c.UI.Theme),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
