// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for skein.
//
// Configuration lives in ~/.skein/config.toml with sensible defaults and
// SKEIN_* environment variable overrides. Values outside their valid
// range are clamped, not rejected: a bad config file should never keep
// the chat client from starting.
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/jeranaias/skein-tui/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete skein configuration.
type Config struct {
	Version string `toml:"version"`

	// Backend configuration (local HTTP conversation service)
	Backend BackendConfig `toml:"backend"`

	// Session configuration (concurrent generations, reattach)
	Session SessionConfig `toml:"session"`

	// Cache configuration (durable local conversation cache)
	Cache CacheConfig `toml:"cache"`

	// UI configuration
	UI UIConfig `toml:"ui"`

	// Log configuration
	Log LogConfig `toml:"log"`
}

// BackendConfig locates the local conversation service.
type BackendConfig struct {
	// BaseURL is the backend's base URL
	BaseURL string `toml:"base_url"`
	// Workspace is the default workspace path sent with new conversations
	// (empty = current working directory)
	Workspace string `toml:"workspace"`
	// TimeoutSecs is the timeout for plain request/response calls
	TimeoutSecs int `toml:"timeout_secs"`
	// StreamTimeoutSecs bounds how long a chat stream may stay open
	// (0 = unlimited)
	StreamTimeoutSecs int `toml:"stream_timeout_secs"`
}

// SessionConfig bounds concurrent generation and reattach behavior.
type SessionConfig struct {
	// MaxConcurrent is the number of conversations that may generate at
	// once. Clamped to 1-8.
	MaxConcurrent int `toml:"max_concurrent"`
	// ReattachAttempts is how many times to poll a pending conversation
	// after reopening it
	ReattachAttempts int `toml:"reattach_attempts"`
	// ReattachIntervalSecs is the delay between reattach polls
	ReattachIntervalSecs int `toml:"reattach_interval_secs"`
	// StuckPendingSecs is how long a conversation may report pending
	// before the client treats the generation as lost
	StuckPendingSecs int `toml:"stuck_pending_secs"`
}

// CacheConfig configures the durable local cache.
type CacheConfig struct {
	// Path is the SQLite database path (empty = ~/.skein/cache.db)
	Path string `toml:"path"`
	// MaxEntries is the conversation cap before LRU eviction. Clamped
	// to 1-1000.
	MaxEntries int `toml:"max_entries"`
}

// UIConfig contains UI configuration.
type UIConfig struct {
	// Theme is the UI theme: "dark", "light", "auto"
	Theme string `toml:"theme"`
	// RepaintFPS bounds streaming repaints per second. Clamped to 1-60.
	RepaintFPS int `toml:"repaint_fps"`
	// CompactMode uses a more compact layout
	CompactMode bool `toml:"compact_mode"`
}

// LogConfig configures the debug log file.
type LogConfig struct {
	// Enabled turns file logging on
	Enabled bool `toml:"enabled"`
	// Path is the log file path (empty = ~/.skein/skein.log)
	Path string `toml:"path"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Backend: BackendConfig{
			BaseURL:           "http://127.0.0.1:8737",
			TimeoutSecs:       30,
			StreamTimeoutSecs: 0, // streams stay open as long as the backend generates
		},

		Session: SessionConfig{
			MaxConcurrent:        2,
			ReattachAttempts:     10,
			ReattachIntervalSecs: 1,
			StuckPendingSecs:     15,
		},

		Cache: CacheConfig{
			Path:       "",
			MaxEntries: 50,
		},

		UI: UIConfig{
			Theme:       "dark",
			RepaintFPS:  30,
			CompactMode: false,
		},

		Log: LogConfig{
			Enabled: false,
			Path:    "",
		},
	}
}

// =============================================================================
// PATH HELPERS
// =============================================================================

// Dir returns the skein configuration directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".skein"), nil
}

// Path returns the path to the TOML config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureDir ensures the config directory exists.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// CachePath resolves the cache database path, falling back to the
// default under the config dir.
func (c *Config) CachePath() (string, error) {
	if c.Cache.Path != "" {
		return c.Cache.Path, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "cache.db"), nil
}

// LogPath resolves the log file path, falling back to the default under
// the config dir.
func (c *Config) LogPath() (string, error) {
	if c.Log.Path != "" {
		return c.Log.Path, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "skein.log"), nil
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load loads configuration from ~/.skein/config.toml, falling back to
// defaults when the file is missing. Environment overrides apply last,
// then values are clamped into their valid ranges.
func Load() (*Config, error) {
	cfg := Default()

	path, err := Path()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if err := LoadTOML(cfg, path); err != nil {
				return nil, fmt.Errorf("failed to load config: %w", err)
			}
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.Clamp()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if err := LoadTOML(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	cfg.ApplyEnvOverrides()
	cfg.Clamp()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg's current values.
func LoadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	fillDefaults(cfg)
	return nil
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}
	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = defaults.Backend.BaseURL
	}
	if cfg.Backend.TimeoutSecs == 0 {
		cfg.Backend.TimeoutSecs = defaults.Backend.TimeoutSecs
	}
	if cfg.Session.MaxConcurrent == 0 {
		cfg.Session.MaxConcurrent = defaults.Session.MaxConcurrent
	}
	if cfg.Session.ReattachAttempts == 0 {
		cfg.Session.ReattachAttempts = defaults.Session.ReattachAttempts
	}
	if cfg.Session.ReattachIntervalSecs == 0 {
		cfg.Session.ReattachIntervalSecs = defaults.Session.ReattachIntervalSecs
	}
	if cfg.Session.StuckPendingSecs == 0 {
		cfg.Session.StuckPendingSecs = defaults.Session.StuckPendingSecs
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = defaults.Cache.MaxEntries
	}
	if cfg.UI.Theme == "" {
		cfg.UI.Theme = defaults.UI.Theme
	}
	if cfg.UI.RepaintFPS == 0 {
		cfg.UI.RepaintFPS = defaults.UI.RepaintFPS
	}
}

// Save writes the configuration to the default TOML file atomically.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration to a TOML file atomically with 0600
// permissions.
func SaveTOML(cfg *Config, path string) error {
	if err := EnsureDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# skein configuration file\n")
	buf.WriteString("# Generated by skein - edit with care\n\n")

	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
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

// Validate checks the fields that cannot be fixed by clamping.
func (c *Config) Validate() error {
	if c.Backend.BaseURL != "" {
		u, err := url.Parse(c.Backend.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return ValidationError{
				Field:   "backend.base_url",
				Message: fmt.Sprintf("invalid URL %q", c.Backend.BaseURL),
			}
		}
	}

	validThemes := map[string]bool{"dark": true, "light": true, "auto": true}
	if !validThemes[strings.ToLower(c.UI.Theme)] {
		return ValidationError{
			Field:   "ui.theme",
			Message: fmt.Sprintf("invalid theme %q, must be one of: dark, light, auto", c.UI.Theme),
		}
	}

	return nil
}

// Clamp forces numeric fields into their valid ranges.
func (c *Config) Clamp() {
	c.Session.MaxConcurrent = clampInt(c.Session.MaxConcurrent, 1, 8)
	c.Session.ReattachAttempts = clampInt(c.Session.ReattachAttempts, 1, 120)
	c.Session.ReattachIntervalSecs = clampInt(c.Session.ReattachIntervalSecs, 1, 60)
	c.Session.StuckPendingSecs = clampInt(c.Session.StuckPendingSecs, 5, 300)
	c.Cache.MaxEntries = clampInt(c.Cache.MaxEntries, 1, 1000)
	c.UI.RepaintFPS = clampInt(c.UI.RepaintFPS, 1, 60)
	c.Backend.TimeoutSecs = clampInt(c.Backend.TimeoutSecs, 1, 600)
	if c.Backend.StreamTimeoutSecs < 0 {
		c.Backend.StreamTimeoutSecs = 0
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - SKEIN_BACKEND_URL: overrides backend.base_url
//   - SKEIN_WORKSPACE: overrides backend.workspace
//   - SKEIN_MAX_CONCURRENT: overrides session.max_concurrent
//   - SKEIN_CACHE_PATH: overrides cache.path
//   - SKEIN_CACHE_MAX_ENTRIES: overrides cache.max_entries
//   - SKEIN_THEME: overrides ui.theme
//   - SKEIN_LOG: set to "1" or "true" to enable file logging
//   - SKEIN_LOG_PATH: overrides log.path (implies log.enabled)
func (c *Config) ApplyEnvOverrides() {
	if u := os.Getenv("SKEIN_BACKEND_URL"); u != "" {
		c.Backend.BaseURL = u
	}
	if ws := os.Getenv("SKEIN_WORKSPACE"); ws != "" {
		c.Backend.Workspace = ws
	}
	if raw := os.Getenv("SKEIN_MAX_CONCURRENT"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			c.Session.MaxConcurrent = n
		}
	}
	if p := os.Getenv("SKEIN_CACHE_PATH"); p != "" {
		c.Cache.Path = p
	}
	if raw := os.Getenv("SKEIN_CACHE_MAX_ENTRIES"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			c.Cache.MaxEntries = n
		}
	}
	if theme := os.Getenv("SKEIN_THEME"); theme != "" {
		c.UI.Theme = theme
	}
	if raw := os.Getenv("SKEIN_LOG"); raw != "" {
		c.Log.Enabled = raw == "1" || strings.ToLower(raw) == "true"
	}
	if p := os.Getenv("SKEIN_LOG_PATH"); p != "" {
		c.Log.Path = p
		c.Log.Enabled = true
	}
}
