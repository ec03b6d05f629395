package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/shhac/grpcdesk/internal/callconfig"
	"github.com/shhac/grpcdesk/internal/telemetry"
	"github.com/shhac/grpcdesk/internal/workspace"
)

// Storage backends.
const (
	StorageFile        = "file"
	StorageSQLite      = "sqlite"
	StorageMemory      = "memory"
	StoragePreferences = "preferences"
)

const (
	settingsTOML = "settings.toml"
	settingsJSON = "settings.json"

	defaultWorkspace = "Default"
)

// Config holds application-wide configuration.
type Config struct {
	// Debug enables debug logging and additional diagnostics
	Debug bool `toml:"debug" json:"debug"`

	// StoragePath is the directory where workspaces and settings are stored
	StoragePath string `toml:"storage_path" json:"storagePath"`

	// StorageBackend is one of file, sqlite, memory or preferences.
	StorageBackend string `toml:"storage" json:"storage"`

	// Workspace is opened (or created) at startup when no workspace was
	// restored from the last run.
	Workspace string `toml:"workspace" json:"workspace"`

	DefaultPort  int `toml:"default_port" json:"defaultPort"`
	HistoryLimit int `toml:"history_limit" json:"historyLimit"`

	// LogPath overrides the platform log file location.
	LogPath string `toml:"log_path" json:"logPath"`

	Telemetry telemetry.Config `toml:"telemetry" json:"telemetry"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		StorageBackend: StorageFile,
		Workspace:      defaultWorkspace,
		DefaultPort:    callconfig.DefaultPort,
		HistoryLimit:   workspace.DefaultHistoryLimit,
	}
}

// LoadConfig builds the configuration from defaults, the settings file in
// the storage directory and the environment, later sources winning.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	// The storage path decides where the settings file lives, so it is
	// taken from the environment first.
	if p := os.Getenv("GRPCDESK_STORAGE_PATH"); p != "" {
		cfg.StoragePath = p
	}
	if cfg.StoragePath != "" {
		if err := cfg.LoadSettings(cfg.StoragePath); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	return cfg, cfg.Validate()
}

// LoadSettings overlays settings.toml from dir, or settings.json when no
// TOML file exists. Missing files are not an error.
func (c *Config) LoadSettings(dir string) error {
	data, err := os.ReadFile(filepath.Join(dir, settingsTOML))
	if err == nil {
		if err := toml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse %s: %w", settingsTOML, err)
		}
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read %s: %w", settingsTOML, err)
	}

	data, err = os.ReadFile(filepath.Join(dir, settingsJSON))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", settingsJSON, err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse %s: %w", settingsJSON, err)
	}
	return nil
}

// ApplyEnv overlays GRPCDESK_* environment variables.
func (c *Config) ApplyEnv() {
	if debugStr := os.Getenv("GRPCDESK_DEBUG"); debugStr != "" {
		if debug, err := strconv.ParseBool(debugStr); err == nil {
			c.Debug = debug
		}
	}
	if v := os.Getenv("GRPCDESK_STORAGE_PATH"); v != "" {
		c.StoragePath = v
	}
	if v := os.Getenv("GRPCDESK_STORAGE"); v != "" {
		c.StorageBackend = strings.ToLower(v)
	}
	if v := os.Getenv("GRPCDESK_WORKSPACE"); v != "" {
		c.Workspace = v
	}
	if v := os.Getenv("GRPCDESK_OTEL_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	}
}

// Validate rejects settings the app cannot start with.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case StorageFile, StorageSQLite, StorageMemory, StoragePreferences:
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
	if c.DefaultPort < 0 || c.DefaultPort > 65535 {
		return fmt.Errorf("default port %d out of range", c.DefaultPort)
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("history limit must not be negative")
	}
	return nil
}
