package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"GRPCDESK_DEBUG",
		"GRPCDESK_STORAGE_PATH",
		"GRPCDESK_STORAGE",
		"GRPCDESK_WORKSPACE",
		"GRPCDESK_OTEL_ENDPOINT",
	} {
		t.Setenv(key, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Debug)
	assert.Equal(t, StorageFile, cfg.StorageBackend)
	assert.Equal(t, "Default", cfg.Workspace)
	assert.Equal(t, 50051, cfg.DefaultPort)
	assert.Equal(t, 100, cfg.HistoryLimit)
	assert.False(t, cfg.Telemetry.Enabled())
	assert.NoError(t, cfg.Validate())
}

func TestLoadSettings(t *testing.T) {
	tests := []struct {
		name    string
		files   map[string]string
		check   func(t *testing.T, cfg *Config)
		wantErr bool
	}{
		{
			name:  "no settings file keeps defaults",
			check: func(t *testing.T, cfg *Config) { assert.Equal(t, DefaultConfig(), cfg) },
		},
		{
			name: "toml",
			files: map[string]string{"settings.toml": `
debug = true
storage = "sqlite"
default_port = 9090

[telemetry]
endpoint = "localhost:4317"
insecure = true
`},
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Debug)
				assert.Equal(t, StorageSQLite, cfg.StorageBackend)
				assert.Equal(t, 9090, cfg.DefaultPort)
				assert.Equal(t, "localhost:4317", cfg.Telemetry.Endpoint)
				assert.True(t, cfg.Telemetry.Insecure)
				assert.Equal(t, "Default", cfg.Workspace)
			},
		},
		{
			name:  "json fallback",
			files: map[string]string{"settings.json": `{"workspace": "Staging", "historyLimit": 5}`},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "Staging", cfg.Workspace)
				assert.Equal(t, 5, cfg.HistoryLimit)
			},
		},
		{
			name: "toml wins over json",
			files: map[string]string{
				"settings.toml": `workspace = "FromTOML"`,
				"settings.json": `{"workspace": "FromJSON"}`,
			},
			check: func(t *testing.T, cfg *Config) { assert.Equal(t, "FromTOML", cfg.Workspace) },
		},
		{
			name:    "malformed toml",
			files:   map[string]string{"settings.toml": `debug = `},
			wantErr: true,
		},
		{
			name:    "malformed json",
			files:   map[string]string{"settings.json": `{`},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for name, content := range tt.files {
				require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
			}

			cfg := DefaultConfig()
			err := cfg.LoadSettings(dir)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("GRPCDESK_DEBUG", "true")
	t.Setenv("GRPCDESK_STORAGE", "MEMORY")
	t.Setenv("GRPCDESK_WORKSPACE", "Env")
	t.Setenv("GRPCDESK_OTEL_ENDPOINT", "collector:4317")

	cfg := DefaultConfig()
	cfg.ApplyEnv()

	assert.True(t, cfg.Debug)
	assert.Equal(t, StorageMemory, cfg.StorageBackend)
	assert.Equal(t, "Env", cfg.Workspace)
	assert.Equal(t, "collector:4317", cfg.Telemetry.Endpoint)
}

func TestApplyEnv_IgnoresBadBool(t *testing.T) {
	clearEnv(t)
	t.Setenv("GRPCDESK_DEBUG", "sometimes")

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	assert.False(t, cfg.Debug)
}

func TestLoadConfig_EnvBeatsSettingsFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.toml"),
		[]byte("workspace = \"FromFile\"\nstorage = \"sqlite\"\n"), 0o600))

	t.Setenv("GRPCDESK_STORAGE_PATH", dir)
	t.Setenv("GRPCDESK_WORKSPACE", "FromEnv")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.StoragePath)
	assert.Equal(t, StorageSQLite, cfg.StorageBackend)
	assert.Equal(t, "FromEnv", cfg.Workspace)
}

func TestLoadConfig_RejectsUnknownBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("GRPCDESK_STORAGE", "floppy")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "floppy")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"preferences backend", func(c *Config) { c.StorageBackend = StoragePreferences }, true},
		{"unknown backend", func(c *Config) { c.StorageBackend = "s3" }, false},
		{"port too large", func(c *Config) { c.DefaultPort = 70000 }, false},
		{"negative history", func(c *Config) { c.HistoryLimit = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if tt.ok {
				assert.NoError(t, cfg.Validate())
			} else {
				assert.Error(t, cfg.Validate())
			}
		})
	}
}
