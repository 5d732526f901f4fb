package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "flamegiraffe.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))
	return configFile
}

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, "storage:\n  type: local\n"))
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, int64(64<<20), cfg.Server.MaxBodyBytes)
	assert.Equal(t, 32, cfg.Server.CacheSize)
	assert.Equal(t, 1200.0, cfg.Layout.Width)
	assert.Equal(t, 16.0, cfg.Layout.RowHeight)
	assert.Equal(t, 1.0, cfg.Layout.MinWidth)
	assert.Equal(t, "flame", cfg.Layout.Orientation)
	assert.False(t, cfg.Parser.Strict)
	assert.Equal(t, 16<<20, cfg.Parser.MaxLineBytes)
	assert.Equal(t, "./storage", cfg.Storage.LocalPath)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_CustomValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  addr: "127.0.0.1:9000"
  read_timeout: 5s
  cache_size: 4
layout:
  width: 800
  orientation: icicle
parser:
  strict: true
storage:
  type: local
  local_path: /tmp/storage
log:
  level: debug
`))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 4, cfg.Server.CacheSize)
	assert.Equal(t, 800.0, cfg.Layout.Width)
	assert.Equal(t, "icicle", cfg.Layout.Orientation)
	assert.True(t, cfg.Parser.Strict)
	assert.Equal(t, "/tmp/storage", cfg.Storage.LocalPath)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_InvalidOrientation(t *testing.T) {
	_, err := Load(writeConfig(t, "layout:\n  orientation: sideways\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported layout orientation")
}

func TestLoad_MalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, "server: [unterminated\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

// Note: Storage validation tests live in internal/storage

func TestLoad_COSWithCredentials(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
storage:
  type: cos
  bucket: test-bucket
  region: ap-guangzhou
  secret_id: test-id
  secret_key: test-key
`))
	require.NoError(t, err)
	assert.Equal(t, "cos", cfg.Storage.Type)
	assert.Equal(t, "test-bucket", cfg.Storage.Bucket)
	assert.Equal(t, "https", cfg.Storage.Scheme)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("FLAMEGIRAFFE_SERVER_ADDR", ":9999")
	t.Setenv("FLAMEGIRAFFE_STORAGE_BUCKET", "from-env")
	t.Setenv("FLAMEGIRAFFE_PARSER_STRICT", "true")

	cfg, err := Load(writeConfig(t, "server:\n  addr: \":7000\"\n"))
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "from-env", cfg.Storage.Bucket)
	assert.True(t, cfg.Parser.Strict)
}

func TestLoad_FileNotFound(t *testing.T) {
	cfg, err := Load("/nonexistent/path/flamegiraffe.yaml")
	// Should not return error, use defaults
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"empty addr", func(c *Config) { c.Server.Addr = "" }, "server addr is required"},
		{"zero cache", func(c *Config) { c.Server.CacheSize = 0 }, "cache size must be at least 1"},
		{"zero body", func(c *Config) { c.Server.MaxBodyBytes = 0 }, "max body bytes"},
		{"zero width", func(c *Config) { c.Layout.Width = 0 }, "layout width must be positive"},
		{"zero row height", func(c *Config) { c.Layout.RowHeight = 0 }, "row height"},
		{"NaN width", func(c *Config) { c.Layout.Width = math.NaN() }, "layout width must be positive and finite"},
		{"infinite row height", func(c *Config) { c.Layout.RowHeight = math.Inf(1) }, "row height"},
		{"negative min width", func(c *Config) { c.Layout.MinWidth = -1 }, "min width"},
		{"NaN min width", func(c *Config) { c.Layout.MinWidth = math.NaN() }, "min width"},
		{"zero min width", func(c *Config) { c.Layout.MinWidth = 0 }, ""},
		{"upper-case orientation", func(c *Config) { c.Layout.Orientation = "ICICLE" }, ""},
		{"zero line bytes", func(c *Config) { c.Parser.MaxLineBytes = 0 }, "max line bytes"},
		{"negative workers", func(c *Config) { c.Parser.Workers = -1 }, "workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFromReader(t *testing.T) {
	cfg, err := LoadFromReader("yaml", []byte(`
server:
  cache_size: 2
storage:
  type: cos
  bucket: profiles-1250000000
`))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Server.CacheSize)
	assert.Equal(t, "cos", cfg.Storage.Type)
	assert.Equal(t, "profiles-1250000000", cfg.Storage.Bucket)

	_, err = LoadFromReader("yaml", []byte("server:\n  cache_size: -1\n"))
	assert.Error(t, err)
}
