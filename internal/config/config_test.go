package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, exists, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, "fs", cfg.Assets.Backend)
	assert.Equal(t, 4, cfg.Publish.UploadConcurrency)
	assert.True(t, filepath.IsAbs(cfg.Staging.Dir))
	assert.True(t, filepath.IsAbs(cfg.Persist.DSN))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
[staging]
dir = "`+filepath.ToSlash(filepath.Join(dir, "staging"))+`"
hash = "BLAKE3"
max_dimension = 1600

[assets]
backend = "s3"
bucket = "media"
region = "eu-central-1"

[persist]
driver = "postgres"
dsn = "postgres://localhost/docpub"

[publish]
upload_concurrency = 8

[log]
format = "json"
`)
	cfg, exists, err := Load(path)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, "blake3", cfg.Staging.Hash)
	assert.Equal(t, 1600, cfg.Staging.MaxDimension)
	assert.Equal(t, "s3", cfg.Assets.Backend)
	assert.Equal(t, "media", cfg.Assets.Bucket)
	assert.Equal(t, "postgres://localhost/docpub", cfg.Persist.DSN, "postgres dsn is not a path")
	assert.Equal(t, 8, cfg.Publish.UploadConcurrency)
	assert.Equal(t, "docpub", cfg.Metrics.Namespace, "unset sections keep defaults")
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, _, err := Load(writeConfig(t, "[assets]\nbackend = \"fs\"\nbuckt = \"typo\"\n"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DOCPUB_ASSETS_BACKEND", "memory")
	t.Setenv("DOCPUB_PUBLISH_UPLOAD_CONCURRENCY", "2")
	t.Setenv("DOCPUB_PERSIST_DRIVER", "memory")

	cfg, _, err := Load(writeConfig(t, "[assets]\nbackend = \"s3\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Assets.Backend)
	assert.Equal(t, "memory", cfg.Persist.Driver)
	assert.Equal(t, 2, cfg.Publish.UploadConcurrency)

	t.Setenv("DOCPUB_STAGING_MAX_DIMENSION", "big")
	_, _, err = Load(writeConfig(t, ""))
	assert.ErrorContains(t, err, "DOCPUB_STAGING_MAX_DIMENSION")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"default", func(*Config) {}, ""},
		{"hash", func(c *Config) { c.Staging.Hash = "md5" }, "staging.hash"},
		{"dimension", func(c *Config) { c.Staging.MaxDimension = -1 }, "max_dimension"},
		{"backend", func(c *Config) { c.Assets.Backend = "ftp" }, "assets.backend"},
		{"bucket", func(c *Config) { c.Assets.Backend = "gcs" }, "assets.bucket"},
		{"driver", func(c *Config) { c.Persist.Driver = "mongo" }, "persist.driver"},
		{"postgres dsn", func(c *Config) { c.Persist.Driver = "postgres"; c.Persist.DSN = "" }, "persist.dsn"},
		{"concurrency", func(c *Config) { c.Publish.UploadConcurrency = 0 }, "upload_concurrency"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestSampleRoundTrips(t *testing.T) {
	data, err := Sample()
	require.NoError(t, err)
	assert.Contains(t, string(data), "[assets]")

	var cfg Config
	require.NoError(t, toml.Unmarshal(data, &cfg))
	assert.Equal(t, Default(), cfg)
}
