// Package config loads docpub settings from a TOML file and DOCPUB_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Staging configures the per-session staging stores.
type Staging struct {
	Dir          string `toml:"dir"`
	Hash         string `toml:"hash"`          // sha256 or blake3
	MaxDimension int    `toml:"max_dimension"` // 0 disables downscaling
}

// Assets selects and configures the remote asset store.
type Assets struct {
	Backend   string `toml:"backend"` // fs, s3, gcs or memory
	Dir       string `toml:"dir"`
	PublicURL string `toml:"public_url"`
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	Endpoint  string `toml:"endpoint"`
	Prefix    string `toml:"prefix"`
}

// Persist selects the article database.
type Persist struct {
	Driver string `toml:"driver"` // sqlite, postgres or memory
	DSN    string `toml:"dsn"`
}

type Publish struct {
	UploadConcurrency int `toml:"upload_concurrency"`
}

type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type Metrics struct {
	Namespace string `toml:"namespace"`
}

// Config encapsulates all configuration values for docpub.
type Config struct {
	Staging Staging `toml:"staging"`
	Assets  Assets  `toml:"assets"`
	Persist Persist `toml:"persist"`
	Publish Publish `toml:"publish"`
	Log     Log     `toml:"log"`
	Metrics Metrics `toml:"metrics"`
}

const (
	defaultStagingDir        = "~/.cache/docpub/staging"
	defaultAssetsDir         = "~/.local/share/docpub/assets"
	defaultDatabase          = "~/.local/share/docpub/docpub.db"
	defaultUploadConcurrency = 4
	defaultMetricsNamespace  = "docpub"
)

// Default returns a Config populated with defaults.
func Default() Config {
	return Config{
		Staging: Staging{Dir: defaultStagingDir, Hash: "sha256"},
		Assets:  Assets{Backend: "fs", Dir: defaultAssetsDir},
		Persist: Persist{Driver: "sqlite", DSN: defaultDatabase},
		Publish: Publish{UploadConcurrency: defaultUploadConcurrency},
		Log:     Log{Level: "info", Format: "console"},
		Metrics: Metrics{Namespace: defaultMetricsNamespace},
	}
}

// DefaultConfigPath returns the absolute path of the default config file.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/docpub/config.toml")
}

// Load parses path over the defaults, applies environment overrides and
// validates the result. A missing file is not an error; the boolean
// reports whether it existed. An empty path means DefaultConfigPath.
func Load(path string) (*Config, bool, error) {
	cfg := Default()

	if path == "" {
		var err error
		if path, err = DefaultConfigPath(); err != nil {
			return nil, false, err
		}
	}
	path, err := expandPath(path)
	if err != nil {
		return nil, false, err
	}

	exists := true
	file, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		exists = false
	case err != nil:
		return nil, false, fmt.Errorf("open config: %w", err)
	default:
		defer file.Close()
		if err := toml.NewDecoder(file).DisallowUnknownFields().Decode(&cfg); err != nil {
			return nil, false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, false, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	return &cfg, exists, nil
}

// Sample returns the defaults encoded as TOML, for `docpub config init`.
func Sample() ([]byte, error) {
	return toml.Marshal(Default())
}

// applyEnv overrides fields from DOCPUB_<SECTION>_<KEY> variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"DOCPUB_STAGING_DIR":       &c.Staging.Dir,
		"DOCPUB_STAGING_HASH":      &c.Staging.Hash,
		"DOCPUB_ASSETS_BACKEND":    &c.Assets.Backend,
		"DOCPUB_ASSETS_DIR":        &c.Assets.Dir,
		"DOCPUB_ASSETS_PUBLIC_URL": &c.Assets.PublicURL,
		"DOCPUB_ASSETS_BUCKET":     &c.Assets.Bucket,
		"DOCPUB_ASSETS_REGION":     &c.Assets.Region,
		"DOCPUB_ASSETS_ENDPOINT":   &c.Assets.Endpoint,
		"DOCPUB_ASSETS_PREFIX":     &c.Assets.Prefix,
		"DOCPUB_PERSIST_DRIVER":    &c.Persist.Driver,
		"DOCPUB_PERSIST_DSN":       &c.Persist.DSN,
		"DOCPUB_LOG_LEVEL":         &c.Log.Level,
		"DOCPUB_LOG_FORMAT":        &c.Log.Format,
		"DOCPUB_METRICS_NAMESPACE": &c.Metrics.Namespace,
	}
	for name, field := range strs {
		if v, ok := lookup(name); ok {
			*field = v
		}
	}

	ints := map[string]*int{
		"DOCPUB_STAGING_MAX_DIMENSION":      &c.Staging.MaxDimension,
		"DOCPUB_PUBLISH_UPLOAD_CONCURRENCY": &c.Publish.UploadConcurrency,
	}
	for name, field := range ints {
		v, ok := lookup(name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*field = n
	}
	return nil
}

func (c *Config) normalize() error {
	c.Staging.Hash = strings.ToLower(strings.TrimSpace(c.Staging.Hash))
	c.Assets.Backend = strings.ToLower(strings.TrimSpace(c.Assets.Backend))
	c.Persist.Driver = strings.ToLower(strings.TrimSpace(c.Persist.Driver))

	var err error
	if c.Staging.Dir, err = expandPath(c.Staging.Dir); err != nil {
		return fmt.Errorf("staging.dir: %w", err)
	}
	if c.Assets.Dir, err = expandPath(c.Assets.Dir); err != nil {
		return fmt.Errorf("assets.dir: %w", err)
	}
	if c.Persist.Driver == "sqlite" {
		if c.Persist.DSN, err = expandPath(c.Persist.DSN); err != nil {
			return fmt.Errorf("persist.dsn: %w", err)
		}
	}
	return nil
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Staging.Dir) == "" {
		return errors.New("staging.dir must be set")
	}
	switch c.Staging.Hash {
	case "", "sha256", "blake3":
	default:
		return fmt.Errorf("staging.hash: unsupported value %q", c.Staging.Hash)
	}
	if c.Staging.MaxDimension < 0 {
		return errors.New("staging.max_dimension must not be negative")
	}

	switch c.Assets.Backend {
	case "", "fs":
		if strings.TrimSpace(c.Assets.Dir) == "" {
			return errors.New("assets.dir must be set for the fs backend")
		}
	case "s3", "gcs":
		if strings.TrimSpace(c.Assets.Bucket) == "" {
			return fmt.Errorf("assets.bucket must be set for the %s backend", c.Assets.Backend)
		}
	case "memory":
	default:
		return fmt.Errorf("assets.backend: unsupported value %q", c.Assets.Backend)
	}

	switch c.Persist.Driver {
	case "sqlite", "memory":
	case "postgres":
		if strings.TrimSpace(c.Persist.DSN) == "" {
			return errors.New("persist.dsn must be set for postgres")
		}
	default:
		return fmt.Errorf("persist.driver: unsupported value %q", c.Persist.Driver)
	}

	if c.Publish.UploadConcurrency < 1 {
		return errors.New("publish.upload_concurrency must be at least 1")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("log.format: unsupported value %q", c.Log.Format)
	}
	return nil
}

func expandPath(p string) (string, error) {
	if p == "" {
		return p, nil
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	abs, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", p, err)
	}
	return abs, nil
}
