// Package docpub wires the document pipeline together from configuration:
// editing sessions with their own staging stores, the remote asset store
// images are published to, and the article database.
//
// A typical program loads a config, opens an App and starts one session
// per draft:
//
//	app, err := docpub.Open(ctx, cfg)
//	...
//	defer app.Close()
//	s, err := app.NewSession()
//	...
//	s.SetTitle("Hello")
//	s.InsertImage(png, document.Attributes{})
//	id, err := s.Submit(ctx)
package docpub

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/alexjoedt/docpub/assets"
	"github.com/alexjoedt/docpub/editor"
	"github.com/alexjoedt/docpub/internal/config"
	"github.com/alexjoedt/docpub/persist"
	"github.com/alexjoedt/docpub/publish"
	"github.com/alexjoedt/docpub/staging"
)

// App holds the collaborators shared by all sessions.
type App struct {
	cfg      config.Config
	log      *slog.Logger
	uploader assets.Uploader
	articles persist.Store
	registry *prometheus.Registry
	tracer   trace.TracerProvider
}

// Option configures an App.
type Option func(*App)

func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithTracerProvider sets the provider used for publish spans. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(a *App) { a.tracer = tp }
}

// WithUploader replaces the configured asset backend.
func WithUploader(u assets.Uploader) Option {
	return func(a *App) { a.uploader = u }
}

// WithArticles replaces the configured article database.
func WithArticles(s persist.Store) Option {
	return func(a *App) { a.articles = s }
}

// Open builds an App from cfg.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		def := config.Default()
		cfg = &def
	}
	a := &App{
		cfg:      *cfg,
		log:      slog.Default(),
		registry: prometheus.NewRegistry(),
		tracer:   otel.GetTracerProvider(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.uploader == nil {
		u, err := assets.New(ctx, AssetsConfig(a.cfg), a.log)
		if err != nil {
			return nil, fmt.Errorf("opening asset store: %w", err)
		}
		a.uploader = u
	}
	observer, err := assets.NewPrometheusObserver(a.cfg.Metrics.Namespace, a.registry)
	if err != nil {
		return nil, fmt.Errorf("registering upload metrics: %w", err)
	}
	a.uploader = assets.Observe(a.uploader, observer)

	if a.articles == nil {
		driver := persist.Driver(a.cfg.Persist.Driver)
		if driver == persist.DriverSQLite && a.cfg.Persist.DSN != "" {
			if err := os.MkdirAll(filepath.Dir(a.cfg.Persist.DSN), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		store, err := persist.Open(ctx, driver, a.cfg.Persist.DSN, a.log)
		if err != nil {
			return nil, fmt.Errorf("opening article store: %w", err)
		}
		a.articles = store
	}
	return a, nil
}

// AssetsConfig maps the [assets] section onto an asset backend config.
func AssetsConfig(cfg config.Config) assets.Config {
	c := cfg.Assets
	return assets.Config{
		Backend:   assets.Backend(c.Backend),
		Dir:       c.Dir,
		PublicURL: c.PublicURL,
		S3: assets.S3Config{
			Bucket:   c.Bucket,
			Region:   c.Region,
			Endpoint: c.Endpoint,
			Prefix:   c.Prefix,
		},
		GCS: assets.GCSConfig{Bucket: c.Bucket, Prefix: c.Prefix},
	}
}

// StagingOptions maps the [staging] section onto staging store options.
func StagingOptions(cfg config.Config, logger *slog.Logger) ([]staging.OptionFunc, error) {
	algo, err := staging.ParseAlgorithm(cfg.Staging.Hash)
	if err != nil {
		return nil, err
	}
	return []staging.OptionFunc{
		staging.WithAlgorithm(algo),
		staging.WithMaxDimension(cfg.Staging.MaxDimension),
		staging.WithLogger(logger),
	}, nil
}

// NewSession starts an editing session with a fresh staging store.
func (a *App) NewSession(opts ...editor.Option) (*editor.Session, error) {
	stagingOpts, err := StagingOptions(a.cfg, a.log)
	if err != nil {
		return nil, err
	}
	store, err := staging.New(a.cfg.Staging.Dir, stagingOpts...)
	if err != nil {
		return nil, fmt.Errorf("opening staging store: %w", err)
	}
	resolver := publish.NewResolver(store, a.uploader,
		publish.WithConcurrency(a.cfg.Publish.UploadConcurrency),
		publish.WithLogger(a.log),
		publish.WithTracerProvider(a.tracer),
	)
	opts = append([]editor.Option{editor.WithLogger(a.log)}, opts...)
	return editor.New(store, resolver, a.articles, opts...), nil
}

// Articles returns the article database.
func (a *App) Articles() persist.Store { return a.articles }

// Uploader returns the instrumented asset store.
func (a *App) Uploader() assets.Uploader { return a.uploader }

// FileStore returns the file backend. It fails with assets.ErrUnsupported
// when another backend is configured.
func (a *App) FileStore() (*assets.FileStore, error) {
	fs, ok := assets.Unwrap(a.uploader).(*assets.FileStore)
	if !ok {
		return nil, fmt.Errorf("%s backend: %w", a.cfg.Assets.Backend, assets.ErrUnsupported)
	}
	return fs, nil
}

// DeleteAsset removes a published object by key.
func (a *App) DeleteAsset(ctx context.Context, key string) error {
	d, ok := assets.Unwrap(a.uploader).(assets.Deleter)
	if !ok {
		return fmt.Errorf("delete %s: %w", key, assets.ErrUnsupported)
	}
	return d.Delete(ctx, key)
}

// Registry returns the registry holding upload metrics.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Close closes the article database.
func (a *App) Close() error {
	return a.articles.Close()
}
