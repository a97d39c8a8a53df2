package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/alexjoedt/docpub/assets"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the file backend under its public URL path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := ctx.openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			fs, err := app.FileStore()
			if err != nil {
				return err
			}
			cfg, _ := ctx.ensureConfig()
			handler, err := newAssetHandler(fs, cfg.Assets.PublicURL, app.Registry())
			if err != nil {
				return err
			}

			listener, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", listen, err)
			}
			server := &http.Server{
				Handler:           handler,
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      30 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			go func() {
				<-cmd.Context().Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()

			ctx.logger.Info("serving assets", "address", listener.Addr().String())
			if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:8080", "Address to listen on")
	return cmd
}

// newAssetHandler mounts fs at the path of publicURL, so the URLs stored
// in articles resolve against this server when its host serves publicURL.
// Metrics are served at /metrics.
func newAssetHandler(fs *assets.FileStore, publicURL string, reg *prometheus.Registry) (http.Handler, error) {
	prefix := ""
	if publicURL != "" {
		u, err := url.Parse(publicURL)
		if err != nil {
			return nil, fmt.Errorf("assets.public_url: %w", err)
		}
		prefix = strings.TrimRight(u.Path, "/")
	}

	mux := http.NewServeMux()
	mux.Handle(prefix+"/", http.StripPrefix(prefix, fs))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux, nil
}
