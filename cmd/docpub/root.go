package main

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/alexjoedt/docpub"
	"github.com/alexjoedt/docpub/internal/config"
	"github.com/alexjoedt/docpub/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
	logger     *slog.Logger
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, err := config.Load(strings.TrimSpace(*c.configFlag))
		if err != nil {
			c.configErr = err
			return
		}
		logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.logger = logger
	})
	return c.config, c.configErr
}

// openApp opens the configured backends. Callers close the App.
func (c *commandContext) openApp(cmd *cobra.Command) (*docpub.App, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	app, err := docpub.Open(cmd.Context(), cfg, docpub.WithLogger(c.logger))
	if err != nil {
		return nil, fmt.Errorf("open docpub: %w", err)
	}
	return app, nil
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configFlag: &configFlag}

	rootCmd := &cobra.Command{
		Use:           "docpub",
		Short:         "Render and publish rich documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["skipConfigLoad"] == "true" {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newRenderCommand(ctx))
	rootCmd.AddCommand(newPublishCommand(ctx))
	rootCmd.AddCommand(newShowCommand(ctx))
	rootCmd.AddCommand(newAssetsCommand(ctx))
	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newConfigCommand())
	return rootCmd
}
