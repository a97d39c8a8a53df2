package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/net/html"

	"github.com/alexjoedt/docpub/document"
	"github.com/alexjoedt/docpub/internal/config"
	"github.com/alexjoedt/docpub/render"
)

func newRenderCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "render <draft.yaml>",
		Short: "Render a draft to HTML with inline image previews",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := ctx.openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			s, err := app.NewSession()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := loadDraft(s, args[0]); err != nil {
				return err
			}
			tree, err := s.Preview()
			if err != nil {
				return fmt.Errorf("render preview: %w", err)
			}
			out, err := render.HTML(tree)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func newPublishCommand(ctx *commandContext) *cobra.Command {
	var printHTML bool

	cmd := &cobra.Command{
		Use:   "publish <draft.yaml>",
		Short: "Upload a draft's images and store it as an article",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := ctx.openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			s, err := app.NewSession()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := loadDraft(s, args[0]); err != nil {
				return err
			}
			id, err := s.Submit(cmd.Context())
			if err != nil {
				return fmt.Errorf("publish %s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			if printHTML {
				tree, err := render.RenderPublished(s.Document())
				if err != nil {
					return err
				}
				body, err := render.HTML(tree)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, body)
				return nil
			}
			fmt.Fprintln(out, id)
			return nil
		},
	}
	cmd.Flags().BoolVar(&printHTML, "html", false, "Print the published HTML instead of the article id")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a published article",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := ctx.openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			article, err := app.Articles().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				data, err := document.MarshalArticle(article)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, string(data))
				return nil
			}
			tree, err := render.RenderPublished(article.Body)
			if err != nil {
				return err
			}
			body, err := render.HTML(tree)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "<h1>%s</h1>\n", html.EscapeString(article.Title))
			if article.CoverURL != "" {
				fmt.Fprintf(out, "<img class=\"cover\" src=\"%s\">\n", html.EscapeString(article.CoverURL))
			}
			fmt.Fprintln(out, body)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the article as JSON")
	return cmd
}

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	configCmd.AddCommand(newConfigInitCommand())
	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			}

			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}

			sample, err := config.Sample()
			if err != nil {
				return err
			}
			if err := os.WriteFile(target, sample, 0o644); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", target)
			return nil
		},
	}
	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}
