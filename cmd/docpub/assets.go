package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newAssetsCommand(ctx *commandContext) *cobra.Command {
	assetsCmd := &cobra.Command{
		Use:   "assets",
		Short: "Inspect and maintain published assets",
	}
	assetsCmd.AddCommand(newAssetsListCommand(ctx))
	assetsCmd.AddCommand(newAssetsRemoveCommand(ctx))
	assetsCmd.AddCommand(newAssetsPruneCommand(ctx))
	return assetsCmd
}

func newAssetsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [prefix]",
		Short: "List objects in the file backend",
		Args:  cobra.MaximumNArgs(1),
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
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}

			it := fs.List(cmd.Context(), prefix)
			defer it.Close()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for it.Next() {
				meta := it.Meta()
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", meta.Key, meta.Size, meta.ContentType, meta.CreatedAt.Format(time.RFC3339))
			}
			if err := it.Err(); err != nil {
				return fmt.Errorf("list assets: %w", err)
			}
			return w.Flush()
		},
	}
}

func newAssetsRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <key>...",
		Short: "Delete published objects by key",
		Long: "Delete published objects by key. Articles that still reference a " +
			"deleted object will show a broken image.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := ctx.openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			for _, key := range args {
				if err := app.DeleteAsset(cmd.Context(), key); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", key)
			}
			return nil
		},
	}
}

func newAssetsPruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove temp files left behind by interrupted uploads",
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
			n, err := fs.PruneTemp(olderThan)
			if err != nil {
				return fmt.Errorf("prune temp files: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d temp files\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "Only remove temp files older than this")
	return cmd
}
