package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func reindexCmd() *cobra.Command {
	var (
		dryRun     bool
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Regenerate the embedding of every memory with the configured provider",
		Long: `Re-embeds every live memory with the current embedding provider and model. Run it
after changing embedding.provider, the model or embedding.dimension: until then the
store rejects embeddings whose dimension differs from the ones it holds.

Memories are embedded in batches of maintenance.reindex_batch by
maintenance.reindex_workers concurrent requests, and written in a single transaction.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, "reindex")
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.maintenance().Reindex(ctx, dryRun)
			if err != nil {
				return fmt.Errorf("reindex: %w", err)
			}
			if outputJSON {
				return printJSON(rep)
			}
			printPassReport(&rep.PassReport)
			fmt.Printf("dimension %d -> %d, %d failed", rep.FromDimension, rep.ToDimension, rep.Failed)
			if rep.Cleared > 0 {
				fmt.Printf(", %d stale embeddings cleared", rep.Cleared)
			}
			fmt.Println()
			if rep.Stopped {
				fmt.Println("stopped early")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be re-embedded without calling the provider")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	return cmd
}
