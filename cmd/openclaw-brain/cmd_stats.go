package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show memory statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, "stats")
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.memories.Stats(ctx)
			if err != nil {
				return fmt.Errorf("stats: %w", err)
			}
			if outputJSON {
				return printJSON(stats)
			}

			fmt.Printf("Total memories:     %d\n", stats.TotalMemories)
			fmt.Printf("Average importance: %.1f\n", stats.AverageImportance)
			fmt.Printf("Links:              %d\n", stats.Links)
			fmt.Printf("Entities:           %d\n", stats.Entities)
			fmt.Printf("Embedded:           %.0f%%\n", stats.EmbeddingCoverage*100)
			fmt.Printf("Forgotten:          %d\n\n", stats.TombstoneCount)

			fmt.Println("By type:")
			types := make([]string, 0, len(stats.ByType))
			for t := range stats.ByType {
				types = append(types, t)
			}
			sort.Strings(types)
			for _, t := range types {
				fmt.Printf("  %-12s %d\n", t, stats.ByType[t])
			}

			fmt.Println("\nSync:")
			fmt.Printf("  pending      %d\n", stats.PendingSync)
			fmt.Printf("  synced       %d\n", stats.Synced)
			fmt.Printf("  conflicts    %d\n", stats.Conflicts)
			fmt.Printf("  stale        %d\n", stats.Stale)

			if len(stats.RecentSync) > 0 {
				fmt.Println("\nRecent sync activity:")
				for _, e := range stats.RecentSync {
					fmt.Printf("  %s  %-8s %-6s %s %s\n", e.Timestamp.Format("2006-01-02 15:04:05"), e.Action, e.Status, e.MemoryID, e.Details)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	return cmd
}
