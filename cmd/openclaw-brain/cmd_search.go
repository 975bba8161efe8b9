package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/openclaw-brain/internal/memory"
	"github.com/ajitpratap0/openclaw-brain/internal/models"
)

func searchCmd() *cobra.Command {
	var (
		memTypes      []string
		tags          string
		limit         int
		minImportance int
		outputJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search memories by keywords and meaning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, "search")
			if err != nil {
				return err
			}
			defer a.Close()

			f := &memory.SearchFilters{Tags: splitTags(tags), MinImportance: minImportance}
			for _, t := range memTypes {
				f.Types = append(f.Types, models.MemoryType(t))
			}

			results, err := a.memories.Search(ctx, args[0], limit, f)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			if outputJSON {
				return printJSON(results)
			}
			for i := range results {
				r := &results[i]
				fmt.Printf("[%d] (%.3f) [%s] %s: %s\n", i+1, r.Score, r.Memory.Type, r.Memory.Title, truncate(r.Memory.Content, 100))
				fmt.Printf("    ID: %s | importance %d | %s\n", r.Memory.ID, r.Memory.Importance, r.Memory.SyncState)
			}
			if len(results) == 0 {
				fmt.Println("No results found.")
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&memTypes, "type", nil, "filter by memory type (repeatable)")
	cmd.Flags().StringVar(&tags, "tags", "", "comma-separated tag globs that must all match (e.g. client-*)")
	cmd.Flags().IntVar(&limit, "limit", memory.DefaultSearchLimit, "max results")
	cmd.Flags().IntVar(&minImportance, "min-importance", 0, "minimum importance")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	return cmd
}
