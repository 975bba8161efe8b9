package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func getCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "get [memory-id]",
		Short: "Retrieve a single memory by ID, with its links and entities",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, "get")
			if err != nil {
				return err
			}
			defer a.Close()

			mem, err := a.memories.Get(ctx, args[0])
			if err != nil {
				return fmt.Errorf("get: %w", err)
			}
			links, err := a.memories.Links(ctx, mem.ID)
			if err != nil {
				return fmt.Errorf("get: listing links: %w", err)
			}
			ents, err := a.store.EntitiesForMemory(ctx, mem.ID)
			if err != nil {
				return fmt.Errorf("get: listing entities: %w", err)
			}

			if outputJSON {
				return printJSON(map[string]any{"memory": mem, "links": links, "entities": ents})
			}

			fmt.Printf("ID:         %s\n", mem.ID)
			fmt.Printf("Title:      %s\n", mem.Title)
			fmt.Printf("Type:       %s\n", mem.Type)
			fmt.Printf("Importance: %d\n", mem.Importance)
			fmt.Printf("Visibility: %s\n", mem.Visibility)
			fmt.Printf("Tags:       %s\n", strings.Join(mem.Tags, ", "))
			fmt.Printf("Sync:       %s", mem.SyncState)
			if mem.RemoteID != "" {
				fmt.Printf(" (remote %s)", mem.RemoteID)
			}
			if mem.SyncError != "" {
				fmt.Printf(" error: %s", mem.SyncError)
			}
			if mem.SyncStale {
				fmt.Print(" [stale]")
			}
			fmt.Println()
			fmt.Printf("Created:    %s\n", mem.CreatedAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("Updated:    %s\n", mem.UpdatedAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("Accesses:   %d\n", mem.AccessCount)
			fmt.Printf("\nContent:\n%s\n", mem.Content)

			if len(links) > 0 {
				fmt.Println("\nLinks:")
				for _, l := range links {
					fmt.Printf("  %s -[%s]-> %s\n", l.FromID, l.RelationType, l.ToID)
				}
			}
			if len(ents) > 0 {
				fmt.Println("\nEntities:")
				for _, e := range ents {
					fmt.Printf("  %-8s %s\n", e.Type, e.Name)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	return cmd
}
