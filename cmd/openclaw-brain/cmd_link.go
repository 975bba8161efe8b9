package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/openclaw-brain/internal/memory"
	"github.com/ajitpratap0/openclaw-brain/internal/models"
)

func linkCmd() *cobra.Command {
	var (
		relation      string
		bidirectional bool
	)

	cmd := &cobra.Command{
		Use:   "link <from-id> <to-id>",
		Short: "Create a typed relation between two memories",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, "link")
			if err != nil {
				return err
			}
			defer a.Close()

			l, err := a.memories.Link(ctx, memory.LinkInput{
				FromID:        args[0],
				ToID:          args[1],
				RelationType:  models.RelationType(relation),
				Bidirectional: bidirectional,
			})
			if err != nil {
				return fmt.Errorf("link: %w", err)
			}
			fmt.Printf("Linked %s -[%s]-> %s\n", l.FromID, l.RelationType, l.ToID)
			if bidirectional {
				fmt.Printf("Linked %s -[%s]-> %s\n", l.ToID, l.RelationType, l.FromID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&relation, "relation", string(models.RelationRelatedTo), "relation type")
	cmd.Flags().BoolVar(&bidirectional, "bidirectional", false, "also create the reverse link")
	return cmd
}

func forgetCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "forget [memory-id]",
		Short: "Forget a memory (kept as a tombstone)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, "forget")
			if err != nil {
				return err
			}
			defer a.Close()

			forgotten, err := a.memories.Forget(ctx, args[0], reason)
			if err != nil {
				return fmt.Errorf("forget: %w", err)
			}
			if !forgotten {
				fmt.Printf("Memory %s was already forgotten\n", args[0])
				return nil
			}
			fmt.Printf("Forgot memory %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "why the memory is forgotten")
	return cmd
}
