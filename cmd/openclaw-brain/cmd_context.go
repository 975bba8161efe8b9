package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func contextCmd() *cobra.Command {
	var (
		limit      int
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "context [topic]",
		Short: "Print relevant context for a topic as markdown",
		Long: `Collects the best local memories for a topic and, when the topic mentions a
domain keyword (context.keywords) and a remote is configured, the best team
knowledge-base nodes. Prints nothing when nothing relevant is found.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, "context")
			if err != nil {
				return err
			}
			defer a.Close()

			b, err := a.recaller().ContextFor(ctx, args[0], limit)
			if err != nil {
				return fmt.Errorf("context: %w", err)
			}
			if outputJSON {
				return printJSON(b)
			}
			if b.RemoteError != "" {
				a.logger.Warn("team knowledge base unavailable", "error", b.RemoteError)
			}
			fmt.Print(b.Markdown)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "max items (default: context.max_items)")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output the bundle as JSON")
	return cmd
}
