package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/openclaw-brain/internal/graph"
)

func graphCmd() *cobra.Command {
	var (
		dryRun     bool
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Mirror memories, links and entities into Neo4j",
		Long: `Writes every memory, link and entity into the Neo4j database at graph.uri in
batched write transactions. Forgotten memories are removed from the graph. With
--dry-run the Cypher statements are printed instead of executed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, "graph")
			if err != nil {
				return err
			}
			defer a.Close()

			if dryRun {
				stmts, rep, planErr := graph.NewMirror(a.store, nil, a.logger).Plan(ctx)
				if planErr != nil {
					return fmt.Errorf("graph: %w", planErr)
				}
				if outputJSON {
					return printJSON(map[string]any{"report": rep, "statements": stmts})
				}
				for _, s := range stmts {
					fmt.Println(s.Query)
				}
				fmt.Printf("%d statements\n", len(stmts))
				return nil
			}

			rep, err := mirrorGraph(ctx, a)
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(rep)
			}
			fmt.Printf("Mirrored %d memories, %d links, %d entities (%d removed) in %s\n",
				rep.Memories, rep.Links, rep.Entities, rep.Removed, rep.Duration.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the statements without connecting")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output as JSON")
	return cmd
}

// mirrorGraph connects to the configured Neo4j server and pushes the store into it.
func mirrorGraph(ctx context.Context, a *app) (*graph.Report, error) {
	if cfg.Graph.URI == "" {
		return nil, fmt.Errorf("graph: graph.uri is not configured")
	}
	exec, err := graph.NewNeo4jExecutor(ctx, cfg.Graph.URI, cfg.Graph.Username, cfg.Graph.Password, cfg.Graph.Database)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := exec.Close(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("closing neo4j driver", "error", err)
		}
	}()
	rep, err := graph.NewMirror(a.store, exec, a.logger).Push(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph: %w", err)
	}
	return rep, nil
}
