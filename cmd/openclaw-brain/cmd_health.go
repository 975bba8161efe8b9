package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/openclaw-brain/internal/graph"
	"github.com/ajitpratap0/openclaw-brain/internal/remote"
)

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the store and connectivity to configured services",
		Long: `Checks the local store and the embedding provider, which are required, and the
team knowledge base, Claude and Neo4j when they are configured. Services that are
not configured are reported as skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			logger := newLogger()
			allOK := true
			check := func(name string, err error) {
				if err != nil {
					fmt.Printf("%s: FAIL (%v)\n", name, err)
					allOK = false
					return
				}
				fmt.Printf("%s: OK\n", name)
			}

			st, err := newStore(ctx, logger)
			if err != nil {
				check("Store", err)
			} else {
				defer func() { _ = st.Close() }()
				check("Store", st.Ping(ctx))
			}

			emb, err := newEmbedder(logger)
			if err == nil {
				_, err = emb.Embed(ctx, "health check")
				closeEmbedder(emb)
			}
			check("Embeddings ("+cfg.Embedding.Provider+")", err)

			if cfg.Remote.Enabled() {
				rc := remote.New(cfg.Remote.BaseURL, cfg.Remote.APIKey, cfg.Remote.Timeout, logger)
				check("Team knowledge base", rc.Ping(ctx))
			} else {
				fmt.Println("Team knowledge base: skipped (not configured)")
			}

			if cfg.Claude.APIKey == "" {
				fmt.Println("Claude API: skipped (no API key, pattern extraction only)")
			} else {
				fmt.Println("Claude API: OK (key configured)")
			}

			if cfg.Graph.URI != "" {
				exec, gerr := graph.NewNeo4jExecutor(ctx, cfg.Graph.URI, cfg.Graph.Username, cfg.Graph.Password, cfg.Graph.Database)
				if gerr == nil {
					_ = exec.Close(ctx)
				}
				check("Neo4j", gerr)
			} else {
				fmt.Println("Neo4j: skipped (not configured)")
			}

			if !allOK {
				return fmt.Errorf("one or more health checks failed")
			}
			return nil
		},
	}
}
