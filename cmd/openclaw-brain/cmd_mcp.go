package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	mcpserver "github.com/mark3labs/mcp-go/server"

	brainmcp "github.com/ajitpratap0/openclaw-brain/internal/mcp"
)

func mcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP (Model Context Protocol) server over stdio",
		Long: `Starts an MCP JSON-RPC 2.0 server that reads from stdin and writes to stdout.
All diagnostic logs go to stderr so that stdout carries only MCP protocol traffic.

Tools exposed:
  brain_remember  store a memory
  brain_search    hybrid keyword and semantic search
  brain_get       one memory with its links
  brain_update    change fields of a memory
  brain_link      relate two memories
  brain_forget    forget a memory
  brain_sync      sync with the team knowledge base
  brain_resolve   settle a sync conflict
  brain_stats     store statistics
  brain_context   relevant context for a topic as markdown

Failures are returned as tool errors; the server keeps running.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), "mcp")
			if err != nil {
				return err
			}
			defer a.Close()

			var sync brainmcp.Syncer
			if a.sync != nil {
				sync = a.sync
			}
			srv := brainmcp.NewServer(a.memories, sync, a.recaller(), a.logger)

			errLogger := log.New(os.Stderr, "mcp: ", log.LstdFlags)
			a.logger.Info("mcp: openclaw-brain MCP server starting", "transport", "stdio", "remote", a.sync != nil)

			return mcpserver.ServeStdio(
				srv.MCPServer(),
				mcpserver.WithErrorLogger(errLogger),
			)
		},
	}

	return cmd
}
