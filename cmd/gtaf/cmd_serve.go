package main

import (
	"context"

	"github.com/spf13/cobra"

	"gtaf/internal/logging"
	mcpserver "gtaf/internal/mcp"
	"gtaf/internal/resolve"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server over stdio",
	Long: `Starts an MCP server over stdin/stdout exposing the knowledge base tools.

Without a configured API key the server still starts; tools that need the
report platform fail with a configuration error.

The server exits when its parent process goes away.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	client, err := newSource()
	if err != nil {
		return err
	}
	var src mcpserver.Source
	if client != nil {
		src = client
	}
	policy, _ := resolve.ParsePolicy(cfg.KDB.ResolvePolicy)

	srv := mcpserver.NewServer(db, mcpserver.Options{
		Source:   src,
		Policy:   policy,
		Parallel: cfg.Process.Parallel,
		Version:  version,
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	mcpserver.WatchStdin(ctx, nil, cancel)

	logging.New("mcp").Info("starting gtaf MCP server over stdio", "kdb", db.Root(), "source", src != nil)
	return srv.MCPServer.Run(ctx, &sdkmcp.StdioTransport{})
}
