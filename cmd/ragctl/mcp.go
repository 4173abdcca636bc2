package main

import (
	"github.com/spf13/cobra"

	mcpadapter "github.com/kirillkom/corpus-router/internal/adapters/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the corpus as MCP tools over stdio",
	Args:  cobra.NoArgs,
	RunE:  runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

// stdout carries the MCP protocol, so logs go to stderr.
func runMCP(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig()
	app, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer app.Close()

	sessions, err := app.NewSessionManager(cmd.Context())
	if err != nil {
		return err
	}
	defer sessions.CloseAll()

	server, err := mcpadapter.New(cmd.Context(), sessions, version, app.Logger)
	if err != nil {
		return err
	}
	defer server.Close()

	return server.ServeStdio()
}
