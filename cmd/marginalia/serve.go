package main

import (
	"context"

	"github.com/aretw0/marginalia"
	"github.com/aretw0/marginalia/internal/cli"
	"github.com/aretw0/marginalia/internal/presentation/tui"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  `Exposes sessions, edit scripts, undo and Prometheus metrics as a JSON API over HTTP.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
			tui.PrintBanner(cmd.ErrOrStderr(), marginalia.Version)
		}

		sigCtx := cli.NewSignalContext(context.Background())
		defer sigCtx.Cancel()

		return withApp(cmd, func(app *cli.App) error {
			return app.Serve(sigCtx, addr)
		})
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server on stdio",
	Long:  `Exposes start_session, apply_changes, undo, undo_breakpoint and get_document as MCP tools.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(app *cli.App) error {
			return app.ServeMCP()
		})
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default: server.addr)")
	serveCmd.Flags().BoolP("quiet", "q", false, "Do not print the banner")
	rootCmd.AddCommand(serveCmd, mcpCmd)
}
