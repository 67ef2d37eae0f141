package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	mcpserver "github.com/ziadkadry99/bms-assistant/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server for AI agent integration",
	Long:  `Starts a Model Context Protocol (MCP) server on stdio, exposing the building assistant, device diagnosis and the fault knowledge base to AI agents.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		a.runJanitor(ctx)

		// Set version from the cmd package variable.
		mcpserver.Version = Version

		logger.Info("bmsassist MCP server started on stdio",
			zap.String("platform", string(a.cfg.Platform.Mode)),
			zap.Bool("fault_search", a.faults != nil))

		srv := mcpserver.NewServer(a.engine, a.platform, a.faults)
		return srv.Serve()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
