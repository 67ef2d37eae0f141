package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ziadkadry99/bms-assistant/internal/config"
	"github.com/ziadkadry99/bms-assistant/internal/logging"
)

var (
	cfgFile string
	envFile string
	verbose bool
	logger  = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "bmsassist",
	Short: "Conversational assistant for building management systems",
	Long: `bmsassist answers natural-language questions about a building's devices,
alarms and telemetry, and carries out comfort and energy commands on the
IoT platform. It runs as an HTTP/websocket server, an MCP server for AI
agents, or an interactive terminal chat.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(envFile); err != nil {
			return err
		}
		// The REPL wants readable logs; everything else logs JSON.
		l, err := logging.New(verbose, cmd.Name() == "chat")
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.FileName, "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

