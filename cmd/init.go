package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/bms-assistant/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize bmsassist configuration with an interactive wizard",
	Long:  `Runs an interactive wizard that connects bmsassist to your building platform and writes a .bmsassist.yml file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := config.RunWizard(cfgFile)
		return err
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
