package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/matrixd/config"
)

// ConfigCmd groups configuration-scaffolding subcommands.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and scaffold matrixd configuration",
}

var configInitOutputPath string

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a matrixd.toml scaffold populated with the current defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteExampleConfig(configInitOutputPath, config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("wrote %s\n", configInitOutputPath)
		return nil
	},
}

func init() {
	configInitCmd.Flags().StringVar(&configInitOutputPath, "output", "matrixd.toml", "Path to write the scaffolded config file")
	ConfigCmd.AddCommand(configInitCmd)
}
