package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/matrixd/cmd/matrixd/commands"
	"github.com/teranos/matrixd/logger"
)

var rootCmd = &cobra.Command{
	Use:   "matrixd",
	Short: "matrixd - federated Matrix homeserver core",
	Long: `matrixd - event graph storage, state resolution, and server-to-server
federation for a Matrix homeserver core.

Available commands:
  serve   - Start the homeserver, accepting federation traffic
  key     - Print this server's signing key / key-server document
  config  - Manage configuration (config init writes an example file)
  version - Show build and version information`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

var jsonLogs bool

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Verbosity count (-v, -vv); serve reports it in its startup log line, the log level stays at info")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit structured JSON logs instead of human-readable console output")
	rootCmd.PersistentFlags().StringVar(&commands.ConfigPath, "config", "", "Path to a matrixd.toml config file (overrides the search path)")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.KeyCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
