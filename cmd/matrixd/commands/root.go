// Package commands implements matrixd's cobra subcommands.
package commands

import (
	"github.com/teranos/matrixd/config"
)

// ConfigPath is bound to the root command's --config flag; when set it
// bypasses the search-path loader in favor of a single explicit file.
var ConfigPath string

func loadConfig() (*config.Config, error) {
	if ConfigPath != "" {
		return config.LoadFromFile(ConfigPath)
	}
	return config.Load()
}
