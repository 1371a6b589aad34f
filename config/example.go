package config

import (
	"bytes"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/teranos/matrixd/errors"
)

// WriteExampleConfig encodes cfg as matrixd.toml at path, for `matrixd
// config init` to scaffold a starting file an operator then edits by hand.
func WriteExampleConfig(path string, cfg *Config) error {
	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return errors.WithKind(errors.Wrap(err, "encode example config"), errors.KindBadConfig)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errors.WithKind(errors.Wrapf(err, "write example config %s", path), errors.KindBadConfig)
	}
	return nil
}

// DefaultConfig returns the currently configured values: defaults layered
// with whatever config files and environment variables are already in
// effect for this process.
func DefaultConfig() *Config {
	v := GetViper()
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return &Config{}
	}
	return &cfg
}
