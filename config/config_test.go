package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/matrixd/errors"
)

func TestLoadDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, "localhost", cfg.ServerName)
	assert.Equal(t, "matrixd.db", cfg.DatabasePath)
	assert.Equal(t, 8448, cfg.Port)
	assert.False(t, cfg.RegistrationDisabled)
	assert.True(t, cfg.FederationEnabled)
	assert.Equal(t, 30, cfg.Federation.RequestTimeoutSeconds)
	assert.Equal(t, 60, cfg.Federation.RetryMaxMinutes)
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Config{ServerName: "example.org", Port: 0, MaxRequestSize: 1, Federation: FederationConfig{RequestTimeoutSeconds: 1, RetryMaxMinutes: 1}}
	err := cfg.Validate()
	require.Error(t, err)
	kind, ok := errors.GetKind(err)
	require.True(t, ok)
	assert.Equal(t, errors.KindBadConfig, kind)
}

func TestValidateRequiresMatchedTLSPair(t *testing.T) {
	cfg := Config{
		ServerName:     "example.org",
		Port:           8448,
		MaxRequestSize: 1,
		Federation:     FederationConfig{RequestTimeoutSeconds: 1, RetryMaxMinutes: 1},
		TLS:            TLSConfig{CertFile: "cert.pem"},
	}
	require.Error(t, cfg.Validate())
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := Config{
		ServerName:     "example.org",
		Port:           8448,
		MaxRequestSize: 1024,
		Federation:     FederationConfig{RequestTimeoutSeconds: 30, RetryMaxMinutes: 60},
	}
	assert.NoError(t, cfg.Validate())
}
