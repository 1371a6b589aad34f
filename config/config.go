// Package config loads matrixd's configuration.
package config

// Config is matrixd's core configuration, recognized by the server regardless
// of which HTTP routing surface or CLI loader sits in front of it.
type Config struct {
	ServerName            string     `mapstructure:"server_name"`
	DatabasePath           string     `mapstructure:"database_path"`
	Port                   int        `mapstructure:"port"`
	TLS                    TLSConfig  `mapstructure:"tls"`
	RegistrationDisabled   bool       `mapstructure:"registration_disabled"`
	MaxRequestSize         int64      `mapstructure:"max_request_size"`
	FederationEnabled      bool       `mapstructure:"federation_enabled"`
	Federation             FederationConfig `mapstructure:"federation"`
}

// TLSConfig configures the server's HTTPS listener.
type TLSConfig struct {
	CertFile string `mapstructure:"tls_cert"`
	KeyFile  string `mapstructure:"tls_key"`
}

// FederationConfig tunes server discovery, request timeouts, and the
// outbound retry queue's backoff schedule.
type FederationConfig struct {
	RequestTimeoutSeconds     int `mapstructure:"request_timeout_seconds"`
	WellKnownTimeoutSeconds   int `mapstructure:"well_known_timeout_seconds"`
	WellKnownCacheHours       int `mapstructure:"well_known_cache_hours"`
	SRVTimeoutSeconds         int `mapstructure:"srv_timeout_seconds"`
	RetryBaseSeconds          int `mapstructure:"retry_base_seconds"`
	RetryMaxMinutes           int `mapstructure:"retry_max_minutes"`
}
