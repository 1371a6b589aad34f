package config

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server_name", "localhost")
	v.SetDefault("database_path", "matrixd.db")
	v.SetDefault("port", 8448)
	v.SetDefault("registration_disabled", false)
	v.SetDefault("max_request_size", 50*1024*1024) // 50 MiB, matches the common homeserver default
	v.SetDefault("federation_enabled", true)

	v.SetDefault("federation.request_timeout_seconds", 30)
	v.SetDefault("federation.well_known_timeout_seconds", 10)
	v.SetDefault("federation.well_known_cache_hours", 24)
	v.SetDefault("federation.srv_timeout_seconds", 5)
	v.SetDefault("federation.retry_base_seconds", 1)
	v.SetDefault("federation.retry_max_minutes", 60)
}
