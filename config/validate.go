package config

import "github.com/teranos/matrixd/errors"

// Validate checks that the configuration is usable before the server binds
// any socket or opens the database.
func (c *Config) Validate() error {
	if c.ServerName == "" {
		return errors.NewKind(errors.KindBadConfig, "server_name must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.NewKindf(errors.KindBadConfig, "port must be in 1..65535, got %d", c.Port)
	}
	if c.MaxRequestSize <= 0 {
		return errors.NewKindf(errors.KindBadConfig, "max_request_size must be > 0, got %d", c.MaxRequestSize)
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return errors.NewKind(errors.KindBadConfig, "tls_cert and tls_key must both be set or both be empty")
	}
	if c.Federation.RequestTimeoutSeconds <= 0 {
		return errors.NewKindf(errors.KindBadConfig, "federation.request_timeout_seconds must be > 0, got %d", c.Federation.RequestTimeoutSeconds)
	}
	if c.Federation.RetryMaxMinutes <= 0 {
		return errors.NewKindf(errors.KindBadConfig, "federation.retry_max_minutes must be > 0, got %d", c.Federation.RetryMaxMinutes)
	}
	return nil
}
