package config

import "errors"

var (
	ErrConflictingDomainFilters = errors.New("cannot use both allowed_domains and blocked_domains, use only one")
	ErrMissingCredentials       = errors.New("no API key or OAuth token configured")
	ErrInvalidCacheTTL          = errors.New("cache_ttl must be \"5min\" or \"1hour\"")
)

// ConfigurationError reports a contradictory or missing setting. It is
// always raised before any network interaction.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return "configuration error (" + e.Field + "): " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
