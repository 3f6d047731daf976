/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package config loads reqguard settings (rate limiting, idempotency, Redis, HTTP server, logging)
// from YAML/JSON files and environment variables.
//
// Every settings struct implements Config and may provide its own key prefix,
// so a single file can feed all of them:
//
//	rateLimit:
//	  maxTokens: 100
//	  refillRate: 10
//	idempotency:
//	  ttl: 24h
package config

// Config is a common interface for configuration objects that may be used by Loader.
type Config interface {
	SetProviderDefaults(dp DataProvider)
	Set(dp DataProvider) error
}

// KeyPrefixProvider is an interface for providing key prefix that will be used for configuration parameters.
type KeyPrefixProvider interface {
	KeyPrefix() string
}

func providerForConfig(dp DataProvider, cfg Config) DataProvider {
	if kp, ok := cfg.(KeyPrefixProvider); ok && kp.KeyPrefix() != "" {
		return NewKeyPrefixedDataProvider(dp, kp.KeyPrefix())
	}
	return dp
}
