// Package config loads and validates the relay configuration from YAML with
// environment variable overrides.
package config
