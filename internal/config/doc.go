// Package config provides configuration loading and validation for the voice forensics service.
// It reads a YAML file over built-in defaults, overlays SIREN_* environment variables
// (optionally from a .env file) and validates every section before the service starts.
package config
