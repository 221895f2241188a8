// Package config loads process configuration from an optional YAML or JSON
// file, overlays XS_* environment variables, and resolves the OS-specific
// default data directory.
package config
