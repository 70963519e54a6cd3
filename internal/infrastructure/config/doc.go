// Package config loads hublink's YAML configuration.
//
// Values are layered: built-in defaults, then the file, then HUBLINK_*
// environment variables. Validate reports every problem it finds in one
// error rather than stopping at the first.
//
// Durations are stored as integer seconds and read back through the
// Get* helpers, e.g. cfg.Hub.GetRequestTimeout().
//
// Keep the hub token out of the file where possible:
//
//	HUBLINK_HUB_TOKEN=eyJ... hublink
package config
