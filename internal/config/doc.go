// Package config loads, normalizes, and validates the pipeline's TOML
// configuration: directories, object storage backends, billing, dispatch,
// and workflow timing.
package config
