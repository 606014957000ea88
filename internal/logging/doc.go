// Package logging builds the slog loggers used across the pipeline and
// defines the canonical structured field names.
package logging
