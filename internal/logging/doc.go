// Package logging builds slog loggers with the console/JSON handlers and
// the standardized field names shared across the daemon and CLI.
package logging
