// Package logging builds slog loggers with scribe's console and JSON
// handlers and provides the standardized attribute keys used across the
// orchestrator.
package logging
