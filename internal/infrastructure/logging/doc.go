// Package logging provides structured logging for Agentlink Core.
//
// It wraps log/slog with configuration-driven level filtering, JSON or text
// output, and default service/version attributes on every record.
//
// Components receive a *Logger (or a narrower local interface) and must never
// write directly to stdout/stderr.
package logging
