// Package logger builds the structured slog loggers used by the router and
// the blackjack backend: text output for dev and staging, JSON for prod.
package logger
