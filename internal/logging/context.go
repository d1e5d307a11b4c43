package logging

import (
	"log/slog"
)

// WithFile creates a logger with package file context.
//
// Example:
//
//	log := logging.WithFile("setup.msi")
//	log.Debug("container opened", "sectors", n)
func WithFile(path string) *slog.Logger {
	return GetLogger().With("file", path)
}

// WithTable creates a logger with table context.
// Use this for schema and row decoding.
func WithTable(tableName string) *slog.Logger {
	return GetLogger().With("table", tableName)
}

// WithEntry creates a logger with container entry context.
func WithEntry(path, entry string) *slog.Logger {
	return GetLogger().With("file", path, "entry", entry)
}
