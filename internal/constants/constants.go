// Package constants defines the shared constants used across the service.
package constants

import "log/slog"

var (
	// Version is the version of the application.
	Version = "Dev"
)

const (
	// IngestServiceCmdName is the name of the ingest service command.
	IngestServiceCmdName = "flowetic-ingest-service"

	// DefaultLogLevel is the logging level used when no verbosity flag is given.
	DefaultLogLevel = slog.LevelWarn
)
