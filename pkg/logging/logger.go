// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	// Set global log level
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Configure output
	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output}
	}

	// Create logger with timestamp
	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// LevelFor returns the configured level, or debug when verbose is set.
func LevelFor(configured string, verbose bool) LogLevel {
	if verbose {
		return LevelDebug
	}
	if configured == "" {
		return LevelInfo
	}
	return LogLevel(strings.ToLower(configured))
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Every page request and its status
//   - Page cache hits and revalidations
//   - Batch flushes (table, seen, inserted)
//
// Info: Normal operation events
//   - Run start and end (run_id, tasks, duration)
//   - Finished sequences (pages, documents, stop reason)
//   - Expanded tables (columns, rows)
//
// Warn: Conditions that don't stop the run
//   - Retry attempts and backoff
//   - Sequences ended by a 4xx, retry exhaustion or a malformed page
//   - Skipped expansions
//   - Cooldown or cache errors (request proceeds without them)
//
// Error: Conditions that end the run
//   - Storage failures
//   - Configuration errors
//
// Context Fields:
//   - run_id: Identifier of one pipeline run
//   - endpoint: Endpoint key
//   - year: Year of the task
//   - table: Destination table
//   - page: Page number within a sequence
//   - url: Page URL
//   - status: HTTP status code
//   - error_class: Error classification (client, server, rate_limit, network)
//   - attempt: Retry attempt number
//   - backoff: Wait before the next attempt
//   - seen: Records flushed
//   - inserted: Records stored (new hashes)
