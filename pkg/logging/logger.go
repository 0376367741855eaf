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
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	var output io.Writer = cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
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

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Individual call attempts and their status codes
//   - Worker start/stop and per-worker item counts
//   - Checkpoint file contents on load
//
// Info: Normal operation events
//   - Successful line-test calls
//   - Batch completions and dispatch progress
//   - Checkpoint writes, resume offset, session state transitions
//   - Total elapsed time at shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Failed call attempts that will be retried
//   - Failure budget throttling active
//   - Checkpoint entry not found in current work list (full restart)
//
// Error: Error conditions requiring attention
//   - Items exhausted after all attempts
//   - Batch runner failures
//   - OTP wait timeout, login failures
//   - Failure budget critical block
//
// Context Fields:
//   - username: subscriber identifier being tested
//   - attempt: call attempt number
//   - status_code: portal HTTP status
//   - batch: batch index
//   - succeeded / failed: per-batch result counts
//   - state: session state name
//   - budget_remaining: shared failure budget left in the window
