// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Environment variables read by FromEnv.
const (
	EnvLevel  = "LOG_LEVEL"
	EnvPretty = "LOG_PRETTY"
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

	// LevelDisabled turns logging off.
	LevelDisabled LogLevel = "disabled"
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

// FromEnv overlays LOG_LEVEL and LOG_PRETTY on the default configuration.
// getenv is usually os.Getenv.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := DefaultConfig()

	if v := getenv(EnvLevel); v != "" {
		level, err := ParseLevel(v)
		if err != nil {
			return cfg, err
		}
		cfg.Level = level
	}

	if v := getenv(EnvPretty); v != "" {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid %s %q: %w", EnvPretty, v, err)
		}
		cfg.Pretty = pretty
	}

	return cfg, nil
}

// ParseLevel validates a level name. "warning" is accepted for LevelWarn.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "disabled", "off":
		return LevelDisabled, nil
	default:
		return "", fmt.Errorf("unknown log level %q", s)
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	level := toZerolog(cfg.Level)
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	logger := zerolog.New(out).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// toZerolog converts LogLevel to zerolog.Level. Unknown levels map to info.
func toZerolog(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
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
//   - Every page request and its URL
//   - Link header parsing results
//   - Budget updates while the budget is healthy
//   - Worker and batch lifecycle
//
// Info: Normal operation events
//   - Iterator construction (total pages, workers, filter mode)
//   - Collections without a Link header (single page)
//   - CLI startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Batch size clamped to the remaining pages
//   - Failed page fetches inside a batch
//   - Budget below the low threshold
//   - Anonymous requests because no token was found
//   - Retry attempts
//
// Error: Error conditions requiring attention
//   - Failed requests (after retries)
//   - Budget below the critical threshold
//   - Redis publish failures
//
// Context Fields:
//   - component: emitting package (pagination, github-client, ratelimit, auth)
//   - project: owner/name of the repository
//   - collection: collection kind (commits, stargazers, ...)
//   - page: page index
//   - total_pages: resolved page count
//   - batch_size: pages per batch after clamping
//   - remaining: pages not yet handed out, or budget remaining
//   - status: HTTP status code
//   - error_class: Error classification (client, server, rate_limit, network)
//   - duration: request or batch duration
