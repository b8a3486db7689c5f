// Package logging provides structured logging with optional file output.
// Level, prefix and destination come from environment variables.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
)

// LoggerCloser wraps a logger and provides a Close method for cleanup
type LoggerCloser struct {
	*log.Logger
	closer io.Closer
}

// Close closes the underlying writer if it's closeable
func (lc *LoggerCloser) Close() error {
	if lc.closer != nil {
		return lc.closer.Close()
	}
	return nil
}

// NewLoggerWithWriter creates a new logger with the provided writer
func NewLoggerWithWriter(w io.Writer) *LoggerCloser {
	lg := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
	})

	lg.SetLevel(LevelFromEnv())

	// Set prefix from environment
	prefix := os.Getenv("ELFDATA_LOG_PREFIX")
	if prefix == "" {
		prefix = "elfdata "
	}

	var closer io.Closer
	// Never close the process's standard streams.
	if c, ok := w.(io.Closer); ok && w != io.Writer(os.Stderr) && w != io.Writer(os.Stdout) {
		closer = c
	}

	return &LoggerCloser{
		Logger: lg.WithPrefix(prefix),
		closer: closer,
	}
}

// NewLogger creates a new logger based on environment variables
// ELFDATA_LOG_LEVEL: debug, info, warn, error (default: info)
// ELFDATA_LOG_PREFIX: prefix for log messages (default: "elfdata ")
// ELFDATA_LOG_TO_FILE: when set to "1", logs to a timestamped file in the
// working directory instead of fallback (stderr when nil)
func NewLogger(fallback io.Writer) *LoggerCloser {
	output := fallback
	if output == nil {
		output = os.Stderr
	}

	// Check if we should log to file
	if os.Getenv("ELFDATA_LOG_TO_FILE") == "1" {
		// Create timestamped log file
		timestamp := time.Now().Format("20060102-150405")
		logFile := fmt.Sprintf("elfdata-%s-debug.log", timestamp)

		f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err == nil {
			output = f
		}
		// If file creation fails, fall back to the given writer
	}

	return NewLoggerWithWriter(output)
}

// LevelFromEnv maps ELFDATA_LOG_LEVEL to a log level, defaulting to info.
func LevelFromEnv() log.Level {
	switch os.Getenv("ELFDATA_LOG_LEVEL") {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	}
	return log.InfoLevel
}

// Discard returns a logger that writes nowhere.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

// IsDebug returns true if debug logging is enabled
func IsDebug() bool {
	return os.Getenv("ELFDATA_LOG_LEVEL") == "debug"
}
