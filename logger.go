package storekit

import (
	"log/slog"
	"os"
	"strings"
)

// LogLevelEnvVar names the environment variable ConfigureLogging reads.
const LogLevelEnvVar = "STOREKIT_LOG_LEVEL"

var logLevel = new(slog.LevelVar)

// ConfigureLogging sets up the global default logger with a TextHandler
// and configures the log level based on the STOREKIT_LOG_LEVEL environment variable.
// It defaults to Info level if not specified.
//
// This function should be called by the application at startup if it wants
// to use the default storekit logging configuration.
func ConfigureLogging() {
	logLevel.Set(ParseLogLevel(os.Getenv(LogLevelEnvVar)))

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// SetLogLevel sets the logging level for the logger configured by ConfigureLogging.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

// ParseLogLevel converts DEBUG/INFO/WARN/ERROR (any case) to a slog.Level, defaulting to Info.
func ParseLogLevel(lvl string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(lvl)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}
	return slog.LevelInfo
}
