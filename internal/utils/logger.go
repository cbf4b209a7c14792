package utils

import (
	"log/slog"
	"os"
	"strings"
)

var (
	logLevel = new(slog.LevelVar)
	logger   = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
)

func Logger() *slog.Logger {
	return logger
}

// SetLogLevel accepts debug, info, warn or error; anything else means info.
func SetLogLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		logLevel.Set(slog.LevelDebug)
	case "warn", "warning":
		logLevel.Set(slog.LevelWarn)
	case "error":
		logLevel.Set(slog.LevelError)
	default:
		logLevel.Set(slog.LevelInfo)
	}
}

// LogError logs an error if it's not nil
func LogError(err error, context string) {
	if err != nil {
		logger.Error(context, "error", err)
	}
}
