package logger

import (
	"log/slog"
	"os"
)

// FatalWithLogger logs at error level and exits with status 1. Startup-only;
// running components surface errors through the shutdown path instead.
func FatalWithLogger(logger *slog.Logger, msg string, args ...any) {
	logger.Error(msg, args...)
	os.Exit(1)
}
