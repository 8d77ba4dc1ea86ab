package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pterm/pterm"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level      string
	Format     string // "json" or "text"; text renders via pterm on a TTY
	LogDir     string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	FileOutput bool
}

const (
	DefaultLogOutputName = "labman.log"

	// LevelEnvVar is consulted when no level is configured; the --log-level
	// flag overrides it.
	LevelEnvVar = "LABMAN_LOG_LEVEL"

	LogLevelTrace   = "trace"
	LogLevelDebug   = "debug"
	LogLevelInfo    = "info"
	LogLevelWarn    = "warn"
	LogLevelWarning = "warning"
	LogLevelError   = "error"
)

// New builds the daemon logger. The returned cleanup closes any file
// handlers and must run at shutdown.
func New(cfg *Config) (*slog.Logger, func(), error) {
	filter, err := ParseLevelFilter(effectiveLevel(cfg.Level))
	if err != nil {
		return nil, nil, err
	}

	var cleanupFuncs []func()
	var handlers []slog.Handler

	sinkLevel := filter.MinLevel()

	if cfg.Format != "json" && shouldUseColors() {
		handlers = append(handlers, createTerminalHandler(sinkLevel))
	} else {
		handlers = append(handlers, createJSONHandler(os.Stdout, sinkLevel))
	}

	if cfg.FileOutput {
		fileHandler, cleanup, ferr := createFileHandler(cfg, sinkLevel)
		if ferr != nil {
			return nil, nil, ferr
		}
		cleanupFuncs = append(cleanupFuncs, cleanup)
		handlers = append(handlers, fileHandler)
	}

	var base slog.Handler
	if len(handlers) == 1 {
		base = handlers[0]
	} else {
		base = &simpleMultiHandler{handlers: handlers}
	}

	base = &filterHandler{inner: base, filter: filter}

	cleanup := func() {
		for _, fn := range cleanupFuncs {
			fn()
		}
	}

	return slog.New(base), cleanup, nil
}

func effectiveLevel(configured string) string {
	if configured != "" {
		return configured
	}
	if env := os.Getenv(LevelEnvVar); env != "" {
		return env
	}
	return LogLevelInfo
}

func shouldUseColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func createTerminalHandler(level slog.Level) slog.Handler {
	plogger := pterm.DefaultLogger.
		WithLevel(convertToPTermLevel(level)).
		WithWriter(os.Stdout).
		WithFormatter(pterm.LogFormatterColorful)
	return pterm.NewSlogHandler(plogger)
}

func createJSONHandler(w *os.File, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: fastReplaceAttr,
	})
}

func createFileHandler(cfg *Config, level slog.Level) (slog.Handler, func(), error) {
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return nil, nil, err
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, DefaultLogOutputName),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}

	handler := slog.NewJSONHandler(rotator, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: fastReplaceAttr,
	})

	cleanup := func() {
		_ = rotator.Close()
	}

	return handler, cleanup, nil
}

func fastReplaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		return slog.Attr{
			Key:   "timestamp",
			Value: slog.StringValue(a.Value.Time().Format("2006-01-02 15:04:05")),
		}
	}
	return a
}

// simpleMultiHandler sends logs to multiple handlers without dual processing.
type simpleMultiHandler struct {
	handlers []slog.Handler
}

func (h *simpleMultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *simpleMultiHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, record.Level) {
			if err := handler.Handle(ctx, record); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *simpleMultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newHandlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		newHandlers[i] = handler.WithAttrs(attrs)
	}
	return &simpleMultiHandler{handlers: newHandlers}
}

func (h *simpleMultiHandler) WithGroup(name string) slog.Handler {
	newHandlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		newHandlers[i] = handler.WithGroup(name)
	}
	return &simpleMultiHandler{handlers: newHandlers}
}

func convertToPTermLevel(level slog.Level) pterm.LogLevel {
	switch {
	case level < slog.LevelDebug:
		return pterm.LogLevelTrace
	case level < slog.LevelInfo:
		return pterm.LogLevelDebug
	case level < slog.LevelWarn:
		return pterm.LogLevelInfo
	case level < slog.LevelError:
		return pterm.LogLevelWarn
	default:
		return pterm.LogLevelError
	}
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case LogLevelTrace:
		return slog.LevelDebug - 4, nil
	case LogLevelDebug:
		return slog.LevelDebug, nil
	case LogLevelInfo, "":
		return slog.LevelInfo, nil
	case LogLevelWarn, LogLevelWarning:
		return slog.LevelWarn, nil
	case LogLevelError:
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %q", level)
	}
}
