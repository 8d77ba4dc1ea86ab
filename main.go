package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/qapish/labman/internal/app"
	"github.com/qapish/labman/internal/config"
	"github.com/qapish/labman/internal/logger"
	"github.com/qapish/labman/internal/version"
)

const (
	defaultLogDir        = "./logs"
	defaultLogMaxSizeMB  = 100
	defaultLogMaxBackups = 5
	defaultLogMaxAgeDays = 30
)

func main() {
	startTime := time.Now()

	flags := pflag.NewFlagSet("labmand", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to configuration file (TOML)")
	logLevel := flags.StringP("log-level", "L", "", "log level or filter expression (e.g. info,labmand=debug)")
	printConfig := flags.Bool("print-config", false, "print configuration summary and exit")
	checkConfig := flags.Bool("check-config", false, "validate configuration and exit")
	bindAddr := flags.String("bind-addr", "", "override the admin HTTP bind address")
	showVersion := flags.Bool("version", false, "print version and exit")

	if err := flags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	vlog := log.New(os.Stdout, "", 0)
	if *showVersion {
		version.PrintVersionInfo(true, vlog)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "labmand: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "labmand: %v\n", err)
		os.Exit(1)
	}

	if *checkConfig {
		fmt.Println("configuration ok")
		os.Exit(0)
	}

	if *printConfig {
		cfg.PrintSummary(os.Stdout)
		os.Exit(0)
	}

	level := *logLevel
	if level == "" {
		level = cfg.Telemetry.LogLevel
	}

	logInstance, cleanup, err := logger.New(&logger.Config{
		Level:      level,
		Format:     cfg.Telemetry.LogFormat,
		LogDir:     defaultLogDir,
		MaxSize:    defaultLogMaxSizeMB,
		MaxBackups: defaultLogMaxBackups,
		MaxAge:     defaultLogMaxAgeDays,
		FileOutput: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "labmand: failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()
	slog.SetDefault(logInstance)

	logInstance.Info("initialising", "version", version.Version, "pid", os.Getpid())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logInstance.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	application, err := app.New(cfg, app.Options{AdminBindAddr: *bindAddr}, startTime, logInstance)
	if err != nil {
		logger.FatalWithLogger(logInstance, "failed to create application", "error", err)
	}

	if err := application.Run(ctx); err != nil {
		logger.FatalWithLogger(logInstance, "labman terminated with error", "error", err)
	}

	logInstance.Info("labman has shutdown")
}

func loadConfig(path string) (*config.Config, error) {
	// the watcher only warns: endpoint changes need a restart to apply
	onChange := func() {
		slog.Default().Warn("configuration file changed on disk; restart labmand to apply")
	}

	if path != "" {
		return config.Load(path, onChange)
	}
	return config.LoadDefault(onChange)
}
