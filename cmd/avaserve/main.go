// Package main is the entry point for the avaserve connection server.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/vyrodovalexey/avaserve/internal/config"
	"github.com/vyrodovalexey/avaserve/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags. Empty values leave the config file
// setting in place.
type cliFlags struct {
	configPath  string
	addr        string
	workers     int
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	if flags.showVersion {
		printVersion(os.Stdout)
		return
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Observability.Logging)
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting avaserve",
		observability.String("version", version),
		observability.String("address", cfg.Server.Address),
		observability.Bool("tls", cfg.TLSEnabled()),
	)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("avaserve stopped with error", observability.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("avaserve stopped")
}

// parseFlags parses command line flags. Defaults come from the environment.
func parseFlags(args []string) (cliFlags, error) {
	fs := flag.NewFlagSet("avaserve", flag.ContinueOnError)

	var f cliFlags
	fs.StringVar(&f.configPath, "config", getEnvOrDefault("AVASERVE_CONFIG_PATH", ""),
		"Path to configuration file")
	fs.StringVar(&f.addr, "addr", getEnvOrDefault("AVASERVE_ADDR", ""),
		"Listen address (host:port)")
	fs.IntVar(&f.workers, "workers", getEnvInt("AVASERVE_WORKERS", 0),
		"Number of workers (defaults to the CPU count)")
	fs.StringVar(&f.logLevel, "log-level", getEnvOrDefault("AVASERVE_LOG_LEVEL", ""),
		"Log level (debug, info, warn, error)")
	fs.StringVar(&f.logFormat, "log-format", getEnvOrDefault("AVASERVE_LOG_FORMAT", ""),
		"Log format (json, console)")
	fs.BoolVar(&f.showVersion, "version", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}
	return f, nil
}

// printVersion prints version information.
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "avaserve version %s\n", version)
	fmt.Fprintf(w, "  Build time: %s\n", buildTime)
	fmt.Fprintf(w, "  Git commit: %s\n", gitCommit)
}

// loadConfig reads the config file when one is given, applies flag
// overrides and validates the result.
func loadConfig(flags cliFlags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if flags.configPath != "" {
		loaded, err := config.Load(flags.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if flags.addr != "" {
		cfg.Server.Address = flags.addr
	}
	if flags.workers > 0 {
		cfg.Server.Workers = flags.workers
	}
	if flags.logLevel != "" {
		cfg.Observability.Logging.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Observability.Logging.Format = flags.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// initLogger initializes the logger.
func initLogger(cfg observability.LogConfig) observability.Logger {
	logger, err := observability.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

func workersString(n int) string {
	if n <= 0 {
		return "auto"
	}
	return strconv.Itoa(n)
}
