// Command kvstore runs the persistent key-value server: it recovers the
// write-ahead log into memory, then serves Set/Get/GetPrefix/Stat requests
// over a newline-delimited-JSON TCP listener until terminated.
//
// Usage:
//
//	kvstore [flags]
//
// Flags:
//
//	--config string       Path to a JWCC (JSON-with-comments) config file
//	--wal-path string     Write-ahead log path (default "wal.log")
//	--stripe-count int    Number of lock stripes (default 64)
//	--max-key-bytes uint32   Maximum key size in bytes (default 4096)
//	--max-value-bytes uint32 Maximum value size in bytes (default 1048576)
//	--fsync-on-append     Fsync the WAL after every append (default true)
//	--listen-addr string  TCP address to listen on (default ":7070")
//	--log-level string    Log level: debug, info, warn, error (default "info")
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/flashdb/kvstore/internal/config"
	"github.com/flashdb/kvstore/internal/engine"
	"github.com/flashdb/kvstore/internal/rpcserver"
	"github.com/flashdb/kvstore/internal/version"
)

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	defaults := config.Default()

	configPath := pflag.String("config", "", "Path to a JWCC config file")
	walPath := pflag.String("wal-path", defaults.WALPath, "Write-ahead log path")
	stripeCount := pflag.Int("stripe-count", defaults.StripeCount, "Number of lock stripes")
	maxKeyBytes := pflag.Uint32("max-key-bytes", defaults.MaxKeyBytes, "Maximum key size in bytes")
	maxValueBytes := pflag.Uint32("max-value-bytes", defaults.MaxValueBytes, "Maximum value size in bytes")
	fsyncOnAppend := pflag.Bool("fsync-on-append", defaults.FsyncOnAppend, "Fsync the WAL after every append")
	listenAddr := pflag.String("listen-addr", defaults.ListenAddr, "TCP address to listen on")
	logLevel := pflag.String("log-level", defaults.LogLevel, "Log level: debug, info, warn, error")
	showVersion := pflag.Bool("version", false, "Show version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Printf("kvstore v%s (built %s)\n", version.Version, version.BuildTime)
		return
	}

	cfg := defaults
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "kvstore: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Explicit flags always win over the config file, matching pflag's own
	// "flags override everything else" convention.
	pflag.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "wal-path":
			cfg.WALPath = *walPath
		case "stripe-count":
			cfg.StripeCount = *stripeCount
		case "max-key-bytes":
			cfg.MaxKeyBytes = *maxKeyBytes
		case "max-value-bytes":
			cfg.MaxValueBytes = *maxValueBytes
		case "fsync-on-append":
			cfg.FsyncOnAppend = *fsyncOnAppend
		case "listen-addr":
			cfg.ListenAddr = *listenAddr
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	logger.Info("kvstore starting", slog.String("version", version.Version), slog.String("wal_path", cfg.WALPath))

	e, err := engine.New(engine.Config{
		WALPath:       cfg.WALPath,
		StripeCount:   cfg.StripeCount,
		MaxKeyBytes:   cfg.MaxKeyBytes,
		MaxValueBytes: cfg.MaxValueBytes,
		FsyncOnAppend: cfg.FsyncOnAppend,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("failed to start engine", slog.Any("error", err))
		os.Exit(1)
	}
	defer e.Close()

	srv := rpcserver.New(cfg.ListenAddr, e, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}
