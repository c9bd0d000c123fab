// Command streambridge runs the HTTP pub-sub bridge described by a config
// file and STREAMBRIDGE_* environment variables.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/drblury/streambridge"
	_ "github.com/drblury/streambridge/binder/binders"
	loggingpkg "github.com/drblury/streambridge/internal/runtime/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", os.Getenv("STREAMBRIDGE_CONFIG"), "path to the bridge configuration file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	development := flag.Bool("dev", false, "human readable logs")
	flag.Parse()

	zl, err := loggingpkg.NewZapLogger(*logLevel, *development)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()
	logger := streambridge.NewZapServiceLogger(zl)

	cfg, err := streambridge.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	zl.Info("starting bridge", zap.Stringer("config", cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := streambridge.TryNewService(cfg, logger, ctx, streambridge.ServiceDependencies{})
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Error("failed to close bridge", err, nil)
		}
	}()

	if err := svc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
