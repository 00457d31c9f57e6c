package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/textgen/internal/logger"
	"github.com/samcharles93/textgen/internal/tracing"
	"github.com/samcharles93/textgen/internal/version"
)

var (
	appConfig       Config
	shutdownTracing tracing.ShutdownFunc
)

func main() {
	app := &cli.Command{
		Name:    "textgen",
		Usage:   "Autoregressive text generation driver",
		Version: version.String(),
		Flags:   append(loggingFlags(), tracingFlags()...),
		Before:  setup,
		After:   teardown,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			runCmd(),
			serveCmd(),
			fetchCmd(),
			benchmarkCmd(),
			versionCmd(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// setup loads the config file and installs the logger and tracer before any
// command runs.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	appConfig = LoadConfig()
	applyGlobalConfig(cmd, appConfig)

	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	log, err := logger.NewFromFormat(logFormat, os.Stderr, level)
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: %v", err), 1)
	}
	ctx = logger.WithContext(ctx, log)

	shutdown, err := tracing.Setup(ctx, tracing.Config{
		Enabled:  otlpEndpoint != "",
		Endpoint: otlpEndpoint,
		Insecure: otlpInsecure,
	})
	if err != nil {
		return ctx, cli.Exit(fmt.Sprintf("error: tracing: %v", err), 1)
	}
	shutdownTracing = shutdown
	if otlpEndpoint != "" {
		log.Debug("tracing enabled", "endpoint", otlpEndpoint)
	}
	return ctx, nil
}

func teardown(ctx context.Context, cmd *cli.Command) error {
	if shutdownTracing == nil {
		return nil
	}
	// ctx may already be cancelled by a signal; spans still need flushing.
	if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
		logger.FromContext(ctx).Warn("flush traces", "error", err)
	}
	return nil
}
