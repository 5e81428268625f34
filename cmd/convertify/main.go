package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/convertify/internal/batch"
	"github.com/dunamismax/convertify/internal/codec"
	"github.com/dunamismax/convertify/internal/config"
	"github.com/dunamismax/convertify/internal/convert"
	"github.com/dunamismax/convertify/internal/packager"
	"github.com/dunamismax/convertify/internal/telemetry"
	"go.uber.org/zap"
)

const usage = `usage: convertify <command> [flags]

commands:
  convert -pair png-jpeg [-out DIR] [-report FILE] FILE...
  watch   -pair png-webp [-dir INBOX] [-out DIR] [-report FILE]
  pairs   [-source FORMAT]
`

var errUsage = errors.New("invalid usage")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
		}
		fmt.Fprintf(os.Stderr, "convertify: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := telemetry.NewLogger(cfg.Telemetry.LogLevel, cfg.Telemetry.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "convertify",
		Exporter:     cfg.Telemetry.TraceExporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	if err := codec.Startup(logger); err != nil {
		return fmt.Errorf("start codec backend: %w", err)
	}
	defer codec.Shutdown()

	a := newApp(cfg, logger, stdout)
	defer a.writeMetrics()

	switch args[0] {
	case "convert":
		return a.convert(ctx, args[1:])
	case "watch":
		return a.watch(ctx, args[1:])
	case "pairs":
		return a.pairs(ctx, args[1:])
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

type app struct {
	cfg        config.Config
	logger     *zap.Logger
	stdout     io.Writer
	metrics    *batch.Metrics
	dispatcher *convert.Dispatcher
	packager   *packager.Packager
}

func newApp(cfg config.Config, logger *zap.Logger, stdout io.Writer) *app {
	registry := codec.NewRegistry(codec.RegistryConfig{
		ICOMaxSize: cfg.Codec.ICOMaxSize,
		SVGScale:   cfg.Codec.SVGScale,
	})
	logger.Debug("codec backend ready", zap.String("backend", codec.Backend()))

	dispatcher := convert.NewDispatcher(registry, convert.Options{
		JPEGQuality: cfg.Codec.JPEGQuality,
		WebPQuality: cfg.Codec.WebPQuality,
		AVIFQuality: cfg.Codec.AVIFQuality,
	})

	return &app{
		cfg:        cfg,
		logger:     logger,
		stdout:     stdout,
		metrics:    batch.NewMetrics(),
		dispatcher: dispatcher,
		packager:   packager.New(packager.Config{MaxArchiveBytes: cfg.Output.MaxArchiveBytes}, logger),
	}
}

func (a *app) newSession(pairSlug string) (*batch.Session, error) {
	pair, err := parsePair(pairSlug)
	if err != nil {
		return nil, err
	}
	return batch.NewSession(pair, a.dispatcher, batch.Config{
		MaxFiles:     a.cfg.Batch.MaxFiles,
		MaxFileBytes: a.cfg.Batch.MaxFileBytes,
		JobTimeout:   a.cfg.Batch.JobTimeout,
	}, a.logger, a.metrics), nil
}

func (a *app) writeMetrics() {
	path := a.cfg.Telemetry.MetricsFile
	if path == "" {
		return
	}
	if err := a.metrics.WriteTextfile(path); err != nil {
		a.logger.Warn("metrics export failed", zap.String("path", path), zap.Error(err))
	}
}
