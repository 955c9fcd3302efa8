package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"lpse-scraper/internal/components/telemetry"
	"lpse-scraper/pkg/restyutil"

	"github.com/lmittmann/tint"
)

func initSlog(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)
}

// InitTelemetry sets up logging and otel export, the caller must Shutdown the returned
// Telemetry before exiting. In verbose mode it also returns a destination for http exchange
// dumps.
func InitTelemetry(ctx context.Context, verbose bool, dumpDir string) (telemetry.Telemetry, telemetry.MessageOutput, error) {
	initSlog(verbose)
	if verbose {
		slog.DebugContext(ctx, "verbose logging enabled")
	}

	t, err := telemetry.SetupOptional(ctx, "lpse-server")
	if err != nil {
		return telemetry.Telemetry{}, nil, err
	}
	telemetry.InstrumentPerfStats(ctx, telemetry.SlogAPI{}, 30*time.Second)

	if !verbose {
		return t, nil, nil
	}
	output, err := restyutil.NewFilesystemOutput(dumpDir)
	if err != nil {
		return t, nil, err
	}
	return t, output, nil
}
