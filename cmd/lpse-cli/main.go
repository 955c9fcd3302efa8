package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"lpse-scraper/cmd/lpse-cli/commands"
	"lpse-scraper/internal/components/telemetry"
	"lpse-scraper/pkg/serviceutil"

	"github.com/lmittmann/tint"
)

func main() {
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.Kitchen,
	})))

	ctx := context.Background()
	t, err := telemetry.SetupOptional(ctx, "lpse-cli")
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}

	code := commands.ExecuteContext(ctx)

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = t.Shutdown(shutdownCtx)
	cancel()
	if err != nil {
		slog.Error("flush telemetry", "err", err)
	}
	os.Exit(code)
}
