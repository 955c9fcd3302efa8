package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"lpse-scraper/internal/components/chrono"
	"lpse-scraper/internal/components/telemetry"
	"lpse-scraper/internal/scrapers/lpse"
	"lpse-scraper/internal/service"
	"lpse-scraper/pkg/serviceutil"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	t, output, err := InitTelemetry(ctx, *verbose, ".dev/resty/lpse")
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	code := 0
	err = run(ctx, output)
	if err != nil {
		slog.Error("lpse-server stopped", "err", err)
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = t.Shutdown(shutdownCtx)
	cancel()
	if err != nil {
		slog.Error("flush telemetry", "err", err)
	}
	os.Exit(code)
}

func run(ctx context.Context, output telemetry.MessageOutput) error {
	cfg, err := ReadConfig()
	if err != nil {
		return err
	}

	tel := telemetry.SlogAPI{}
	fetcher, err := lpse.NewFetcher(lpse.Options{
		BaseUrl:       cfg.BaseUrl,
		Timeout:       cfg.UpstreamTimeout(),
		MessageOutput: output,
	}, tel)
	if err != nil {
		return err
	}
	clock, err := chrono.NewStandardTime()
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	service.NewScrapeService(fetcher, clock, tel).Register(mux)

	slog.InfoContext(ctx, "scraping upstream", "listing", fetcher.ListingUrl())
	return serviceutil.StartHttpServer(ctx, cfg.Port, otelhttp.NewHandler(mux, "lpse-server"))
}
