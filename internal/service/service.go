package service

import (
	"context"
	"net/http"
	"sync/atomic"

	"lpse-scraper/internal/components/assert"
	"lpse-scraper/internal/components/chrono"
	"lpse-scraper/internal/components/telemetry"
	"lpse-scraper/internal/scrapers/lpse"
)

// TenderAPI describes the upstream the scrape endpoint reads from.
//
// note: fault injection point
type TenderAPI interface {
	// Fetch returns the first page of tenders for a budget year.
	Fetch(ctx context.Context, year int) (lpse.TenderPayload, error)
}

// IdAPI generates the ids used to correlate the log lines of a single scrape.
//
// note: fault injection point
type IdAPI interface {
	GenerateId() (string, error)
}

const (
	report_scrape           = "scrape"
	report_scrape_in_flight = "scrape.in-flight"
	report_scrape_id        = "scrape.id"
)

// ScrapeService serves the http surface of the scraper.
type ScrapeService struct {
	api  TenderAPI
	time chrono.TimeAPI
	ids  IdAPI
	tel  telemetry.API

	inFlight *atomic.Int64
}

type serviceConfig struct {
	ids IdAPI
}

type Option func(cfg *serviceConfig)

// WithCustomIdAPI replaces the random scrape id generator.
func WithCustomIdAPI(ids IdAPI) Option {
	return func(cfg *serviceConfig) {
		cfg.ids = ids
	}
}

// NewScrapeService creates a ScrapeService
func NewScrapeService(api TenderAPI, time chrono.TimeAPI, tel telemetry.API, options ...Option) ScrapeService {
	assert.NotNil(api, "tender API implementation")
	assert.NotNil(time, "time API implementation")
	assert.NotNil(tel, "telemetry")

	cfg := serviceConfig{ids: randomIdAPI{}}
	for _, opt := range options {
		opt(&cfg)
	}

	return ScrapeService{
		api:      api,
		time:     time,
		ids:      cfg.ids,
		tel:      telemetry.NewScopedAPI("service", tel),
		inFlight: &atomic.Int64{},
	}
}

// Register mounts the service's routes on `mux`.
func (s ScrapeService) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.HandleIndex)
	mux.HandleFunc("GET /api/scrape", s.HandleScrape)
}
