// client.go contains the two-step exchange with an SPSE tender portal: fetch the listing
// page for its session cookies and anti-forgery token, then replay both against the
// datatables endpoint.

package lpse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lpse-scraper/internal/components/assert"
	"lpse-scraper/internal/components/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	report_fetcher_new   = "fetcher.new"
	report_fetcher_fetch = "fetcher.fetch"
)

const (
	DefaultBaseUrl = "https://spse.inaproc.id/kemhan"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.0.0 Safari/537.36"
	// only the first page is ever requested
	pageLength = 25
	// how much of a failed response body ends up in the logs
	errorBodyPrefixLength = 200
)

var tracer = otel.Tracer("lpse-scraper/scrapers/lpse")

type Options struct {
	// BaseUrl is the root of the SPSE instance, defaults to DefaultBaseUrl.
	BaseUrl string
	// Timeout applies to each outbound request, zero means no timeout.
	Timeout time.Duration
	// MessageOutput receives a dump of every http exchange with the token and cookies masked,
	// it can be nil.
	MessageOutput telemetry.MessageOutput
	// Meter defaults to the global meter provider.
	Meter metric.Meter
}

// Fetcher retrieves tender tables. It holds no per-request state, every call to Fetch
// uses its own http client and cookie jar so concurrent calls never share a session.
type Fetcher struct {
	baseUrl *url.URL
	timeout time.Duration
	output  telemetry.MessageOutput
	tel     telemetry.API

	instruments telemetry.FetchInstruments
}

func NewFetcher(opts Options, tel telemetry.API) (Fetcher, error) {
	assert.NotNil(tel, "telemetry")
	tel = telemetry.NewScopedAPI("lpse_scraper", tel)

	baseUrl := opts.BaseUrl
	if baseUrl == "" {
		baseUrl = DefaultBaseUrl
	}
	parsed, err := url.Parse(strings.TrimSuffix(baseUrl, "/"))
	if err != nil {
		tel.ReportBroken(report_fetcher_new, fmt.Errorf("parse base url: %w", err), baseUrl)
		return Fetcher{}, err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		err := fmt.Errorf("base url %q must be absolute", baseUrl)
		tel.ReportBroken(report_fetcher_new, err)
		return Fetcher{}, err
	}

	meter := opts.Meter
	if meter == nil {
		meter = otel.Meter("lpse-scraper/scrapers/lpse")
	}
	instruments, err := telemetry.NewFetchInstruments(meter)
	if err != nil {
		tel.ReportBroken(report_fetcher_new, fmt.Errorf("create instruments: %w", err))
		return Fetcher{}, err
	}

	return Fetcher{
		baseUrl:     parsed,
		timeout:     opts.Timeout,
		output:      opts.MessageOutput,
		tel:         tel,
		instruments: instruments,
	}, nil
}

// ListingUrl is the html page the token and the session cookies come from.
func (f Fetcher) ListingUrl() string {
	return f.baseUrl.JoinPath("lelang").String()
}

// DataUrl is the datatables endpoint, without the year query.
func (f Fetcher) DataUrl() string {
	return f.baseUrl.JoinPath("dt", "lelang").String()
}

func (f Fetcher) newClient() (*resty.Client, error) {
	httpClient := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpClient.SetCookieJar(jar)
	httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)

	httpClient.SetHeader("User-Agent", userAgent)
	httpClient.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(f.baseUrl.Hostname()))
	if f.timeout > 0 {
		httpClient.SetTimeout(f.timeout)
	}

	telemetry.InstrumentResty(httpClient, f.tel, f.output, telemetry.Redaction{
		FormFields: []string{tokenMarker},
		Body:       redactToken,
	})

	return httpClient, nil
}

// Fetch returns the first page of tenders for the given budget year.
// Any returned error is a *FetchError.
func (f Fetcher) Fetch(ctx context.Context, year int) (TenderPayload, error) {
	ctx, span := tracer.Start(ctx, "fetcher:Fetch", trace.WithAttributes(
		attribute.Int("lpse.year", year),
	))
	defer span.End()

	start := time.Now()
	payload, err := f.fetch(ctx, span, year)

	var failure string
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		failure = fetchErr.Kind.String()
	}
	f.instruments.RecordFetch(ctx, year, time.Since(start), failure)

	return payload, err
}

func (f Fetcher) fetch(ctx context.Context, span trace.Span, year int) (TenderPayload, error) {
	f.tel.ReportDebug("start fetch", year)

	client, err := f.newClient()
	if err != nil {
		return f.fail(span, &FetchError{
			Kind: TransportError,
			Step: "listing",
			Err:  fmt.Errorf("create client: %w", err),
		})
	}

	listingUrl := f.ListingUrl()
	res, err := client.R().
		SetContext(ctx).
		Get(listingUrl)
	if err != nil {
		return f.fail(span, &FetchError{Kind: TransportError, Step: "listing", Err: err})
	}
	if !res.IsSuccess() {
		return f.fail(span, &FetchError{
			Kind:       TransportError,
			Step:       "listing",
			StatusCode: res.StatusCode(),
			BodyPrefix: prefix(res.String(), errorBodyPrefixLength),
		})
	}

	token, tokenErr := extractToken(res.Body())
	if tokenErr != nil {
		return f.fail(span, tokenErr)
	}
	f.tel.ReportDebug("token found", prefix(token, 10)+"...")

	form := url.Values{
		"draw":              {"1"},
		"start":             {"0"},
		"length":            {strconv.Itoa(pageLength)},
		"search[value]":     {""},
		"search[regex]":     {"false"},
		"authenticityToken": {token},
		"order[0][column]":  {"1"},
		"order[0][dir]":     {"asc"},
	}

	res, err = client.R().
		SetContext(ctx).
		SetHeader("Referer", listingUrl).
		SetHeader("X-Requested-With", "XMLHttpRequest").
		SetHeader("Accept", "application/json, text/javascript, */*; q=0.01").
		SetQueryParam("tahun", strconv.Itoa(year)).
		SetFormDataFromValues(form).
		Post(f.DataUrl())
	if err != nil {
		return f.fail(span, &FetchError{Kind: TransportError, Step: "data", Err: err})
	}
	if !res.IsSuccess() {
		return f.fail(span, &FetchError{
			Kind:       TransportError,
			Step:       "data",
			StatusCode: res.StatusCode(),
			BodyPrefix: prefix(res.String(), errorBodyPrefixLength),
		})
	}

	payload, decodeErr := decodeData(res.Body())
	if decodeErr != nil {
		return f.fail(span, decodeErr)
	}

	span.SetAttributes(
		attribute.Int("lpse.records_total", payload.RecordsTotal),
		attribute.Int("lpse.rows", len(payload.Data)),
	)
	f.tel.ReportDebug("fetch succeeded", year, payload.RecordsTotal, len(payload.Data))

	return payload, nil
}

func (f Fetcher) fail(span trace.Span, err *FetchError) (TenderPayload, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Kind.String())

	params := []any{err, err.Kind.String()}
	if err.StatusCode != 0 {
		params = append(params, fmt.Sprintf("status code: %d", err.StatusCode))
	}
	if err.BodyPrefix != "" {
		params = append(params, err.BodyPrefix)
	}
	f.tel.ReportBroken(report_fetcher_fetch, params...)

	return TenderPayload{}, err
}

func decodeData(body []byte) (TenderPayload, *FetchError) {
	formatError := func(err error) *FetchError {
		return &FetchError{
			Kind:       UpstreamFormatError,
			Step:       "data",
			BodyPrefix: prefix(string(body), errorBodyPrefixLength),
			Err:        err,
		}
	}

	var parsed dataResponse
	err := json.Unmarshal(body, &parsed)
	if err != nil {
		return TenderPayload{}, formatError(fmt.Errorf("unmarshal json: %w", err))
	}
	if parsed.RecordsTotal == nil {
		return TenderPayload{}, formatError(fmt.Errorf("missing field recordsTotal"))
	}
	if parsed.RecordsFiltered == nil {
		return TenderPayload{}, formatError(fmt.Errorf("missing field recordsFiltered"))
	}
	if parsed.Data == nil {
		return TenderPayload{}, formatError(fmt.Errorf("missing field data"))
	}

	return TenderPayload{
		RecordsTotal:    *parsed.RecordsTotal,
		RecordsFiltered: *parsed.RecordsFiltered,
		Data:            *parsed.Data,
	}, nil
}
