package telemetry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	report_resty_request  = "resty.request"
	report_resty_response = "resty.response"
)

const redacted = "REDACTED"

// MessageOutput receives a full dump of every http exchange made by an instrumented client.
type MessageOutput interface {
	Write(id string, contents string)
}

// Redaction lists what is masked in exchange dumps before they reach a MessageOutput.
// Cookie values are always masked.
type Redaction struct {
	// FormFields are urlencoded request body fields whose values are masked.
	FormFields []string
	// Body rewrites response bodies, it can be nil.
	Body func(body string) string
}

type restyInstrument struct {
	tel     API
	tracer  trace.Tracer
	output  MessageOutput
	redact  Redaction
	counter *atomic.Uint64
}

type exchangeKey struct{}

type exchange struct {
	id    uint64
	start time.Time
	span  trace.Span
}

// InstrumentResty traces and reports every request made by `client`. When `output` is not nil
// each exchange is also dumped to it, masked according to `redact`.
func InstrumentResty(client *resty.Client, tel API, output MessageOutput, redact Redaction) {
	i := restyInstrument{
		tel:     tel,
		tracer:  otel.Tracer("lpse-scraper/resty"),
		output:  output,
		redact:  redact,
		counter: &atomic.Uint64{},
	}
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		i.begin(req)
		return nil
	})
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		i.finish(res.Request, res, nil)
		return nil
	})
	client.OnError(func(req *resty.Request, err error) {
		var res *resty.Response
		if responseErr, ok := err.(*resty.ResponseError); ok {
			err = responseErr.Err
			// transport failures come wrapped with an empty response
			if responseErr.Response != nil && responseErr.Response.RawResponse != nil {
				res = responseErr.Response
			}
		}
		i.finish(req, res, err)
	})
}

func (i restyInstrument) begin(req *resty.Request) {
	ctx, span := i.tracer.Start(req.Context(), "http "+req.Method, trace.WithAttributes(
		semconv.HTTPRequestMethodKey.String(req.Method),
		semconv.URLFull(req.URL),
	))
	ex := exchange{id: i.counter.Add(1), start: time.Now(), span: span}
	req.SetContext(context.WithValue(ctx, exchangeKey{}, ex))
	i.tel.ReportDebug(report_resty_request, ex.id, req.Method, req.URL)
}

func (i restyInstrument) finish(req *resty.Request, res *resty.Response, err error) {
	ex, ok := req.Context().Value(exchangeKey{}).(exchange)
	if !ok {
		i.tel.ReportWarning(report_resty_response, "request was not started by the instrument", req.URL)
		return
	}
	defer ex.span.End()
	elapsed := time.Since(ex.start)

	if err != nil {
		ex.span.RecordError(err)
		ex.span.SetStatus(codes.Error, "request failed")
		i.tel.ReportBroken(report_resty_response, err, req.Method, req.URL, elapsed.String())
	} else {
		ex.span.SetAttributes(semconv.HTTPResponseStatusCode(res.StatusCode()))
		if res.IsError() {
			ex.span.SetStatus(codes.Error, res.Status())
		}
		i.tel.ReportDebug(report_resty_response, ex.id, elapsed.String(), res.Status())
	}

	if i.output != nil {
		i.output.Write(strconv.FormatUint(ex.id, 10), i.dump(req, res))
	}
}

func (i restyInstrument) dump(req *resty.Request, res *resty.Response) string {
	var out strings.Builder

	out.WriteString("---- REQUEST ----\n\n")
	fmt.Fprintf(&out, "%s %s\n\n", req.Method, req.URL)
	headers := req.Header
	if req.RawRequest != nil {
		headers = req.RawRequest.Header
	}
	writeHeaders(&out, headers)
	out.WriteString("\n")
	out.WriteString(i.requestBody(req.RawRequest))

	if res == nil {
		return out.String()
	}

	out.WriteString("\n\n---- RESPONSE ----\n\n")
	fmt.Fprintf(&out, "%d\n\n", res.StatusCode())
	writeHeaders(&out, res.Header())
	out.WriteString("\n")
	body := res.String()
	if i.redact.Body != nil {
		body = i.redact.Body(body)
	}
	out.WriteString(body)

	return out.String()
}

func (i restyInstrument) requestBody(req *http.Request) string {
	if req == nil || req.GetBody == nil {
		return "<no body>"
	}
	reader, err := req.GetBody()
	if err != nil || reader == nil {
		return "<no body>"
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Sprintf("<unreadable body: %v>", err)
	}
	body := string(raw)

	if len(i.redact.FormFields) == 0 ||
		!strings.HasPrefix(req.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		return body
	}
	form, err := url.ParseQuery(body)
	if err != nil {
		return "<unparsable form body>"
	}
	for _, field := range i.redact.FormFields {
		if form.Has(field) {
			form.Set(field, redacted)
		}
	}
	return form.Encode()
}

// writeHeaders writes headers sorted by name with cookie values masked.
func writeHeaders(out *strings.Builder, headers http.Header) {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, value := range headers[name] {
			switch name {
			case "Cookie":
				value = maskCookiePairs(value, false)
			case "Set-Cookie":
				value = maskCookiePairs(value, true)
			}
			fmt.Fprintf(out, "%s: %s\n", name, value)
		}
	}
}

// maskCookiePairs masks `name=value` pairs separated by ';', with `onlyFirst` the remaining
// pairs are Set-Cookie attributes and are kept.
func maskCookiePairs(header string, onlyFirst bool) string {
	parts := strings.Split(header, ";")
	for idx, part := range parts {
		if onlyFirst && idx > 0 {
			break
		}
		name, _, found := strings.Cut(part, "=")
		if found {
			parts[idx] = name + "=" + redacted
		}
	}
	return strings.Join(parts, ";")
}
