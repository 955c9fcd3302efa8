package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"lpse-scraper/internal/components/telemetry"
)

const (
	indexPage = `<h2>LPSE Scraper API</h2><p>Gunakan endpoint <strong>/api/scrape?year=2024</strong> untuk mengambil data.</p>`

	successMessageFormat = "Data untuk tahun %d berhasil diambil."
	failureMessage       = "Gagal melakukan scraping."
	invalidYearMessage   = "Parameter year tidak valid."
)

type scrapeMetadata struct {
	RecordsTotal    int `json:"recordsTotal"`
	RecordsFiltered int `json:"recordsFiltered"`
}

type scrapeResponse struct {
	Success  bool              `json:"success"`
	Message  string            `json:"message"`
	Metadata scrapeMetadata    `json:"metadata"`
	Data     []json.RawMessage `json:"data"`
}

type failureResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (s ScrapeService) HandleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, indexPage)
}

func (s ScrapeService) HandleScrape(w http.ResponseWriter, r *http.Request) {
	id := s.scrapeId()
	tel := telemetry.NewScopedAPI(id, s.tel)
	w.Header().Set("X-Scrape-Id", id)

	year, err := resolveYear(r.URL.Query().Get("year"), s.time.Now())
	if err != nil {
		tel.ReportWarning(report_scrape, err)
		writeJSON(w, tel, http.StatusBadRequest, failureResponse{
			Success: false,
			Message: invalidYearMessage,
			Error:   err.Error(),
		})
		return
	}

	tel.ReportCount(report_scrape_in_flight, s.inFlight.Add(1))
	defer s.inFlight.Add(-1)

	payload, err := s.api.Fetch(r.Context(), year)
	if err != nil {
		tel.ReportBroken(report_scrape, err, year)

		message := err.Error()
		if message == "" {
			message = fmt.Sprintf("%T", err)
		}
		writeJSON(w, tel, http.StatusInternalServerError, failureResponse{
			Success: false,
			Message: failureMessage,
			Error:   message,
		})
		return
	}

	data := payload.Data
	if data == nil {
		data = []json.RawMessage{}
	}
	writeJSON(w, tel, http.StatusOK, scrapeResponse{
		Success: true,
		Message: fmt.Sprintf(successMessageFormat, year),
		Metadata: scrapeMetadata{
			RecordsTotal:    payload.RecordsTotal,
			RecordsFiltered: payload.RecordsFiltered,
		},
		Data: data,
	})
}

func (s ScrapeService) scrapeId() string {
	id, err := s.ids.GenerateId()
	if err != nil || id == "" {
		s.tel.ReportWarning(report_scrape_id, err)
		return "unknown"
	}
	return id
}

// writeJSON encodes without html escaping and without a trailing newline.
func writeJSON(w http.ResponseWriter, tel telemetry.API, status int, body any) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	err := encoder.Encode(body)
	if err != nil {
		tel.ReportBroken(report_scrape, fmt.Errorf("encode response: %w", err))
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
}
