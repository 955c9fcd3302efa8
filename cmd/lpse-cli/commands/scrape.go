package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"lpse-scraper/internal/components/chrono"
	"lpse-scraper/internal/components/telemetry"
	"lpse-scraper/internal/scrapers/lpse"
	"lpse-scraper/pkg/restyutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	scrapeYear    *int
	scrapeBaseUrl *string
	scrapeJson    *bool
	scrapeDump    *string
	scrapeTimeout *time.Duration
)

func init() {
	scrapeYear = scrapeCmd.Flags().Int("year", 0, "The budget year to scrape, defaults to the current year in Asia/Jakarta.")
	scrapeBaseUrl = scrapeCmd.Flags().String("base-url", lpse.DefaultBaseUrl, "The root of the SPSE instance.")
	scrapeJson = scrapeCmd.Flags().Bool("json", false, "Print the raw payload as json instead of a table.")
	scrapeDump = scrapeCmd.Flags().String("dump", "", "A directory to dump every http exchange into.")
	scrapeTimeout = scrapeCmd.Flags().Duration("timeout", 30*time.Second, "The timeout of each upstream request.")
	rootCmd.AddCommand(scrapeCmd)
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape [--year <year>] [--base-url <url>] [--json]",
	Short: "Fetches the first page of tenders for a year and prints it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		clock, err := chrono.NewStandardTime()
		if err != nil {
			return err
		}
		year, err := resolveYear(*scrapeYear, clock.Now())
		if err != nil {
			return err
		}

		opts := lpse.Options{
			BaseUrl: *scrapeBaseUrl,
			Timeout: *scrapeTimeout,
		}
		if *scrapeDump != "" {
			output, err := restyutil.NewFilesystemOutput(*scrapeDump)
			if err != nil {
				return err
			}
			opts.MessageOutput = output
		}

		fetcher, err := lpse.NewFetcher(opts, telemetry.SlogAPI{})
		if err != nil {
			return err
		}
		payload, err := fetcher.Fetch(cmd.Context(), year)
		if err != nil {
			return err
		}

		if *scrapeJson {
			return writePayloadJson(os.Stdout, payload)
		}
		renderPayload(os.Stdout, year, payload)
		return nil
	},
}

// resolveYear treats an unset --year as the current year.
func resolveYear(flag int, now time.Time) (int, error) {
	if flag == 0 {
		return now.Year(), nil
	}
	err := lpse.ValidateYear(flag, now)
	if err != nil {
		return 0, fmt.Errorf("--year: %w", err)
	}
	return flag, nil
}

func writePayloadJson(w io.Writer, payload lpse.TenderPayload) error {
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}

func renderPayload(w io.Writer, year int, payload lpse.TenderPayload) {
	summary := table.NewWriter()
	summary.SetOutputMirror(w)
	summary.AppendHeader(table.Row{"Year", "Records Total", "Records Filtered", "Rows"})
	summary.AppendRow(table.Row{year, payload.RecordsTotal, payload.RecordsFiltered, len(payload.Data)})
	summary.SetStyle(table.StyleRounded)
	summary.Render()

	if len(payload.Data) == 0 {
		return
	}

	rows := table.NewWriter()
	rows.SetOutputMirror(w)
	rows.AppendHeader(table.Row{"#", "Row"})
	for i, raw := range payload.Data {
		row := table.Row{i + 1}
		row = append(row, rowCells(raw)...)
		rows.AppendRow(row)
	}
	rows.SetStyle(table.StyleRounded)
	rows.Render()
}

// rowCells spreads an array row over multiple cells, anything else is shown
// as compact json in a single cell.
func rowCells(raw json.RawMessage) table.Row {
	var cells []json.RawMessage
	if err := json.Unmarshal(raw, &cells); err != nil {
		return table.Row{compact(raw)}
	}

	out := make(table.Row, len(cells))
	for i, cell := range cells {
		var text string
		if err := json.Unmarshal(cell, &text); err == nil {
			out[i] = text
			continue
		}
		out[i] = compact(cell)
	}
	return out
}

func compact(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return fmt.Sprintf("%q", string(raw))
	}
	return buf.String()
}
