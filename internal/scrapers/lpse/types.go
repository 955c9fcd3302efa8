package lpse

import "encoding/json"

// TenderPayload is the first page of the tender table for a budget year, as returned by the
// data endpoint. Rows are kept verbatim, their shape is defined entirely by the upstream.
type TenderPayload struct {
	RecordsTotal    int               `json:"recordsTotal"`
	RecordsFiltered int               `json:"recordsFiltered"`
	Data            []json.RawMessage `json:"data"`
}

// dataResponse uses pointers so that missing fields can be told apart from zero values.
type dataResponse struct {
	RecordsTotal    *int               `json:"recordsTotal"`
	RecordsFiltered *int               `json:"recordsFiltered"`
	Data            *[]json.RawMessage `json:"data"`
}
