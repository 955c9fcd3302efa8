package telemetry

import (
	"fmt"
)

// API is where components send their logs and counts, tests swap it for a Recorder.
//
// Ids name the component and operation, lowercase and dot separated, like "fetcher.fetch" or
// "scrape.in-flight". A scope prefix is added by ScopedAPI.
//
// note: fault injection point
type API interface {
	// ReportBroken reports a failure someone should look at.
	ReportBroken(id string, params ...any)
	// ReportWarning reports something unexpected that the component recovered from.
	ReportWarning(id string, params ...any)
	ReportDebug(msg string, params ...any)
	// ReportCount reports a gauge-like value, it is not summed.
	ReportCount(id string, count int64)
}

// ScopedAPI prefixes every id with a namespace, scopes nest as "outer: inner: id".
type ScopedAPI struct {
	namespace string
	inner     API
}

func NewScopedAPI(namespace string, inner API) ScopedAPI {
	return ScopedAPI{namespace: namespace, inner: inner}
}

func (s ScopedAPI) scoped(id string) string {
	return fmt.Sprintf("%s: %s", s.namespace, id)
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(s.scoped(id), params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(s.scoped(id), params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(s.scoped(msg), params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(s.scoped(id), count)
}
