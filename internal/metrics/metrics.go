// Package metrics is the crawl core's instrumentation boundary.
//
// The core depends only on Backend; a concrete backend (Datadog, or the nop
// default) is installed once at startup via SetBackend. Counter and histogram
// calls are safe from any goroutine and are no-ops until a backend is set.
package metrics

import "sync/atomic"

// Labels tag one observation, e.g. {"source": "medicalexpo", "result": "inserted"}.
type Labels map[string]string

// Backend receives observations. Implementations buffer internally; Flush
// submits and Close performs a final flush.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
	Close() error
}

// Metric names emitted by the crawl core.
const (
	MetricPagesTotal   = "crawl_pages_total"   // labels: source, status (ok|blocked|failed)
	MetricRecordsTotal = "crawl_records_total" // labels: source, result (inserted|updated|unchanged|rejected)
	MetricRetriesTotal = "crawl_retries_total" // labels: source, op
	MetricPageSeconds  = "crawl_page_seconds"  // labels: source, kind (listing|detail)
	MetricRecordFields = "crawl_record_fields" // labels: source
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }
func (nopBackend) Close() error                             { return nil }

var current atomic.Value

func init() {
	current.Store(Backend(nopBackend{}))
}

// SetBackend installs the process-wide backend. Call once at startup, before
// the crawl begins.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	current.Store(b)
}

func backend() Backend {
	return current.Load().(Backend)
}

// IncCounter adds delta to a named counter.
func IncCounter(name string, delta float64, labels Labels) {
	backend().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample of a named distribution.
func ObserveHistogram(name string, value float64, labels Labels) {
	backend().ObserveHistogram(name, value, labels)
}

// Flush submits buffered observations.
func Flush() error {
	return backend().Flush()
}

// Close flushes and releases the backend.
func Close() error {
	return backend().Close()
}
