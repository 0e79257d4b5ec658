// Package metrics provides Prometheus instrumentation for the sync engine.
// It exposes counters for poll cycles and event decoding, a recovery counter
// labeled by failure code, and histograms for dispatch latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PollCycles counts completed long-poll requests, labeled by outcome:
	// "ok", "failed" (stream failure code present) or "error".
	PollCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_poll_cycles_total",
		Help: "Completed long-poll cycles by outcome",
	}, []string{"outcome"})

	// Recoveries counts executed recovery procedures, labeled by the
	// stream failure code ("1", "2", "3").
	Recoveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_recoveries_total",
		Help: "Stream recovery procedures by failure code",
	}, []string{"code"})

	// BackfillPages counts history pages fetched during backfill.
	BackfillPages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_backfill_pages_total",
		Help: "History pages fetched during backfill",
	})

	// EventsDecoded counts tuples successfully decoded and dispatched.
	EventsDecoded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_events_decoded_total",
		Help: "Successfully decoded stream events",
	})

	// EventsUnknown counts tuples with an unregistered type tag.
	EventsUnknown = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_events_unknown_total",
		Help: "Stream events with an unknown type tag",
	})

	// EventsMalformed counts tuples dropped due to a decode error.
	EventsMalformed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_events_malformed_total",
		Help: "Stream events dropped due to a decode error",
	})

	// HandlerErrors counts reconciliation handler failures.
	HandlerErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_handler_errors_total",
		Help: "Reconciliation handler failures",
	})

	// DispatchLatency records the time spent dispatching one poll batch.
	DispatchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_dispatch_latency_seconds",
		Help:    "Time spent dispatching one update batch",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	// TypingActive tracks the current number of live typing indicators.
	TypingActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sync_typing_active",
		Help: "Current number of live typing indicators",
	})

	// ArchivedMessages counts messages appended to the durable archive.
	ArchivedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sync_archived_messages_total",
		Help: "Messages appended to the durable archive",
	})
)

func init() {
	prometheus.MustRegister(
		PollCycles,
		Recoveries,
		BackfillPages,
		EventsDecoded,
		EventsUnknown,
		EventsMalformed,
		HandlerErrors,
		DispatchLatency,
		TypingActive,
		ArchivedMessages,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
