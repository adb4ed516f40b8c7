package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "eventsink"

// Invocation outcomes
const (
	OutcomeSuccess = "success"
	OutcomeEmpty   = "empty"
	OutcomeError   = "error"
)

// Metrics are the counters we maintain across invocations of a process
type Metrics struct {
	invocations     *prometheus.CounterVec
	eventsProcessed prometheus.Counter
	eventsDuplicate prometheus.Counter
	eventsInvalid   prometheus.Counter
	filesWritten    prometheus.Counter
	filesExisting   prometheus.Counter
	ledgerMarkFails prometheus.Counter
	duration        prometheus.Histogram
}

// New creates and registers our metrics with the passed in registerer
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		invocations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "invocations_total", Help: "Number of invocations by outcome.",
		}, []string{"outcome"}),
		eventsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_processed_total", Help: "Number of events received in batches.",
		}),
		eventsDuplicate: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_duplicate_total", Help: "Number of received events already in the dedup ledger.",
		}),
		eventsInvalid: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_invalid_total", Help: "Number of received events which couldn't be normalized.",
		}),
		filesWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "files_written_total", Help: "Number of files written to the sink.",
		}),
		filesExisting: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "files_existing_total", Help: "Number of files skipped because they already existed.",
		}),
		ledgerMarkFails: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ledger_mark_failures_total", Help: "Number of failed attempts to mark exported events.",
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "invocation_duration_seconds", Help: "Duration of invocations.", Buckets: prometheus.DefBuckets,
		}),
	}
}

// Invocation is what we record about a single invocation
type Invocation struct {
	Outcome    string
	Processed  int
	Duplicates int
	Invalid    int
	Written    int
	Existing   int
	MarkFailed bool
	Elapsed    time.Duration
}

// Record records the passed in invocation, a nil receiver does nothing
func (m *Metrics) Record(i *Invocation) {
	if m == nil {
		return
	}

	m.invocations.WithLabelValues(i.Outcome).Inc()
	m.eventsProcessed.Add(float64(i.Processed))
	m.eventsDuplicate.Add(float64(i.Duplicates))
	m.eventsInvalid.Add(float64(i.Invalid))
	m.filesWritten.Add(float64(i.Written))
	m.filesExisting.Add(float64(i.Existing))
	if i.MarkFailed {
		m.ledgerMarkFails.Inc()
	}
	m.duration.Observe(i.Elapsed.Seconds())
}
