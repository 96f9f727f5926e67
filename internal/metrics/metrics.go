package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	intentsAccepted prometheus.Counter
	intentsRejected *prometheus.CounterVec

	batchesFlushed     prometheus.Counter
	batchesQuarantined *prometheus.CounterVec
	batchEntries       prometheus.Histogram
	anonymitySetSize   prometheus.Histogram

	settlementDuration prometheus.Histogram
	submissionRetries  prometheus.Counter
)

// Init registers all engine instruments under the given namespace.
func Init(namespace string) {
	intentsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "intents_accepted_total",
		Help:      "Intents that passed validation and entered the pending pool",
	})

	intentsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "intents_rejected_total",
		Help:      "Intents rejected by the validator",
	}, []string{"reason"})

	batchesFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_flushed_total",
		Help:      "Batches flushed by the scheduler",
	})

	batchesQuarantined = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_quarantined_total",
		Help:      "Batches quarantined after an on-chain rejection",
	}, []string{"guard"})

	batchEntries = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "batch_entries",
		Help:      "Entries (real + ghost) per flushed batch",
		Buckets:   prometheus.ExponentialBuckets(8, 2, 8),
	})

	anonymitySetSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "anonymity_set_size",
		Help:      "Effective anonymity-set size per batch",
		Buckets:   prometheus.ExponentialBuckets(10, 2, 7),
	})

	settlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "settlement_duration_seconds",
		Help:      "Time from flush to settlement confirmation",
		Buckets:   prometheus.DefBuckets,
	})

	submissionRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submission_retries_total",
		Help:      "Settlement submissions retried after a transient failure",
	})
}

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

func IntentAccepted() {
	if intentsAccepted != nil {
		intentsAccepted.Inc()
	}
}

func IntentRejected(reason string) {
	if intentsRejected != nil {
		intentsRejected.WithLabelValues(reason).Inc()
	}
}

func BatchFlushed(entries, anonymitySet int) {
	if batchesFlushed != nil {
		batchesFlushed.Inc()
		batchEntries.Observe(float64(entries))
		anonymitySetSize.Observe(float64(anonymitySet))
	}
}

func BatchQuarantined(guard string) {
	if batchesQuarantined != nil {
		batchesQuarantined.WithLabelValues(guard).Inc()
	}
}

func SettlementObserved(d time.Duration) {
	if settlementDuration != nil {
		settlementDuration.Observe(d.Seconds())
	}
}

func SubmissionRetried() {
	if submissionRetries != nil {
		submissionRetries.Inc()
	}
}
