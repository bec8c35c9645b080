package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	TGIncomingUpdates  *prometheus.CounterVec
	TGOutgoingMessages *prometheus.CounterVec
	LunchRequests      *prometheus.CounterVec
	LunchLatency       *prometheus.HistogramVec
	LLMRequests        *prometheus.CounterVec
	LLMLatency         *prometheus.HistogramVec
	PollingPasses      *prometheus.CounterVec
	TransactionsSent   prometheus.Counter
	IDReconciliations  prometheus.Counter
	Errors             *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			TGIncomingUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tg_incoming_updates_total",
				Help:      "Total incoming Telegram updates processed.",
			}, []string{"type"}),
			TGOutgoingMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tg_outgoing_messages_total",
				Help:      "Total outgoing Telegram messages by method.",
			}, []string{"method"}),
			LunchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lunch_requests_total",
				Help:      "Total Lunch Money API requests by endpoint and status.",
			}, []string{"endpoint", "status"}),
			LunchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "lunch_request_duration_seconds",
				Help:      "Latency distribution for Lunch Money API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"endpoint", "status"}),
			LLMRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_requests_total",
				Help:      "Total LLM API requests by outcome.",
			}, []string{"status"}),
			LLMLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "llm_request_duration_seconds",
				Help:      "Latency distribution for LLM API calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"status"}),
			PollingPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "polling_passes_total",
				Help:      "Total per-chat polling passes by outcome.",
			}, []string{"outcome"}),
			TransactionsSent: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_sent_total",
				Help:      "Total new transaction messages sent to chats.",
			}),
			IDReconciliations: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "id_reconciliations_total",
				Help:      "Total pending-to-posted identifier reconciliations applied.",
			}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.TGIncomingUpdates,
			metricsInstance.TGOutgoingMessages,
			metricsInstance.LunchRequests,
			metricsInstance.LunchLatency,
			metricsInstance.LLMRequests,
			metricsInstance.LLMLatency,
			metricsInstance.PollingPasses,
			metricsInstance.TransactionsSent,
			metricsInstance.IDReconciliations,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
