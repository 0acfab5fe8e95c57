package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// promauto
var (
	OperationCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dubbo_registry_operation_total",
			Help: "The total number of registry operations by kind and result",
		},
		[]string{"operation", "result"},
	)

	PendingTaskGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dubbo_registry_failback_pending_tasks",
			Help: "The number of failed operations waiting to be retried",
		},
		[]string{"operation"},
	)

	RetryCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dubbo_registry_failback_retry_total",
			Help: "The total number of retries by kind and result",
		},
		[]string{"operation", "result"},
	)

	SubscriptionGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dubbo_registry_subscriptions",
		Help: "The number of active subscriptions",
	})

	NotifyCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dubbo_registry_notify_total",
			Help: "The total number of batches delivered to listeners",
		},
		[]string{"category"},
	)

	NotifyPanicCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dubbo_registry_notify_panic_total",
		Help: "The total number of listener panics which have been recovered",
	})

	NotifyLatencyHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dubbo_registry_notify_seconds",
		Help:    "The latency of listeners handling a batch",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
	})

	ConnectorEventCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dubbo_registry_connector_event_total",
			Help: "The total number of events received from the connector",
		},
		[]string{"event"},
	)

	CachedURLGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dubbo_registry_cached_urls",
			Help: "The size of the local cache by category",
		},
		[]string{"category"},
	)
)

// Result labels.
const (
	ResultSuccess  = "success"
	ResultFailure  = "failure"
	ResultDeferred = "deferred"
)
