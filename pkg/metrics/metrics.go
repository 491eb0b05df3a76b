package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// FanoutWrites 每个分区写意图的结果，按操作与结果分类
	FanoutWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "localsync",
			Name:      "fanout_writes_total",
			Help:      "Per-partition fan-out write intents by operation and result.",
		},
		[]string{"op", "result"},
	)

	ReconcileAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "localsync",
			Name:      "reconcile_attempts_total",
			Help:      "Reconciler retries of failed fan-out intents by result.",
		},
		[]string{"result"},
	)

	// ReconcileLatency 失败写入从入队到补写落地（或确认已存在）的耗时
	ReconcileLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "localsync",
		Name:      "reconcile_latency_seconds",
		Help:      "Time from enqueue to a reconciled fan-out intent.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	PollTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "localsync",
			Name:      "poll_ticks_total",
			Help:      "Subscription poll ticks by scope and result.",
		},
		[]string{"scope", "result"},
	)

	ActiveSubscriptions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "localsync",
			Name:      "active_subscription_keys",
			Help:      "Keys with at least one registered callback.",
		},
		[]string{"scope"},
	)

	AlertsIssued = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "localsync",
		Name:      "notification_alerts_total",
		Help:      "Local alerts issued by the notification listener.",
	})

	SeenSetSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "localsync",
		Name:      "notification_seen_set_size",
		Help:      "Notification ids already surfaced as alerts.",
	})

	RetentionPurged = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "localsync",
		Name:      "retention_purged_total",
		Help:      "Notifications removed by retention runs.",
	})
)

func init() {
	prometheus.MustRegister(
		FanoutWrites,
		ReconcileAttempts,
		ReconcileLatency,
		PollTicks,
		ActiveSubscriptions,
		AlertsIssued,
		SeenSetSize,
		RetentionPurged,
	)
}
