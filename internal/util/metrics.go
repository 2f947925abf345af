package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncCyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_cycles_total",
		Help: "Total number of polling cycles started",
	})

	SyncCyclesSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_cycles_skipped_total",
		Help: "Total number of polling ticks skipped because a cycle was still running",
	})

	SyncCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_cycle_duration_seconds",
		Help:    "Duration of polling cycles",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	SyncItemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_items_total",
		Help: "Total number of products processed by the poller, by outcome",
	}, []string{"outcome"})

	ReconcileOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_outcomes_total",
		Help: "Total reconciliation results, by outcome and source",
	}, []string{"outcome", "source"})

	AntiRollbackSuppressedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "anti_rollback_suppressed_total",
		Help: "Total upstream updates suppressed by the anti-rollback guard",
	})

	WebhooksReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhooks_received_total",
		Help: "Total webhook events received, by topic",
	}, []string{"topic"})

	WebhooksFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhooks_failed_total",
		Help: "Total webhook events that ended unprocessed, by topic",
	}, []string{"topic"})

	RemoteRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remote_requests_total",
		Help: "Total outbound ERP API requests, by result",
	}, []string{"result"})

	RemoteRateLimitHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "remote_rate_limit_hits_total",
		Help: "Total 429 responses observed from the ERP API",
	})

	RemoteRequestLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "remote_request_latency_seconds",
		Help:    "Latency of outbound ERP API requests",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
