// Package metrics Prometheus 指标
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/user/kinomerge/internal/syncerr"
)

var (
	// ProviderRequests 外部请求数，按数据源、操作、结果
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kinomerge_provider_requests_total",
		Help: "Total number of requests sent to external metadata sources",
	}, []string{"source", "operation", "outcome"})

	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kinomerge_provider_request_duration_seconds",
		Help:    "External metadata request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"source", "operation"})

	ProviderCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kinomerge_provider_cache_hits_total",
		Help: "Total number of external responses served from cache",
	}, []string{"source"})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kinomerge_provider_breaker_state",
		Help: "Circuit breaker state per source (0 closed, 1 half-open, 2 open)",
	}, []string{"source"})

	// SyncStages 同步阶段执行次数
	SyncStages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kinomerge_sync_stages_total",
		Help: "Total number of sync stage runs",
	}, []string{"source", "stage", "outcome"})

	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kinomerge_sync_stage_duration_seconds",
		Help:    "Sync stage duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"source", "stage"})

	Reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kinomerge_reconcile_total",
		Help: "Reconciliation results by kind and matching step",
	}, []string{"kind", "step"})

	CastRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kinomerge_cast_rows_total",
		Help: "Cast rows handled by the linker",
	}, []string{"source", "result"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kinomerge_queue_waiting_tasks",
		Help: "Number of sync tasks waiting in the queue",
	})

	QueueTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kinomerge_queue_tasks_total",
		Help: "Sync tasks finished by the queue",
	}, []string{"outcome"})
)

// Outcome 把错误归为指标标签
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if code := syncerr.Code(err); code != "" {
		return code
	}
	return "error"
}

// RecordProviderRequest 记录一次外部请求
func RecordProviderRequest(source, operation string, duration time.Duration, err error) {
	ProviderRequests.WithLabelValues(source, operation, Outcome(err)).Inc()
	ProviderLatency.WithLabelValues(source, operation).Observe(duration.Seconds())
}

// RecordSyncStage 记录一次同步阶段
func RecordSyncStage(source, stage string, duration time.Duration, err error) {
	SyncStages.WithLabelValues(source, stage, Outcome(err)).Inc()
	SyncDuration.WithLabelValues(source, stage).Observe(duration.Seconds())
}
