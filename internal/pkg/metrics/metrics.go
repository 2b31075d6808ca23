// Package metrics Prometheus 指標
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"recipe-matcher/internal/pkg/common"
)

const namespace = "recipe_matcher"

var (
	// HierarchyOps 階層變更次數
	// Labels: op (add_edge, remove_edge, delete, repair), result (ok 或錯誤種類)
	HierarchyOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hierarchy",
		Name:      "operations_total",
		Help:      "Hierarchy mutations by operation and result",
	}, []string{"op", "result"})

	// DepthUpdates 每次變更寫入的深度數量
	DepthUpdates = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "hierarchy",
		Name:      "depth_updates",
		Help:      "Number of depth rows rewritten per hierarchy mutation",
		Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100, 500},
	})

	// Resolutions 正規化結果
	// Labels: mode (lookup, map, create), outcome (exact_ingredient, exact_alias, vector, mapped, created, error)
	Resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "canonical",
		Name:      "resolutions_total",
		Help:      "Ingredient resolutions by mode and outcome",
	}, []string{"mode", "outcome"})

	// EmbeddingLatency 嵌入請求延遲
	// Labels: task (RETRIEVAL_QUERY, RETRIEVAL_DOCUMENT), status (ok, error)
	EmbeddingLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "embedding",
		Name:      "latency_seconds",
		Help:      "Embedding request latency in seconds",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"task", "status"})

	// EmbeddingCache 嵌入快取命中
	// Labels: result (hit, miss, error)
	EmbeddingCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "embedding",
		Name:      "cache_total",
		Help:      "Embedding cache lookups by result",
	}, []string{"result"})

	// SearchCandidates 去重後回傳的候選數
	SearchCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "vector",
		Name:      "candidates",
		Help:      "Candidates returned per search after deduplication",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
	})

	// CoverageDuration 覆蓋率計算耗時
	// Labels: op (recipes, unlocks)
	CoverageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "coverage",
		Name:      "duration_seconds",
		Help:      "Coverage computation latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	// HTTPRequests API 請求
	// Labels: method, route, status
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	// HTTPLatency API 延遲
	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "latency_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// Result 把錯誤轉成低基數的標籤值
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := common.KindOf(err); kind != "" {
		return string(kind)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "error"
}

// Since 秒數
func Since(start time.Time) float64 { return time.Since(start).Seconds() }
