// Package vector 食材與別名向量的近鄰搜尋
package vector

import (
	"context"
	"math"
	"strconv"

	"go.uber.org/zap"

	"recipe-matcher/internal/core/model"
	"recipe-matcher/internal/core/store"
	"recipe-matcher/internal/pkg/common"
	"recipe-matcher/internal/pkg/metrics"
)

// DefaultOverfetch 去重前的候選池倍數
const DefaultOverfetch = 10

// Index 向量索引
type Index struct {
	store     store.Store
	overfetch int
	maxK      int
}

// NewIndex 創建向量索引；maxK <= 0 表示不限制
func NewIndex(s store.Store, overfetch, maxK int) *Index {
	if overfetch < 1 {
		overfetch = DefaultOverfetch
	}
	return &Index{store: s, overfetch: overfetch, maxK: maxK}
}

// Search 回傳最多 k 個候選，每個食材只出現一次，依距離遞增排序
func (x *Index) Search(ctx context.Context, query []float32, k int) ([]model.Candidate, error) {
	if k <= 0 {
		return nil, common.NewInvalidInputError("k must be positive").With("k", strconv.Itoa(k))
	}
	if len(query) == 0 {
		return nil, common.NewInvalidInputError("query vector is empty")
	}
	for _, f := range query {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return nil, common.NewInvalidInputError("query vector contains non-finite values")
		}
	}
	if x.maxK > 0 && k > x.maxK {
		k = x.maxK
	}

	pool, err := x.store.NearestNeighbors(ctx, model.Vector(query), k*x.overfetch)
	if err != nil {
		return nil, err
	}
	out := Dedupe(pool, k)
	metrics.SearchCandidates.Observe(float64(len(out)))
	common.LogDebug("向量搜尋完成",
		zap.Int("k", k),
		zap.Int("候選池", len(pool)),
		zap.Int("結果", len(out)),
	)
	return out, nil
}

// Dedupe 依所屬食材合併候選，只保留距離最小者；同距離時名稱較前者優先，
// 再以食材 ID 決定。輸入不必預先排序。
func Dedupe(candidates []model.Candidate, k int) []model.Candidate {
	sorted := append([]model.Candidate(nil), candidates...)
	store.SortCandidates(sorted)

	seen := make(map[string]struct{}, len(sorted))
	out := make([]model.Candidate, 0, min(k, len(sorted)))
	for _, c := range sorted {
		if len(out) >= k {
			break
		}
		if _, dup := seen[c.IngredientID]; dup {
			continue
		}
		seen[c.IngredientID] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Confidence 由距離換算的信心分數 max(0, 1 - d)
func Confidence(distance float64) float64 {
	return math.Max(0, 1-distance)
}
