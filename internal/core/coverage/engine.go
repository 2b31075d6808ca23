// Package coverage 依現有食材（pantry）為食譜排序，並建議能解鎖最多食譜的食材
package coverage

import (
	"context"
	"math"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"recipe-matcher/internal/core/model"
	"recipe-matcher/internal/core/store"
	"recipe-matcher/internal/pkg/common"
	"recipe-matcher/internal/pkg/metrics"
)

// RecipeCoverage 單一食譜的覆蓋情況
type RecipeCoverage struct {
	RecipeID             string   `json:"recipe_id"`
	Title                string   `json:"title"`
	RequiredCount        int      `json:"required_count"`
	MatchedCount         int      `json:"matched_count"`
	Coverage             float64  `json:"coverage"`
	MissingIngredientIDs []string `json:"missing_ingredient_ids"`
}

// Unlock 缺一即可完成的食譜所缺的食材
type Unlock struct {
	IngredientID string   `json:"ingredient_id"`
	Name         string   `json:"name"`
	UnlockCount  int      `json:"unlock_count"`
	RecipeIDs    []string `json:"recipe_ids"`
}

// Engine 覆蓋率引擎，只讀
type Engine struct {
	store    store.Store
	maxLimit int
}

// NewEngine 創建覆蓋率引擎；maxLimit <= 0 表示不限制
func NewEngine(s store.Store, maxLimit int) *Engine {
	return &Engine{store: s, maxLimit: maxLimit}
}

// RecipesByCoverage 依覆蓋率遞減、符合數遞減、食譜 ID 遞增排序
func (e *Engine) RecipesByCoverage(ctx context.Context, pantry []string, minCoverage float64, limit int) ([]RecipeCoverage, error) {
	start := time.Now()
	defer func() { metrics.CoverageDuration.WithLabelValues("recipes").Observe(metrics.Since(start)) }()

	owned, err := pantrySet(pantry)
	if err != nil {
		return nil, err
	}
	if math.IsNaN(minCoverage) || minCoverage < 0 || minCoverage > 1 {
		return nil, common.NewInvalidInputError("min_coverage must be within [0, 1]").
			With("min_coverage", strconv.FormatFloat(minCoverage, 'f', -1, 64))
	}
	limit, err = e.checkLimit(limit)
	if err != nil {
		return nil, err
	}
	if limit == 0 {
		return []RecipeCoverage{}, nil
	}

	snap, err := e.store.CoverageSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := ComputeCoverage(snap, owned, minCoverage)
	if len(out) > limit {
		out = out[:limit]
	}
	common.LogDebug("覆蓋率計算完成",
		zap.Int("pantry", len(owned)),
		zap.Int("食譜總數", len(snap.Recipes)),
		zap.Int("結果", len(out)),
	)
	return out, nil
}

// SuggestUnlocks 依解鎖數遞減、名稱遞增排序；pantry 內的食材不會出現
func (e *Engine) SuggestUnlocks(ctx context.Context, pantry []string, limit int) ([]Unlock, error) {
	start := time.Now()
	defer func() { metrics.CoverageDuration.WithLabelValues("unlocks").Observe(metrics.Since(start)) }()

	owned, err := pantrySet(pantry)
	if err != nil {
		return nil, err
	}
	limit, err = e.checkLimit(limit)
	if err != nil {
		return nil, err
	}
	if limit == 0 {
		return []Unlock{}, nil
	}

	snap, err := e.store.CoverageSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := ComputeUnlocks(snap, owned)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (e *Engine) checkLimit(limit int) (int, error) {
	if limit < 0 {
		return 0, common.NewInvalidInputError("limit must not be negative").With("limit", strconv.Itoa(limit))
	}
	if e.maxLimit > 0 && limit > e.maxLimit {
		limit = e.maxLimit
	}
	return limit, nil
}

func pantrySet(pantry []string) (map[string]struct{}, error) {
	ids, err := common.ValidateIDs("pantry_ids", pantry)
	if err != nil {
		return nil, err
	}
	owned := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		owned[id] = struct{}{}
	}
	return owned, nil
}

// ComputeCoverage 純函式：計算並排序所有覆蓋率 >= minCoverage 的食譜。
// 沒有任何食材行的食譜視為無效，不列入。
func ComputeCoverage(snap *model.CoverageSnapshot, owned map[string]struct{}, minCoverage float64) []RecipeCoverage {
	out := make([]RecipeCoverage, 0)
	for _, r := range snap.Recipes {
		required := distinct(r.IngredientIDs)
		if len(required) == 0 {
			continue
		}
		missing := make([]string, 0)
		for _, id := range required {
			if _, ok := owned[id]; !ok {
				missing = append(missing, id)
			}
		}
		matched := len(required) - len(missing)
		cov := float64(matched) / float64(len(required))
		if cov < minCoverage {
			continue
		}
		sort.Strings(missing)
		out = append(out, RecipeCoverage{
			RecipeID:             r.RecipeID,
			Title:                r.Title,
			RequiredCount:        len(required),
			MatchedCount:         matched,
			Coverage:             cov,
			MissingIngredientIDs: missing,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Coverage != out[j].Coverage {
			return out[i].Coverage > out[j].Coverage
		}
		if out[i].MatchedCount != out[j].MatchedCount {
			return out[i].MatchedCount > out[j].MatchedCount
		}
		return out[i].RecipeID < out[j].RecipeID
	})
	return out
}

// ComputeUnlocks 純函式：彙總只缺一樣食材的食譜
func ComputeUnlocks(snap *model.CoverageSnapshot, owned map[string]struct{}) []Unlock {
	byID := make(map[string]*Unlock)
	for _, r := range snap.Recipes {
		var missing []string
		for _, id := range distinct(r.IngredientIDs) {
			if _, ok := owned[id]; !ok {
				missing = append(missing, id)
				if len(missing) > 1 {
					break
				}
			}
		}
		if len(missing) != 1 {
			continue
		}
		id := missing[0]
		u, ok := byID[id]
		if !ok {
			u = &Unlock{IngredientID: id, Name: snap.Names[id]}
			byID[id] = u
		}
		u.UnlockCount++
		u.RecipeIDs = append(u.RecipeIDs, r.RecipeID)
	}

	out := make([]Unlock, 0, len(byID))
	for _, u := range byID {
		sort.Strings(u.RecipeIDs)
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UnlockCount != out[j].UnlockCount {
			return out[i].UnlockCount > out[j].UnlockCount
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].IngredientID < out[j].IngredientID
	})
	return out
}

func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
