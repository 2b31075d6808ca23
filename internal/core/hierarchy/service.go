// Package hierarchy 食材階層的寫入服務。
//
// 所有結構變更都在同一個臨界區內完成「載入 → 驗證規劃 → 套用」，
// 不會有兩個變更交錯；讀取（Lineage）不受此鎖影響。
package hierarchy

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"recipe-matcher/internal/core/store"
	"recipe-matcher/internal/core/taxonomy"
	"recipe-matcher/internal/pkg/common"
	"recipe-matcher/internal/pkg/metrics"
)

// Service 階層服務
type Service struct {
	store   store.Store
	planner *taxonomy.Planner
	mu      sync.Mutex
}

// Lineage 食材在階層中的位置
type Lineage struct {
	IngredientID string   `json:"ingredient_id"`
	Depth        int      `json:"depth"`
	Parents      []string `json:"parents"`
	Children     []string `json:"children"`
	Ancestors    []string `json:"ancestors"`
	Descendants  []string `json:"descendants"`
}

// NewService 創建階層服務
func NewService(s store.Store, maxDepth int) *Service {
	return &Service{
		store:   s,
		planner: taxonomy.NewPlanner(maxDepth),
	}
}

// MaxDepth 目前的深度上限
func (s *Service) MaxDepth() int { return s.planner.MaxDepth }

// AddParentEdge 加入父子關係
func (s *Service) AddParentEdge(ctx context.Context, parentID, childID string) (*taxonomy.ChangeSet, error) {
	return s.mutate(ctx, "add_edge", func(g *taxonomy.Graph) (*taxonomy.ChangeSet, error) {
		return s.planner.PlanAddEdge(g, parentID, childID)
	}, zap.String("parent_id", parentID), zap.String("child_id", childID))
}

// RemoveParentEdge 移除父子關係
func (s *Service) RemoveParentEdge(ctx context.Context, parentID, childID string) (*taxonomy.ChangeSet, error) {
	return s.mutate(ctx, "remove_edge", func(g *taxonomy.Graph) (*taxonomy.ChangeSet, error) {
		return s.planner.PlanRemoveEdge(g, parentID, childID)
	}, zap.String("parent_id", parentID), zap.String("child_id", childID))
}

// DeleteIngredient 刪除食材；別名與相關的邊一併刪除，前子節點的深度重算
func (s *Service) DeleteIngredient(ctx context.Context, id string) (*taxonomy.ChangeSet, error) {
	return s.mutate(ctx, "delete", func(g *taxonomy.Graph) (*taxonomy.ChangeSet, error) {
		return s.planner.PlanDeleteNode(g, id)
	}, zap.String("ingredient_id", id))
}

// Repair 全圖重算深度；資料一致時回傳空的變更
func (s *Service) Repair(ctx context.Context) (*taxonomy.ChangeSet, error) {
	return s.mutate(ctx, "repair", s.planner.PlanRepair)
}

func (s *Service) mutate(ctx context.Context, op string, plan store.MutateFunc, fields ...zap.Field) (*taxonomy.ChangeSet, error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, err := s.store.MutateTaxonomy(ctx, plan)
	metrics.HierarchyOps.WithLabelValues(op, metrics.Result(err)).Inc()
	if err != nil {
		common.LogWarn("階層變更被拒絕", append(fields,
			zap.String("op", op),
			zap.String("kind", string(common.KindOf(err))),
			zap.Error(err),
		)...)
		return nil, err
	}

	metrics.DepthUpdates.Observe(float64(len(cs.Depths)))
	common.LogInfo("階層變更完成", append(fields,
		zap.String("op", op),
		zap.Int("深度更新", len(cs.Depths)),
		zap.Duration("耗時", time.Since(start)),
	)...)
	return cs, nil
}

// Lineage 查詢食材的父、子、祖先與後代
func (s *Service) Lineage(ctx context.Context, id string) (*Lineage, error) {
	g, err := s.store.LoadTaxonomy(ctx)
	if err != nil {
		return nil, err
	}
	depth, ok := g.Depth(id)
	if !ok {
		return nil, common.NewNotFoundError("ingredient", id)
	}
	return &Lineage{
		IngredientID: id,
		Depth:        depth,
		Parents:      g.Parents(id),
		Children:     g.Children(id),
		Ancestors:    g.Ancestors(id),
		Descendants:  g.Descendants(id),
	}, nil
}
