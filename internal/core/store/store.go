// Package store 實體存儲介面與記憶體實作
package store

import (
	"context"

	"recipe-matcher/internal/core/model"
	"recipe-matcher/internal/core/taxonomy"
)

// MutateFunc 在目前的階層快照上規劃變更；回傳錯誤時不會寫入任何東西
type MutateFunc func(g *taxonomy.Graph) (*taxonomy.ChangeSet, error)

// Store 實體存儲。
// 名稱比對一律使用 model.NormalizeName 的結果；找不到時回傳 NotFound 領域錯誤，
// 唯一性衝突回傳 Conflict 領域錯誤。
type Store interface {
	GetIngredient(ctx context.Context, id string) (*model.Ingredient, error)
	// GetIngredients 回傳存在的食材，忽略不存在的 ID
	GetIngredients(ctx context.Context, ids []string) ([]model.Ingredient, error)
	FindIngredientByName(ctx context.Context, name string) (*model.Ingredient, error)
	FindAliasByName(ctx context.Context, name string) (*model.Alias, error)
	ListAliases(ctx context.Context, ingredientID string) ([]model.Alias, error)

	// CreateIngredient 新增深度 0、無父節點的食材；名稱已是食材或別名時回傳 Conflict
	CreateIngredient(ctx context.Context, ing *model.Ingredient) error
	// CreateAlias 新增別名；所屬食材不存在時回傳 NotFound，名稱已被佔用時回傳 Conflict
	CreateAlias(ctx context.Context, alias *model.Alias) error

	EnsureFoodGroup(ctx context.Context, name string) (*model.FoodGroup, error)
	SetFoodGroup(ctx context.Context, ingredientID string, foodGroupID *string) error

	// LoadTaxonomy 回傳階層圖的一份複本
	LoadTaxonomy(ctx context.Context) (*taxonomy.Graph, error)
	// MutateTaxonomy 在單一寫入臨界區內載入圖、規劃並原子地套用變更
	MutateTaxonomy(ctx context.Context, fn MutateFunc) (*taxonomy.ChangeSet, error)

	SetEmbedding(ctx context.Context, target model.EmbeddingTarget, vec model.Vector) error
	// NearestNeighbors 在食材與別名向量的聯集上依餘弦距離排序，不做去重
	NearestNeighbors(ctx context.Context, query model.Vector, limit int) ([]model.Candidate, error)
	ListUnembedded(ctx context.Context, limit int) ([]model.EmbeddingTarget, error)

	// CreateRecipe 同一食材的多行合併為一行；引用不存在的食材時回傳 NotFound
	CreateRecipe(ctx context.Context, recipe *model.Recipe) error
	GetRecipe(ctx context.Context, id string) (*model.Recipe, error)
	DeleteRecipe(ctx context.Context, id string) error

	// CoverageSnapshot 在單一一致快照下讀出所有食譜需求
	CoverageSnapshot(ctx context.Context) (*model.CoverageSnapshot, error)

	Ping(ctx context.Context) error
	Close() error
}

// DedupeLines 合併同一食材的多行，保留第一次出現的數量與單位
func DedupeLines(lines []model.RecipeIngredient) []model.RecipeIngredient {
	seen := make(map[string]struct{}, len(lines))
	out := make([]model.RecipeIngredient, 0, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.IngredientID]; ok {
			continue
		}
		seen[l.IngredientID] = struct{}{}
		out = append(out, l)
	}
	return out
}
