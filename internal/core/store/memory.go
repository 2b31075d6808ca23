package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"recipe-matcher/internal/core/model"
	"recipe-matcher/internal/core/taxonomy"
	"recipe-matcher/internal/pkg/common"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore 記憶體存儲，用於測試、dry-run 與未設定資料庫的部署。
// 讀取走 RLock，寫入走 Lock，因此 CoverageSnapshot 天然是一致快照。
type MemoryStore struct {
	mu sync.RWMutex

	ingredients  map[string]*model.Ingredient
	ingredientBy map[string]string // 正規化名稱 -> ID
	aliases      map[string]*model.Alias
	aliasBy      map[string]string
	foodGroups   map[string]*model.FoodGroup
	foodGroupBy  map[string]string
	recipes      map[string]*model.Recipe
	graph        *taxonomy.Graph

	now func() time.Time
}

// NewMemoryStore 創建記憶體存儲
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ingredients:  make(map[string]*model.Ingredient),
		ingredientBy: make(map[string]string),
		aliases:      make(map[string]*model.Alias),
		aliasBy:      make(map[string]string),
		foodGroups:   make(map[string]*model.FoodGroup),
		foodGroupBy:  make(map[string]string),
		recipes:      make(map[string]*model.Recipe),
		graph:        taxonomy.NewGraph(),
		now:          time.Now,
	}
}

func copyIngredient(ing *model.Ingredient) *model.Ingredient {
	out := *ing
	out.Embedding = append(model.Vector(nil), ing.Embedding...)
	out.Aliases = nil
	return &out
}

func copyRecipe(r *model.Recipe) *model.Recipe {
	out := *r
	out.Lines = append([]model.RecipeIngredient(nil), r.Lines...)
	return &out
}

// GetIngredient 依 ID 取得食材
func (s *MemoryStore) GetIngredient(_ context.Context, id string) (*model.Ingredient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ing, ok := s.ingredients[id]
	if !ok {
		return nil, common.NewNotFoundError("ingredient", id)
	}
	return copyIngredient(ing), nil
}

// GetIngredients 批次取得食材
func (s *MemoryStore) GetIngredients(_ context.Context, ids []string) ([]model.Ingredient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Ingredient, 0, len(ids))
	for _, id := range ids {
		if ing, ok := s.ingredients[id]; ok {
			out = append(out, *copyIngredient(ing))
		}
	}
	return out, nil
}

// FindIngredientByName 依正規化名稱查找食材
func (s *MemoryStore) FindIngredientByName(_ context.Context, name string) (*model.Ingredient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.ingredientBy[model.NormalizeName(name)]
	if !ok {
		return nil, common.NewNotFoundError("ingredient", name)
	}
	return copyIngredient(s.ingredients[id]), nil
}

// FindAliasByName 依正規化名稱查找別名
func (s *MemoryStore) FindAliasByName(_ context.Context, name string) (*model.Alias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.aliasBy[model.NormalizeName(name)]
	if !ok {
		return nil, common.NewNotFoundError("alias", name)
	}
	a := *s.aliases[id]
	return &a, nil
}

// ListAliases 列出食材的所有別名
func (s *MemoryStore) ListAliases(_ context.Context, ingredientID string) ([]model.Alias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Alias
	for _, a := range s.aliases {
		if a.IngredientID == ingredientID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NormalizedName < out[j].NormalizedName })
	return out, nil
}

// CreateIngredient 新增食材；檢查與插入在同一把寫鎖內完成
func (s *MemoryStore) CreateIngredient(_ context.Context, ing *model.Ingredient) error {
	norm := model.NormalizeName(ing.Name)
	if norm == "" {
		return common.NewInvalidInputError("ingredient name is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.ingredientBy[norm]; ok {
		return common.NewConflictError("ingredient", ing.Name).With("ingredient_id", existing)
	}
	// 名稱與別名共用同一個命名空間
	if existing, ok := s.aliasBy[norm]; ok {
		return common.NewConflictError("alias", ing.Name).
			With("ingredient_id", s.aliases[existing].IngredientID)
	}
	if ing.FoodGroupID != nil {
		if _, ok := s.foodGroups[*ing.FoodGroupID]; !ok {
			return common.NewNotFoundError("food group", *ing.FoodGroupID)
		}
	}
	if ing.ID == "" {
		ing.ID = common.GenerateUUID()
	}
	ing.Name = strings.TrimSpace(ing.Name)
	ing.NormalizedName = norm
	ing.HierarchyDepth = 0
	ing.CreatedAt = s.now()
	ing.UpdatedAt = ing.CreatedAt

	s.ingredients[ing.ID] = copyIngredient(ing)
	s.ingredientBy[norm] = ing.ID
	s.graph.AddNode(ing.ID, 0)
	return nil
}

// CreateAlias 新增別名
func (s *MemoryStore) CreateAlias(_ context.Context, alias *model.Alias) error {
	norm := model.NormalizeName(alias.Name)
	if norm == "" {
		return common.NewInvalidInputError("alias name is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ingredients[alias.IngredientID]; !ok {
		return common.NewNotFoundError("ingredient", alias.IngredientID)
	}
	if existing, ok := s.aliasBy[norm]; ok {
		return common.NewConflictError("alias", alias.Name).
			With("ingredient_id", s.aliases[existing].IngredientID)
	}
	if existing, ok := s.ingredientBy[norm]; ok {
		return common.NewConflictError("ingredient", alias.Name).With("ingredient_id", existing)
	}
	if alias.ID == "" {
		alias.ID = common.GenerateUUID()
	}
	alias.Name = strings.TrimSpace(alias.Name)
	alias.NormalizedName = norm
	alias.CreatedAt = s.now()

	a := *alias
	a.Embedding = append(model.Vector(nil), alias.Embedding...)
	s.aliases[a.ID] = &a
	s.aliasBy[norm] = a.ID
	return nil
}

// EnsureFoodGroup 取得或建立食物分類
func (s *MemoryStore) EnsureFoodGroup(_ context.Context, name string) (*model.FoodGroup, error) {
	norm := model.NormalizeName(name)
	if norm == "" {
		return nil, common.NewInvalidInputError("food group name is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.foodGroupBy[norm]; ok {
		fg := *s.foodGroups[id]
		return &fg, nil
	}
	fg := &model.FoodGroup{ID: common.GenerateUUID(), Name: strings.TrimSpace(name), NormalizedName: norm}
	s.foodGroups[fg.ID] = fg
	s.foodGroupBy[norm] = fg.ID
	out := *fg
	return &out, nil
}

// SetFoodGroup 重新分類食材，nil 表示清除
func (s *MemoryStore) SetFoodGroup(_ context.Context, ingredientID string, foodGroupID *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ing, ok := s.ingredients[ingredientID]
	if !ok {
		return common.NewNotFoundError("ingredient", ingredientID)
	}
	if foodGroupID != nil {
		if _, ok := s.foodGroups[*foodGroupID]; !ok {
			return common.NewNotFoundError("food group", *foodGroupID)
		}
		id := *foodGroupID
		foodGroupID = &id
	}
	ing.FoodGroupID = foodGroupID
	ing.UpdatedAt = s.now()
	return nil
}

// LoadTaxonomy 回傳階層圖複本
func (s *MemoryStore) LoadTaxonomy(_ context.Context) (*taxonomy.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.Clone(), nil
}

// MutateTaxonomy 在寫鎖內規劃並套用；fn 看到的是內部圖，只能讀
func (s *MemoryStore) MutateTaxonomy(ctx context.Context, fn MutateFunc) (*taxonomy.ChangeSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, err := fn(s.graph)
	if err != nil {
		return nil, err
	}
	if cs.Empty() {
		return cs, nil
	}

	for _, id := range cs.Deleted {
		s.deleteIngredientLocked(id)
	}
	s.graph.Apply(cs)
	now := s.now()
	for _, d := range cs.Depths {
		if ing, ok := s.ingredients[d.IngredientID]; ok {
			ing.HierarchyDepth = d.To
			ing.UpdatedAt = now
		}
	}
	return cs, nil
}

// deleteIngredientLocked 刪除食材並連帶刪除別名與食譜行
func (s *MemoryStore) deleteIngredientLocked(id string) {
	ing, ok := s.ingredients[id]
	if !ok {
		return
	}
	delete(s.ingredientBy, ing.NormalizedName)
	delete(s.ingredients, id)
	for aid, a := range s.aliases {
		if a.IngredientID == id {
			delete(s.aliasBy, a.NormalizedName)
			delete(s.aliases, aid)
		}
	}
	for _, r := range s.recipes {
		lines := r.Lines[:0]
		for _, l := range r.Lines {
			if l.IngredientID != id {
				lines = append(lines, l)
			}
		}
		r.Lines = lines
	}
}

// SetEmbedding 寫入食材或別名的向量
func (s *MemoryStore) SetEmbedding(_ context.Context, target model.EmbeddingTarget, vec model.Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := append(model.Vector(nil), vec...)
	switch target.Source {
	case model.SourceIngredient:
		ing, ok := s.ingredients[target.ID]
		if !ok {
			return common.NewNotFoundError("ingredient", target.ID)
		}
		ing.Embedding = v
		ing.UpdatedAt = s.now()
	case model.SourceAlias:
		a, ok := s.aliases[target.ID]
		if !ok {
			return common.NewNotFoundError("alias", target.ID)
		}
		a.Embedding = v
	default:
		return common.NewInvalidInputError("unknown embedding target source").With("source", string(target.Source))
	}
	return nil
}

// NearestNeighbors 暴力掃描所有向量
func (s *MemoryStore) NearestNeighbors(_ context.Context, query model.Vector, limit int) ([]model.Candidate, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Candidate
	for _, ing := range s.ingredients {
		if d, ok := model.CosineDistance(query, ing.Embedding); ok {
			out = append(out, model.Candidate{IngredientID: ing.ID, Name: ing.Name, Source: model.SourceIngredient, Distance: d})
		}
	}
	for _, a := range s.aliases {
		if d, ok := model.CosineDistance(query, a.Embedding); ok {
			out = append(out, model.Candidate{IngredientID: a.IngredientID, Name: a.Name, Source: model.SourceAlias, Distance: d})
		}
	}
	SortCandidates(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListUnembedded 列出尚未有向量的食材與別名
func (s *MemoryStore) ListUnembedded(_ context.Context, limit int) ([]model.EmbeddingTarget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.EmbeddingTarget
	for _, ing := range s.ingredients {
		if len(ing.Embedding) == 0 {
			out = append(out, model.EmbeddingTarget{ID: ing.ID, Name: ing.Name, Source: model.SourceIngredient})
		}
	}
	for _, a := range s.aliases {
		if len(a.Embedding) == 0 {
			out = append(out, model.EmbeddingTarget{ID: a.ID, Name: a.Name, Source: model.SourceAlias})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source > out[j].Source // ingredient 在前
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateRecipe 新增食譜
func (s *MemoryStore) CreateRecipe(_ context.Context, recipe *model.Recipe) error {
	if strings.TrimSpace(recipe.Title) == "" {
		return common.NewInvalidInputError("recipe title is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lines := DedupeLines(recipe.Lines)
	for _, l := range lines {
		if _, ok := s.ingredients[l.IngredientID]; !ok {
			return common.NewNotFoundError("ingredient", l.IngredientID)
		}
	}
	if recipe.ID == "" {
		recipe.ID = common.GenerateUUID()
	}
	if _, ok := s.recipes[recipe.ID]; ok {
		return common.NewConflictError("recipe", recipe.ID)
	}
	for i := range lines {
		lines[i].RecipeID = recipe.ID
	}
	recipe.Lines = lines
	recipe.CreatedAt = s.now()
	recipe.UpdatedAt = recipe.CreatedAt
	s.recipes[recipe.ID] = copyRecipe(recipe)
	return nil
}

// GetRecipe 取得食譜
func (s *MemoryStore) GetRecipe(_ context.Context, id string) (*model.Recipe, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.recipes[id]
	if !ok {
		return nil, common.NewNotFoundError("recipe", id)
	}
	return copyRecipe(r), nil
}

// DeleteRecipe 刪除食譜
func (s *MemoryStore) DeleteRecipe(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recipes[id]; !ok {
		return common.NewNotFoundError("recipe", id)
	}
	delete(s.recipes, id)
	return nil
}

// CoverageSnapshot 在讀鎖內收集所有食譜需求
func (s *MemoryStore) CoverageSnapshot(_ context.Context) (*model.CoverageSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &model.CoverageSnapshot{
		Recipes: make([]model.RecipeRequirement, 0, len(s.recipes)),
		Names:   make(map[string]string),
	}
	for _, r := range s.recipes {
		req := model.RecipeRequirement{RecipeID: r.ID, Title: r.Title}
		for _, l := range r.Lines {
			req.IngredientIDs = append(req.IngredientIDs, l.IngredientID)
			if ing, ok := s.ingredients[l.IngredientID]; ok {
				snap.Names[ing.ID] = ing.Name
			}
		}
		snap.Recipes = append(snap.Recipes, req)
	}
	sort.Slice(snap.Recipes, func(i, j int) bool { return snap.Recipes[i].RecipeID < snap.Recipes[j].RecipeID })
	return snap, nil
}

// Ping 記憶體存儲永遠可用
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close 無需釋放資源
func (s *MemoryStore) Close() error { return nil }

// SortCandidates 依距離、名稱、食材 ID 排序
func SortCandidates(c []model.Candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].Distance != c[j].Distance {
			return c[i].Distance < c[j].Distance
		}
		if c[i].Name != c[j].Name {
			return c[i].Name < c[j].Name
		}
		return c[i].IngredientID < c[j].IngredientID
	})
}
