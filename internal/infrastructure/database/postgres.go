// Package database 以 GORM + PostgreSQL（pgvector）實作 store.Store
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"recipe-matcher/internal/core/model"
	"recipe-matcher/internal/core/store"
	"recipe-matcher/internal/core/taxonomy"
	"recipe-matcher/internal/pkg/common"
)

var _ store.Store = (*PostgresStore)(nil)

// taxonomyLockKey 階層寫入的 advisory lock，跨行程序列化
var taxonomyLockKey = advisoryKey64("recipe-matcher:taxonomy")

// Options 資料庫連線設定
type Options struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogLevel        string
	AutoMigrate     bool
	// MaxDepth 寫入資料表的深度上限檢查；0 表示不建立
	MaxDepth int
}

// PostgresStore PostgreSQL 存儲
type PostgresStore struct {
	db       *gorm.DB
	maxDepth int
}

// NewPostgresStore 連線、啟用 pgvector，並視設定自動遷移
func NewPostgresStore(ctx context.Context, opts Options) (*PostgresStore, error) {
	if opts.DSN == "" {
		return nil, errors.New("database dsn is empty")
	}
	common.LogInfo("正在連接 PostgreSQL...")
	db, err := gorm.Open(postgres.Open(opts.DSN), &gorm.Config{
		TranslateError: true,
		Logger:         gormLogger.Default.LogMode(parseGormLevel(opts.LogLevel)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	if err := db.WithContext(ctx).Exec(`CREATE EXTENSION IF NOT EXISTS vector`).Error; err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to enable vector extension: %w", err)
	}
	common.LogInfo("pgvector 擴充已啟用")

	s := &PostgresStore{db: db, maxDepth: opts.MaxDepth}
	if opts.AutoMigrate {
		if err := s.AutoMigrate(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
	}
	return s, nil
}

// AutoMigrate 建立或更新資料表，並補上 GORM 標籤表達不了的約束
func (s *PostgresStore) AutoMigrate(ctx context.Context) error {
	common.LogInfo("正在遷移資料表...")
	db := s.db.WithContext(ctx)
	if err := backfillFoodGroupNames(db); err != nil {
		common.LogError("食物分類名稱回填失敗", zap.Error(err))
		return fmt.Errorf("backfill food groups: %w", err)
	}
	err := db.AutoMigrate(
		&model.FoodGroup{},
		&model.Ingredient{},
		&model.Alias{},
		&model.ParentEdge{},
		&model.Recipe{},
		&model.RecipeIngredient{},
	)
	if err != nil {
		common.LogError("資料表遷移失敗", zap.Error(err))
		return fmt.Errorf("auto migrate: %w", err)
	}
	if s.maxDepth > 0 {
		if err := db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(`ALTER TABLE ingredients DROP CONSTRAINT IF EXISTS ` + depthConstraint).Error; err != nil {
				return err
			}
			return tx.Exec(fmt.Sprintf(`ALTER TABLE ingredients ADD CONSTRAINT %s CHECK (hierarchy_depth <= %d)`,
				depthConstraint, s.maxDepth)).Error
		}); err != nil {
			common.LogError("深度上限約束建立失敗", zap.Error(err), zap.Int("max_depth", s.maxDepth))
			return fmt.Errorf("depth constraint: %w", err)
		}
	}
	return nil
}

// depthConstraint 深度上限取自設定，每次遷移重建
const depthConstraint = "chk_ingredients_depth_max"

// backfillFoodGroupNames 舊版資料表只有原始名稱；先補上正規化欄位，AutoMigrate 才能加 NOT NULL 與唯一索引
func backfillFoodGroupNames(db *gorm.DB) error {
	m := db.Migrator()
	if !m.HasTable(&model.FoodGroup{}) || m.HasColumn(&model.FoodGroup{}, "NormalizedName") {
		return nil
	}
	return db.Transaction(func(tx *gorm.DB) error {
		stmts := []string{
			`ALTER TABLE food_groups ADD COLUMN normalized_name text`,
			`UPDATE food_groups SET normalized_name = lower(regexp_replace(trim(name), '\s+', ' ', 'g'))`,
			`DROP INDEX IF EXISTS uq_food_groups_name`,
		}
		for _, stmt := range stmts {
			if err := tx.Exec(stmt).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// DB 底層連線，測試用
func (s *PostgresStore) DB() *gorm.DB { return s.db }

// GetIngredient 依 ID 取得食材
func (s *PostgresStore) GetIngredient(ctx context.Context, id string) (*model.Ingredient, error) {
	if !common.IsUUID(id) {
		return nil, common.NewNotFoundError("ingredient", id)
	}
	var ing model.Ingredient
	err := s.db.WithContext(ctx).First(&ing, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NewNotFoundError("ingredient", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get ingredient: %w", err)
	}
	return &ing, nil
}

// GetIngredients 批次取得食材；不存在的 ID 直接略過
func (s *PostgresStore) GetIngredients(ctx context.Context, ids []string) ([]model.Ingredient, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if common.IsUUID(id) {
			valid = append(valid, id)
		}
	}
	out := make([]model.Ingredient, 0, len(valid))
	if len(valid) == 0 {
		return out, nil
	}
	if err := s.db.WithContext(ctx).Where("id IN ?", valid).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("get ingredients: %w", err)
	}
	return out, nil
}

// FindIngredientByName 依正規化名稱查找食材
func (s *PostgresStore) FindIngredientByName(ctx context.Context, name string) (*model.Ingredient, error) {
	return findIngredientByName(s.db.WithContext(ctx), name)
}

func findIngredientByName(db *gorm.DB, name string) (*model.Ingredient, error) {
	var ing model.Ingredient
	err := db.Where("normalized_name = ?", model.NormalizeName(name)).First(&ing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NewNotFoundError("ingredient", name)
	}
	if err != nil {
		return nil, fmt.Errorf("find ingredient: %w", err)
	}
	return &ing, nil
}

// FindAliasByName 依正規化名稱查找別名
func (s *PostgresStore) FindAliasByName(ctx context.Context, name string) (*model.Alias, error) {
	return findAliasByName(s.db.WithContext(ctx), name)
}

func findAliasByName(db *gorm.DB, name string) (*model.Alias, error) {
	var a model.Alias
	err := db.Where("normalized_name = ?", model.NormalizeName(name)).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NewNotFoundError("alias", name)
	}
	if err != nil {
		return nil, fmt.Errorf("find alias: %w", err)
	}
	return &a, nil
}

// ListAliases 列出食材的所有別名
func (s *PostgresStore) ListAliases(ctx context.Context, ingredientID string) ([]model.Alias, error) {
	var out []model.Alias
	if !common.IsUUID(ingredientID) {
		return out, nil
	}
	err := s.db.WithContext(ctx).
		Where("ingredient_id = ?", ingredientID).
		Order("normalized_name").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	return out, nil
}

// CreateIngredient 新增食材；唯一索引決定勝負，輸家拿到帶既有 ID 的 Conflict
func (s *PostgresStore) CreateIngredient(ctx context.Context, ing *model.Ingredient) error {
	norm := model.NormalizeName(ing.Name)
	if norm == "" {
		return common.NewInvalidInputError("ingredient name is empty")
	}
	if ing.ID == "" {
		ing.ID = common.GenerateUUID()
	}
	ing.Name = strings.TrimSpace(ing.Name)
	ing.NormalizedName = norm
	ing.HierarchyDepth = 0

	return s.withNameLock(ctx, norm, func(tx *gorm.DB) error {
		existing, err := findAliasByName(tx, norm)
		if err == nil {
			return common.NewConflictError("alias", ing.Name).With("ingredient_id", existing.IngredientID)
		}
		if !errors.Is(err, common.ErrNotFound) {
			return err
		}
		res := tx.Omit(clause.Associations).
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "normalized_name"}}, DoNothing: true}).
			Create(ing)
		if res.Error != nil {
			if errors.Is(res.Error, gorm.ErrForeignKeyViolated) && ing.FoodGroupID != nil {
				return common.NewNotFoundError("food group", *ing.FoodGroupID)
			}
			return fmt.Errorf("create ingredient: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			conflict := common.NewConflictError("ingredient", ing.Name)
			if existing, err := findIngredientByName(tx, norm); err == nil {
				conflict = conflict.With("ingredient_id", existing.ID)
			}
			return conflict
		}
		return nil
	})
}

// CreateAlias 新增別名；名稱不得與任何食材相同
func (s *PostgresStore) CreateAlias(ctx context.Context, alias *model.Alias) error {
	norm := model.NormalizeName(alias.Name)
	if norm == "" {
		return common.NewInvalidInputError("alias name is empty")
	}
	if _, err := s.GetIngredient(ctx, alias.IngredientID); err != nil {
		return err
	}
	if alias.ID == "" {
		alias.ID = common.GenerateUUID()
	}
	alias.Name = strings.TrimSpace(alias.Name)
	alias.NormalizedName = norm

	return s.withNameLock(ctx, norm, func(tx *gorm.DB) error {
		existing, err := findIngredientByName(tx, norm)
		if err == nil {
			return common.NewConflictError("ingredient", alias.Name).With("ingredient_id", existing.ID)
		}
		if !errors.Is(err, common.ErrNotFound) {
			return err
		}
		res := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "normalized_name"}}, DoNothing: true}).
			Create(alias)
		if res.Error != nil {
			if errors.Is(res.Error, gorm.ErrForeignKeyViolated) {
				return common.NewNotFoundError("ingredient", alias.IngredientID)
			}
			return fmt.Errorf("create alias: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			conflict := common.NewConflictError("alias", alias.Name)
			if existing, err := findAliasByName(tx, norm); err == nil {
				conflict = conflict.With("ingredient_id", existing.IngredientID)
			}
			return conflict
		}
		return nil
	})
}

// withNameLock 食材與別名共用命名空間；兩張表的唯一索引各管各的，
// 跨表檢查與插入需要同一把以名稱為鍵的 advisory lock
func (s *PostgresStore) withNameLock(ctx context.Context, norm string, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", advisoryKey64("recipe-matcher:name:"+norm)).Error; err != nil {
			return fmt.Errorf("acquire name lock: %w", err)
		}
		return fn(tx)
	})
}

// EnsureFoodGroup 取得或建立食物分類；以正規化名稱去重
func (s *PostgresStore) EnsureFoodGroup(ctx context.Context, name string) (*model.FoodGroup, error) {
	norm := model.NormalizeName(name)
	if norm == "" {
		return nil, common.NewInvalidInputError("food group name is empty")
	}
	db := s.db.WithContext(ctx)
	created := &model.FoodGroup{ID: common.GenerateUUID(), Name: strings.TrimSpace(name), NormalizedName: norm}
	err := db.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "normalized_name"}}, DoNothing: true}).
		Create(created).Error
	if err != nil {
		return nil, fmt.Errorf("create food group: %w", err)
	}
	var fg model.FoodGroup
	if err := db.Where("normalized_name = ?", norm).First(&fg).Error; err != nil {
		return nil, fmt.Errorf("find food group: %w", err)
	}
	return &fg, nil
}

// SetFoodGroup 重新分類食材，nil 表示清除
func (s *PostgresStore) SetFoodGroup(ctx context.Context, ingredientID string, foodGroupID *string) error {
	if !common.IsUUID(ingredientID) {
		return common.NewNotFoundError("ingredient", ingredientID)
	}
	res := s.db.WithContext(ctx).Model(&model.Ingredient{}).
		Where("id = ?", ingredientID).
		Updates(map[string]any{"food_group_id": foodGroupID, "updated_at": time.Now()})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrForeignKeyViolated) && foodGroupID != nil {
			return common.NewNotFoundError("food group", *foodGroupID)
		}
		return fmt.Errorf("set food group: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return common.NewNotFoundError("ingredient", ingredientID)
	}
	return nil
}

// LoadTaxonomy 讀取整張階層圖
func (s *PostgresStore) LoadTaxonomy(ctx context.Context) (*taxonomy.Graph, error) {
	return loadGraph(s.db.WithContext(ctx))
}

type nodeRow struct {
	ID             string
	HierarchyDepth int
}

func loadGraph(db *gorm.DB) (*taxonomy.Graph, error) {
	var nodes []nodeRow
	if err := db.Model(&model.Ingredient{}).Select("id, hierarchy_depth").Scan(&nodes).Error; err != nil {
		return nil, fmt.Errorf("load taxonomy nodes: %w", err)
	}
	var edges []model.ParentEdge
	if err := db.Select("parent_id, child_id").Find(&edges).Error; err != nil {
		return nil, fmt.Errorf("load taxonomy edges: %w", err)
	}

	g := taxonomy.NewGraph()
	for _, n := range nodes {
		g.AddNode(n.ID, n.HierarchyDepth)
	}
	for _, e := range edges {
		g.AddEdge(e.ParentID, e.ChildID)
	}
	return g, nil
}

// MutateTaxonomy 在持有 advisory lock 的交易內載入、規劃並寫入。
// 任何一步失敗都會回滾，不留下部分結果。
func (s *PostgresStore) MutateTaxonomy(ctx context.Context, fn store.MutateFunc) (*taxonomy.ChangeSet, error) {
	var cs *taxonomy.ChangeSet
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", taxonomyLockKey).Error; err != nil {
			return fmt.Errorf("acquire taxonomy lock: %w", err)
		}
		g, err := loadGraph(tx)
		if err != nil {
			return err
		}
		planned, err := fn(g)
		if err != nil {
			return err
		}
		cs = planned
		if cs.Empty() {
			return nil
		}
		return applyChangeSet(tx, cs)
	})
	if err != nil {
		return nil, err
	}
	return cs, nil
}

func applyChangeSet(tx *gorm.DB, cs *taxonomy.ChangeSet) error {
	for _, e := range cs.Removed {
		if err := tx.Where("parent_id = ? AND child_id = ?", e.ParentID, e.ChildID).
			Delete(&model.ParentEdge{}).Error; err != nil {
			return fmt.Errorf("remove edge: %w", err)
		}
	}
	if len(cs.Deleted) > 0 {
		// 別名、邊與食譜行由外鍵 ON DELETE CASCADE 清除
		if err := tx.Where("id IN ?", cs.Deleted).Delete(&model.Ingredient{}).Error; err != nil {
			return fmt.Errorf("delete ingredients: %w", err)
		}
	}
	for _, e := range cs.Added {
		edge := model.ParentEdge{ParentID: e.ParentID, ChildID: e.ChildID}
		if err := tx.Omit(clause.Associations).Create(&edge).Error; err != nil {
			return fmt.Errorf("add edge: %w", err)
		}
	}
	now := time.Now()
	for _, d := range cs.Depths {
		err := tx.Model(&model.Ingredient{}).
			Where("id = ?", d.IngredientID).
			Updates(map[string]any{"hierarchy_depth": d.To, "updated_at": now}).Error
		if err != nil {
			return fmt.Errorf("update depth: %w", err)
		}
	}
	return nil
}

// SetEmbedding 寫入食材或別名的向量
func (s *PostgresStore) SetEmbedding(ctx context.Context, target model.EmbeddingTarget, vec model.Vector) error {
	var m any
	switch target.Source {
	case model.SourceIngredient:
		m = &model.Ingredient{}
	case model.SourceAlias:
		m = &model.Alias{}
	default:
		return common.NewInvalidInputError("unknown embedding target source").With("source", string(target.Source))
	}
	if !common.IsUUID(target.ID) {
		return common.NewNotFoundError(string(target.Source), target.ID)
	}
	res := s.db.WithContext(ctx).Model(m).Where("id = ?", target.ID).Update("embedding", vec)
	if res.Error != nil {
		return fmt.Errorf("set embedding: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return common.NewNotFoundError(string(target.Source), target.ID)
	}
	return nil
}

// 維度不同的向量與零向量（距離為 NaN）不參與比較
const nearestNeighborsSQL = `
SELECT ingredient_id, name, source, distance FROM (
	SELECT id AS ingredient_id, name, 'ingredient' AS source, (embedding <=> ?::vector) AS distance
	FROM ingredients
	WHERE embedding IS NOT NULL AND vector_dims(embedding) = ?
	UNION ALL
	SELECT ingredient_id, name, 'alias' AS source, (embedding <=> ?::vector) AS distance
	FROM aliases
	WHERE embedding IS NOT NULL AND vector_dims(embedding) = ?
) c
WHERE distance <> 'NaN'::float8
ORDER BY distance, name, ingredient_id
LIMIT ?`

// NearestNeighbors 以 pgvector 餘弦距離查詢食材與別名
func (s *PostgresStore) NearestNeighbors(ctx context.Context, query model.Vector, limit int) ([]model.Candidate, error) {
	if limit <= 0 || len(query) == 0 {
		return nil, nil
	}
	q := query.String()
	var out []model.Candidate
	err := s.db.WithContext(ctx).
		Raw(nearestNeighborsSQL, q, len(query), q, len(query), limit).
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("nearest neighbors: %w", err)
	}
	return out, nil
}

// ListUnembedded 列出尚未有向量的食材與別名，食材在前
func (s *PostgresStore) ListUnembedded(ctx context.Context, limit int) ([]model.EmbeddingTarget, error) {
	db := s.db.WithContext(ctx)
	var out []model.EmbeddingTarget

	q := db.Model(&model.Ingredient{}).Select("id, name, 'ingredient' AS source").
		Where("embedding IS NULL").Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("list unembedded ingredients: %w", err)
	}
	if limit > 0 && len(out) >= limit {
		return out, nil
	}

	var aliases []model.EmbeddingTarget
	q = db.Model(&model.Alias{}).Select("id, name, 'alias' AS source").
		Where("embedding IS NULL").Order("id")
	if limit > 0 {
		q = q.Limit(limit - len(out))
	}
	if err := q.Scan(&aliases).Error; err != nil {
		return nil, fmt.Errorf("list unembedded aliases: %w", err)
	}
	return append(out, aliases...), nil
}

// CreateRecipe 新增食譜與其食材行
func (s *PostgresStore) CreateRecipe(ctx context.Context, recipe *model.Recipe) error {
	if strings.TrimSpace(recipe.Title) == "" {
		return common.NewInvalidInputError("recipe title is empty")
	}
	lines := store.DedupeLines(recipe.Lines)
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		if !common.IsUUID(l.IngredientID) {
			return common.NewNotFoundError("ingredient", l.IngredientID)
		}
		ids = append(ids, l.IngredientID)
	}
	if recipe.ID == "" {
		recipe.ID = common.GenerateUUID()
	}
	for i := range lines {
		lines[i].RecipeID = recipe.ID
	}
	recipe.Lines = lines

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(ids) > 0 {
			var found []string
			if err := tx.Model(&model.Ingredient{}).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
				return fmt.Errorf("check recipe ingredients: %w", err)
			}
			if missing := firstMissing(ids, found); missing != "" {
				return common.NewNotFoundError("ingredient", missing)
			}
		}
		if err := tx.Create(recipe).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return common.NewConflictError("recipe", recipe.ID)
			}
			return fmt.Errorf("create recipe: %w", err)
		}
		return nil
	})
}

func firstMissing(want, found []string) string {
	have := make(map[string]struct{}, len(found))
	for _, id := range found {
		have[id] = struct{}{}
	}
	for _, id := range want {
		if _, ok := have[id]; !ok {
			return id
		}
	}
	return ""
}

// GetRecipe 取得食譜
func (s *PostgresStore) GetRecipe(ctx context.Context, id string) (*model.Recipe, error) {
	if !common.IsUUID(id) {
		return nil, common.NewNotFoundError("recipe", id)
	}
	var r model.Recipe
	err := s.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("ingredient_id") }).
		First(&r, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.NewNotFoundError("recipe", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get recipe: %w", err)
	}
	return &r, nil
}

// DeleteRecipe 刪除食譜
func (s *PostgresStore) DeleteRecipe(ctx context.Context, id string) error {
	if !common.IsUUID(id) {
		return common.NewNotFoundError("recipe", id)
	}
	res := s.db.WithContext(ctx).Delete(&model.Recipe{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete recipe: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return common.NewNotFoundError("recipe", id)
	}
	return nil
}

type requirementRow struct {
	RecipeID     string
	IngredientID string
	Name         string
}

// CoverageSnapshot 在 REPEATABLE READ 唯讀交易內讀取所有食譜需求
func (s *PostgresStore) CoverageSnapshot(ctx context.Context) (*model.CoverageSnapshot, error) {
	snap := &model.CoverageSnapshot{Names: make(map[string]string)}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var recipes []model.Recipe
		if err := tx.Select("id, title").Order("id").Find(&recipes).Error; err != nil {
			return fmt.Errorf("load recipes: %w", err)
		}
		var rows []requirementRow
		err := tx.Table("recipe_ingredients ri").
			Select("ri.recipe_id, ri.ingredient_id, i.name").
			Joins("JOIN ingredients i ON i.id = ri.ingredient_id").
			Order("ri.recipe_id, ri.ingredient_id").
			Scan(&rows).Error
		if err != nil {
			return fmt.Errorf("load recipe lines: %w", err)
		}

		byRecipe := make(map[string][]string, len(recipes))
		for _, r := range rows {
			byRecipe[r.RecipeID] = append(byRecipe[r.RecipeID], r.IngredientID)
			snap.Names[r.IngredientID] = r.Name
		}
		snap.Recipes = make([]model.RecipeRequirement, 0, len(recipes))
		for _, r := range recipes {
			snap.Recipes = append(snap.Recipes, model.RecipeRequirement{
				RecipeID:      r.ID,
				Title:         r.Title,
				IngredientIDs: byRecipe[r.ID],
			})
		}
		return nil
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Ping 檢查連線
func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 關閉連線池
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func advisoryKey64(namespace string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(namespace))
	return int64(h.Sum64())
}

func parseGormLevel(level string) gormLogger.LogLevel {
	switch strings.ToLower(level) {
	case "info":
		return gormLogger.Info
	case "warn":
		return gormLogger.Warn
	case "error":
		return gormLogger.Error
	default:
		return gormLogger.Silent
	}
}
