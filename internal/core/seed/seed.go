// Package seed 從 CSV 匯入食物分類、食材、階層與別名。
//
// 目錄內的檔案：
//
//	food_groups.csv        name
//	ingredients.csv        name, food_group, hierarchy_depth
//	ingredient_parents.csv parent_name, child_name
//	final_aliases.csv      alias_name, ingredient_name
//
// 只有 ingredients.csv 是必要的。hierarchy_depth 欄位會被忽略，深度一律由階層服務推導。
// 每一行各自成功或失敗；失敗的行記在 Report.Rejected，不會中斷整批匯入。
package seed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"recipe-matcher/internal/core/embedding"
	"recipe-matcher/internal/core/hierarchy"
	"recipe-matcher/internal/core/model"
	"recipe-matcher/internal/core/store"
	"recipe-matcher/internal/pkg/common"
)

// 檔名
const (
	FoodGroupsFile  = "food_groups.csv"
	IngredientsFile = "ingredients.csv"
	ParentsFile     = "ingredient_parents.csv"
	AliasesFile     = "final_aliases.csv"
)

// Options 匯入選項
type Options struct {
	// Embed 匯入後替沒有向量的食材與別名補上向量
	Embed bool
	// EmbedLimit 單次最多補幾筆，0 表示全部
	EmbedLimit int
}

// RejectedRow 匯入失敗的行
type RejectedRow struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// Report 匯入結果
type Report struct {
	FoodGroups          int           `json:"food_groups"`
	Ingredients         int           `json:"ingredients"`
	ExistingIngredients int           `json:"existing_ingredients"`
	Edges               int           `json:"edges"`
	DuplicateEdges      int           `json:"duplicate_edges"`
	SkippedSelf         int           `json:"skipped_self_references"`
	Aliases             int           `json:"aliases"`
	ExistingAliases     int           `json:"existing_aliases"`
	Embedded            int           `json:"embedded"`
	EmbedFailed         int           `json:"embed_failed"`
	Rejected            []RejectedRow `json:"rejected,omitempty"`
}

// Seeder 匯入器
type Seeder struct {
	store     store.Store
	hierarchy *hierarchy.Service
	embedder  embedding.Embedder
	ids       map[string]string // 正規化名稱 -> 食材 ID
}

// NewSeeder 創建匯入器；embedder 可為 nil（不補向量）
func NewSeeder(s store.Store, h *hierarchy.Service, e embedding.Embedder) *Seeder {
	return &Seeder{store: s, hierarchy: h, embedder: e, ids: make(map[string]string)}
}

// Run 依序匯入分類、食材、階層、別名，最後視需要補向量
func (s *Seeder) Run(ctx context.Context, dir string, opts Options) (*Report, error) {
	rep := &Report{}

	groups := make(map[string]string)
	if err := s.loadFoodGroups(ctx, dir, groups, rep); err != nil {
		return rep, err
	}
	if err := s.loadIngredients(ctx, dir, groups, rep); err != nil {
		return rep, err
	}
	rep.FoodGroups = len(groups)
	if err := s.loadParents(ctx, dir, rep); err != nil {
		return rep, err
	}
	if err := s.loadAliases(ctx, dir, rep); err != nil {
		return rep, err
	}
	if opts.Embed {
		if s.embedder == nil {
			return rep, errors.New("embedding backfill requested without an embedder")
		}
		if err := s.Backfill(ctx, opts.EmbedLimit, rep); err != nil {
			return rep, err
		}
	}

	common.LogInfo("種子資料匯入完成",
		zap.Int("食物分類", rep.FoodGroups),
		zap.Int("新增食材", rep.Ingredients),
		zap.Int("既有食材", rep.ExistingIngredients),
		zap.Int("階層邊", rep.Edges),
		zap.Int("別名", rep.Aliases),
		zap.Int("向量", rep.Embedded),
		zap.Int("失敗行數", len(rep.Rejected)),
	)
	return rep, nil
}

func (s *Seeder) loadFoodGroups(ctx context.Context, dir string, groups map[string]string, rep *Report) error {
	return readCSV(filepath.Join(dir, FoodGroupsFile), false, []string{"name"}, func(line int, row map[string]string) error {
		if _, err := s.ensureGroup(ctx, row["name"], groups); err != nil {
			return s.reject(rep, FoodGroupsFile, line, err)
		}
		return nil
	})
}

func (s *Seeder) ensureGroup(ctx context.Context, name string, groups map[string]string) (string, error) {
	norm := model.NormalizeName(name)
	if norm == "" {
		return "", nil
	}
	if id, ok := groups[norm]; ok {
		return id, nil
	}
	fg, err := s.store.EnsureFoodGroup(ctx, name)
	if err != nil {
		return "", err
	}
	groups[norm] = fg.ID
	return fg.ID, nil
}

func (s *Seeder) loadIngredients(ctx context.Context, dir string, groups map[string]string, rep *Report) error {
	return readCSV(filepath.Join(dir, IngredientsFile), true, []string{"name"}, func(line int, row map[string]string) error {
		name := strings.TrimSpace(row["name"])
		if name == "" {
			return s.reject(rep, IngredientsFile, line, common.NewInvalidInputError("empty ingredient name"))
		}
		groupID, err := s.ensureGroup(ctx, row["food_group"], groups)
		if err != nil {
			return s.reject(rep, IngredientsFile, line, err)
		}

		ing := &model.Ingredient{Name: name}
		if groupID != "" {
			ing.FoodGroupID = &groupID
		}
		err = s.store.CreateIngredient(ctx, ing)
		switch {
		case err == nil:
			rep.Ingredients++
			s.ids[model.NormalizeName(name)] = ing.ID
		case errors.Is(err, common.ErrConflict):
			existing, ferr := s.store.FindIngredientByName(ctx, name)
			if ferr != nil {
				// 名稱被別名佔用
				return s.reject(rep, IngredientsFile, line, err)
			}
			rep.ExistingIngredients++
			s.ids[model.NormalizeName(name)] = existing.ID
			if groupID != "" && (existing.FoodGroupID == nil || *existing.FoodGroupID != groupID) {
				if err := s.store.SetFoodGroup(ctx, existing.ID, &groupID); err != nil {
					return s.reject(rep, IngredientsFile, line, err)
				}
			}
		default:
			return s.reject(rep, IngredientsFile, line, err)
		}
		return nil
	})
}

func (s *Seeder) loadParents(ctx context.Context, dir string, rep *Report) error {
	return readCSV(filepath.Join(dir, ParentsFile), false, []string{"parent_name", "child_name"}, func(line int, row map[string]string) error {
		parentName, childName := row["parent_name"], row["child_name"]
		if model.NormalizeName(parentName) == model.NormalizeName(childName) {
			rep.SkippedSelf++
			return nil
		}
		parentID, err := s.resolveName(ctx, parentName)
		if err != nil {
			return s.reject(rep, ParentsFile, line, err)
		}
		childID, err := s.resolveName(ctx, childName)
		if err != nil {
			return s.reject(rep, ParentsFile, line, err)
		}

		_, err = s.hierarchy.AddParentEdge(ctx, parentID, childID)
		switch {
		case err == nil:
			rep.Edges++
		case errors.Is(err, common.ErrDuplicateEdge):
			rep.DuplicateEdges++
		default:
			return s.reject(rep, ParentsFile, line, err)
		}
		return nil
	})
}

func (s *Seeder) loadAliases(ctx context.Context, dir string, rep *Report) error {
	return readCSV(filepath.Join(dir, AliasesFile), false, []string{"alias_name", "ingredient_name"}, func(line int, row map[string]string) error {
		ingredientID, err := s.resolveName(ctx, row["ingredient_name"])
		if err != nil {
			return s.reject(rep, AliasesFile, line, err)
		}
		aliasName := row["alias_name"]
		// 與食材同名的別名沒有意義
		if model.NormalizeName(aliasName) == model.NormalizeName(row["ingredient_name"]) {
			rep.SkippedSelf++
			return nil
		}

		err = s.store.CreateAlias(ctx, &model.Alias{Name: aliasName, IngredientID: ingredientID})
		switch {
		case err == nil:
			rep.Aliases++
		case errors.Is(err, common.ErrConflict):
			existing, ferr := s.store.FindAliasByName(ctx, aliasName)
			if ferr == nil && existing.IngredientID == ingredientID {
				rep.ExistingAliases++
				return nil
			}
			return s.reject(rep, AliasesFile, line, err)
		default:
			return s.reject(rep, AliasesFile, line, err)
		}
		return nil
	})
}

// Backfill 替沒有向量的食材與別名補上向量；單筆失敗只計數
func (s *Seeder) Backfill(ctx context.Context, limit int, rep *Report) error {
	targets, err := s.store.ListUnembedded(ctx, limit)
	if err != nil {
		return err
	}
	for i, target := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		vec, err := s.embedder.Embed(ctx, target.Name, embedding.TaskDocument)
		if err == nil {
			err = s.store.SetEmbedding(ctx, target, vec)
		}
		if err != nil {
			rep.EmbedFailed++
			common.LogWarn("補向量失敗",
				zap.String("id", target.ID),
				zap.String("source", string(target.Source)),
				zap.Error(err),
			)
			continue
		}
		rep.Embedded++
		if (i+1)%100 == 0 {
			common.LogInfo("補向量進度", zap.Int("完成", i+1), zap.Int("總數", len(targets)))
		}
	}
	return nil
}

func (s *Seeder) resolveName(ctx context.Context, name string) (string, error) {
	norm := model.NormalizeName(name)
	if norm == "" {
		return "", common.NewInvalidInputError("empty ingredient name")
	}
	if id, ok := s.ids[norm]; ok {
		return id, nil
	}
	ing, err := s.store.FindIngredientByName(ctx, name)
	if err != nil {
		return "", err
	}
	s.ids[norm] = ing.ID
	return ing.ID, nil
}

// reject 記錄失敗的行；取消與非領域錯誤會中斷匯入
func (s *Seeder) reject(rep *Report, file string, line int, err error) error {
	kind := common.KindOf(err)
	if kind == "" {
		return fmt.Errorf("%s line %d: %w", file, line, err)
	}
	rep.Rejected = append(rep.Rejected, RejectedRow{File: file, Line: line, Kind: string(kind), Reason: err.Error()})
	common.LogWarn("略過種子資料",
		zap.String("file", file),
		zap.Int("line", line),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
	return nil
}

// readCSV 依表頭名稱讀取；檔案不存在時 required 決定是否為錯誤
func readCSV(path string, required bool, columns []string, fn func(line int, row map[string]string) error) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			common.LogInfo("略過不存在的種子檔", zap.String("path", path))
			return nil
		}
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%s: missing header", path)
		}
		return fmt.Errorf("%s: %w", path, err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF")))] = i
	}
	for _, c := range columns {
		if _, ok := index[c]; !ok {
			return fmt.Errorf("%s: missing column %q", path, c)
		}
	}

	line := 1
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		line++
		if err != nil {
			return fmt.Errorf("%s line %d: %w", path, line, err)
		}
		row := make(map[string]string, len(index))
		for name, i := range index {
			if i < len(rec) {
				row[name] = strings.TrimSpace(rec[i])
			}
		}
		if err := fn(line, row); err != nil {
			return err
		}
	}
}
