// Package model 定義食材、別名、階層邊與食譜等持久化實體
package model

import (
	"strings"
	"time"
)

// FoodGroup 食物分類
type FoodGroup struct {
	ID             string `gorm:"type:uuid;primaryKey" json:"id"`
	Name           string `gorm:"not null" json:"name"`
	NormalizedName string `gorm:"not null;uniqueIndex:uq_food_groups_normalized_name" json:"-"`
}

// TableName 指定資料表名稱
func (FoodGroup) TableName() string { return "food_groups" }

// Ingredient 標準食材
type Ingredient struct {
	ID             string    `gorm:"type:uuid;primaryKey" json:"id"`
	Name           string    `gorm:"not null" json:"name"`
	NormalizedName string    `gorm:"not null;uniqueIndex:uq_ingredients_normalized_name" json:"-"`
	FoodGroupID    *string   `gorm:"type:uuid;index" json:"food_group_id,omitempty"`
	HierarchyDepth int       `gorm:"not null;default:0;check:chk_ingredients_depth,hierarchy_depth >= 0" json:"hierarchy_depth"`
	Embedding      Vector    `gorm:"type:vector" json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Aliases []Alias `gorm:"foreignKey:IngredientID;constraint:OnDelete:CASCADE" json:"aliases,omitempty"`
}

// TableName 指定資料表名稱
func (Ingredient) TableName() string { return "ingredients" }

// Alias 食材的別名（同義詞、錯字、其他寫法）
type Alias struct {
	ID             string    `gorm:"type:uuid;primaryKey" json:"id"`
	Name           string    `gorm:"not null" json:"name"`
	NormalizedName string    `gorm:"not null;uniqueIndex:uq_aliases_normalized_name" json:"-"`
	IngredientID   string    `gorm:"type:uuid;not null;index" json:"ingredient_id"`
	Embedding      Vector    `gorm:"type:vector" json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName 指定資料表名稱
func (Alias) TableName() string { return "aliases" }

// ParentEdge 父子關係，純關聯紀錄
type ParentEdge struct {
	ParentID string `gorm:"type:uuid;primaryKey;check:chk_parent_edges_not_self,parent_id <> child_id" json:"parent_id"`
	ChildID  string `gorm:"type:uuid;primaryKey;index" json:"child_id"`

	Parent *Ingredient `gorm:"foreignKey:ParentID;constraint:OnDelete:CASCADE" json:"-"`
	Child  *Ingredient `gorm:"foreignKey:ChildID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName 指定資料表名稱
func (ParentEdge) TableName() string { return "ingredient_parents" }

// Recipe 食譜
type Recipe struct {
	ID           string             `gorm:"type:uuid;primaryKey" json:"id"`
	Title        string             `gorm:"not null" json:"title"`
	Instructions string             `gorm:"type:text" json:"instructions"`
	IsPublic     bool               `gorm:"not null;default:false" json:"is_public"`
	OwnerID      *string            `gorm:"type:uuid;index" json:"owner_id,omitempty"`
	Lines        []RecipeIngredient `gorm:"foreignKey:RecipeID;constraint:OnDelete:CASCADE" json:"ingredients"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// TableName 指定資料表名稱
func (Recipe) TableName() string { return "recipes" }

// RecipeIngredient 食譜的一行食材；數量與單位僅供描述，不參與比對
type RecipeIngredient struct {
	RecipeID     string   `gorm:"type:uuid;primaryKey" json:"recipe_id"`
	IngredientID string   `gorm:"type:uuid;primaryKey;index" json:"ingredient_id"`
	Amount       *float64 `json:"amount,omitempty"`
	Unit         *string  `json:"unit,omitempty"`

	Ingredient *Ingredient `gorm:"foreignKey:IngredientID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName 指定資料表名稱
func (RecipeIngredient) TableName() string { return "recipe_ingredients" }

// CandidateSource 候選來自食材名稱或別名
type CandidateSource string

const (
	SourceIngredient CandidateSource = "ingredient"
	SourceAlias      CandidateSource = "alias"
)

// Candidate 向量搜尋候選，已標記所屬食材
type Candidate struct {
	IngredientID string          `json:"ingredient_id"`
	Name         string          `json:"name"`
	Source       CandidateSource `json:"source"`
	Distance     float64         `json:"distance"`
}

// EmbeddingTarget 尚未有向量的食材或別名
type EmbeddingTarget struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Source CandidateSource `json:"source"`
}

// RecipeRequirement 覆蓋率計算用的食譜需求（去重後的食材 ID）
type RecipeRequirement struct {
	RecipeID      string
	Title         string
	IngredientIDs []string
}

// CoverageSnapshot 單一一致快照下的食譜需求與食材名稱
type CoverageSnapshot struct {
	Recipes []RecipeRequirement
	Names   map[string]string
}

// NormalizeName 比對用名稱：去頭尾空白、合併空白、轉小寫
func NormalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
