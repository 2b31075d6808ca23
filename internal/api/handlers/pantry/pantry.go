package pantry

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"recipe-matcher/internal/api/handlers"
	"recipe-matcher/internal/core/coverage"
)

// defaultLimit 未指定 limit 時的筆數
const defaultLimit = 20

// CoverageRequest 覆蓋率查詢
type CoverageRequest struct {
	PantryIDs   []string `json:"pantry_ids"`
	MinCoverage float64  `json:"min_coverage"`
	Limit       *int     `json:"limit"`
}

// UnlocksRequest 解鎖建議查詢
type UnlocksRequest struct {
	PantryIDs []string `json:"pantry_ids"`
	Limit     *int     `json:"limit"`
}

// CoverageResponse 覆蓋率結果
type CoverageResponse struct {
	Recipes []coverage.RecipeCoverage `json:"recipes"`
}

// UnlocksResponse 解鎖建議結果
type UnlocksResponse struct {
	Unlocks []coverage.Unlock `json:"unlocks"`
}

// Handler pantry 處理程序
type Handler struct {
	engine *coverage.Engine
}

// NewHandler 創建 pantry 處理程序
func NewHandler(e *coverage.Engine) *Handler {
	return &Handler{engine: e}
}

// Register 註冊路由
func (h *Handler) Register(g *gin.RouterGroup) {
	g.POST("/coverage", h.HandleCoverage)
	g.POST("/unlocks", h.HandleUnlocks)
}

func limitOrDefault(limit *int) int {
	if limit == nil {
		return defaultLimit
	}
	return *limit
}

// HandleCoverage 依現有食材排序食譜
func (h *Handler) HandleCoverage(c *gin.Context) {
	var req CoverageRequest
	if !handlers.BindJSON(c, &req) {
		return
	}
	recipes, err := h.engine.RecipesByCoverage(c.Request.Context(), req.PantryIDs, req.MinCoverage, limitOrDefault(req.Limit))
	if err != nil {
		handlers.Error(c, err)
		return
	}
	if recipes == nil {
		recipes = []coverage.RecipeCoverage{}
	}
	c.JSON(http.StatusOK, CoverageResponse{Recipes: recipes})
}

// HandleUnlocks 建議補上哪一樣食材能完成最多食譜
func (h *Handler) HandleUnlocks(c *gin.Context) {
	var req UnlocksRequest
	if !handlers.BindJSON(c, &req) {
		return
	}
	unlocks, err := h.engine.SuggestUnlocks(c.Request.Context(), req.PantryIDs, limitOrDefault(req.Limit))
	if err != nil {
		handlers.Error(c, err)
		return
	}
	if unlocks == nil {
		unlocks = []coverage.Unlock{}
	}
	c.JSON(http.StatusOK, UnlocksResponse{Unlocks: unlocks})
}
