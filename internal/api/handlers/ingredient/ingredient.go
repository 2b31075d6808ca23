package ingredient

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"recipe-matcher/internal/api/handlers"
	"recipe-matcher/internal/core/canonical"
	"recipe-matcher/internal/core/hierarchy"
	"recipe-matcher/internal/core/model"
	"recipe-matcher/internal/core/store"
	"recipe-matcher/internal/core/vector"
	"recipe-matcher/internal/pkg/common"
)

// ResolveRequest 文字解析請求；mode 預設為 lookup
type ResolveRequest struct {
	Text         string `json:"text" binding:"required"`
	Mode         string `json:"mode"`
	IngredientID string `json:"ingredient_id,omitempty"`
	K            int    `json:"k,omitempty"`
}

// SearchRequest 以向量直接搜尋
type SearchRequest struct {
	Vector []float32 `json:"vector" binding:"required"`
	K      int       `json:"k"`
}

// SearchResponse 搜尋結果
type SearchResponse struct {
	Candidates []canonical.Match `json:"candidates"`
}

// IngredientResponse 食材與其別名
type IngredientResponse struct {
	*model.Ingredient
	Aliases []model.Alias `json:"aliases"`
}

// Handler 食材處理程序
type Handler struct {
	store     store.Store
	canonical *canonical.Service
	index     *vector.Index
	hierarchy *hierarchy.Service
	defaultK  int
}

// NewHandler 創建食材處理程序
func NewHandler(s store.Store, c *canonical.Service, index *vector.Index, h *hierarchy.Service, defaultK int) *Handler {
	return &Handler{store: s, canonical: c, index: index, hierarchy: h, defaultK: defaultK}
}

// Register 註冊路由
func (h *Handler) Register(g *gin.RouterGroup) {
	g.POST("/resolve", h.HandleResolve)
	g.POST("/search", h.HandleSearch)
	g.GET("/:id", h.HandleGet)
	g.GET("/:id/lineage", h.HandleLineage)
	g.DELETE("/:id", h.HandleDelete)
}

// HandleResolve 把文字解析為標準食材，或依模式新增別名／食材
func (h *Handler) HandleResolve(c *gin.Context) {
	var req ResolveRequest
	if !handlers.BindJSON(c, &req) {
		return
	}

	var mode canonical.Mode
	switch canonical.ModeKind(req.Mode) {
	case "", canonical.ModeLookup:
		mode = canonical.Lookup()
	case canonical.ModeMap:
		mode = canonical.MapTo(req.IngredientID)
	case canonical.ModeCreate:
		mode = canonical.CreateNew()
	default:
		handlers.Error(c, common.NewInvalidInputError("unknown resolve mode").With("mode", req.Mode))
		return
	}
	if req.K < 0 {
		handlers.Error(c, common.NewInvalidInputError("k must not be negative"))
		return
	}

	res, err := h.canonical.Resolve(c.Request.Context(), req.Text, mode, req.K)
	if err != nil {
		handlers.Error(c, err)
		return
	}

	status := http.StatusOK
	if res.Outcome == canonical.OutcomeCreated || res.Outcome == canonical.OutcomeMapped {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

// HandleSearch 回傳最接近的 k 個食材
func (h *Handler) HandleSearch(c *gin.Context) {
	var req SearchRequest
	if !handlers.BindJSON(c, &req) {
		return
	}
	k := req.K
	if k == 0 {
		k = h.defaultK
	}

	candidates, err := h.index.Search(c.Request.Context(), req.Vector, k)
	if err != nil {
		handlers.Error(c, err)
		return
	}
	resp := SearchResponse{Candidates: make([]canonical.Match, len(candidates))}
	for i, cand := range candidates {
		resp.Candidates[i] = canonical.Match{
			IngredientID: cand.IngredientID,
			Name:         cand.Name,
			Source:       cand.Source,
			Distance:     cand.Distance,
			Confidence:   vector.Confidence(cand.Distance),
		}
	}
	c.JSON(http.StatusOK, resp)
}

// HandleGet 取得食材與別名
func (h *Handler) HandleGet(c *gin.Context) {
	id := c.Param("id")
	ing, err := h.store.GetIngredient(c.Request.Context(), id)
	if err != nil {
		handlers.Error(c, err)
		return
	}
	aliases, err := h.store.ListAliases(c.Request.Context(), id)
	if err != nil {
		handlers.Error(c, err)
		return
	}
	if aliases == nil {
		aliases = []model.Alias{}
	}
	c.JSON(http.StatusOK, IngredientResponse{Ingredient: ing, Aliases: aliases})
}

// HandleLineage 查詢食材在階層中的位置
func (h *Handler) HandleLineage(c *gin.Context) {
	lineage, err := h.hierarchy.Lineage(c.Request.Context(), c.Param("id"))
	if err != nil {
		handlers.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, lineage)
}

// HandleDelete 刪除食材並修復其子節點的深度
func (h *Handler) HandleDelete(c *gin.Context) {
	id := c.Param("id")
	cs, err := h.hierarchy.DeleteIngredient(c.Request.Context(), id)
	if err != nil {
		handlers.Error(c, err)
		return
	}
	common.LogInfo("食材已刪除", zap.String("ingredient_id", id), zap.Int("深度更新", len(cs.Depths)))
	c.JSON(http.StatusOK, cs)
}
