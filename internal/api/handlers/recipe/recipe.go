package recipe

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"recipe-matcher/internal/api/handlers"
	"recipe-matcher/internal/core/model"
	"recipe-matcher/internal/core/store"
	"recipe-matcher/internal/pkg/common"
)

// LineRequest 食譜的一行食材
type LineRequest struct {
	IngredientID string   `json:"ingredient_id" binding:"required"`
	Amount       *float64 `json:"amount,omitempty"` // 只作描述
	Unit         *string  `json:"unit,omitempty"`
}

// CreateRequest 新增食譜
type CreateRequest struct {
	Title        string        `json:"title" binding:"required"`
	Instructions string        `json:"instructions"`
	IsPublic     bool          `json:"is_public"`
	OwnerID      *string       `json:"owner_id,omitempty"`
	Ingredients  []LineRequest `json:"ingredients"`
}

// Handler 食譜處理程序
type Handler struct {
	store store.Store
}

// NewHandler 創建食譜處理程序
func NewHandler(s store.Store) *Handler {
	return &Handler{store: s}
}

// Register 註冊路由
func (h *Handler) Register(g *gin.RouterGroup) {
	g.POST("", h.HandleCreate)
	g.GET("/:id", h.HandleGet)
	g.DELETE("/:id", h.HandleDelete)
}

// HandleCreate 新增食譜；重複的食材行會合併
func (h *Handler) HandleCreate(c *gin.Context) {
	var req CreateRequest
	if !handlers.BindJSON(c, &req) {
		return
	}
	if req.OwnerID != nil && !common.IsUUID(*req.OwnerID) {
		handlers.Error(c, common.NewInvalidInputError("owner_id must be a UUID").With("owner_id", *req.OwnerID))
		return
	}

	recipe := &model.Recipe{
		Title:        req.Title,
		Instructions: req.Instructions,
		IsPublic:     req.IsPublic,
		OwnerID:      req.OwnerID,
		Lines:        make([]model.RecipeIngredient, 0, len(req.Ingredients)),
	}
	for _, l := range req.Ingredients {
		recipe.Lines = append(recipe.Lines, model.RecipeIngredient{
			IngredientID: l.IngredientID,
			Amount:       l.Amount,
			Unit:         l.Unit,
		})
	}

	if err := h.store.CreateRecipe(c.Request.Context(), recipe); err != nil {
		handlers.Error(c, err)
		return
	}
	common.LogInfo("食譜已建立",
		zap.String("recipe_id", recipe.ID),
		zap.Int("食材數", len(recipe.Lines)),
	)
	c.JSON(http.StatusCreated, recipe)
}

// HandleGet 取得食譜
func (h *Handler) HandleGet(c *gin.Context) {
	recipe, err := h.store.GetRecipe(c.Request.Context(), c.Param("id"))
	if err != nil {
		handlers.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, recipe)
}

// HandleDelete 刪除食譜
func (h *Handler) HandleDelete(c *gin.Context) {
	if err := h.store.DeleteRecipe(c.Request.Context(), c.Param("id")); err != nil {
		handlers.Error(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
