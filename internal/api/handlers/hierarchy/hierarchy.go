package hierarchy

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"recipe-matcher/internal/api/handlers"
	hierarchyService "recipe-matcher/internal/core/hierarchy"
	"recipe-matcher/internal/pkg/common"
)

// EdgeRequest 父子關係
type EdgeRequest struct {
	ParentID string `json:"parent_id" form:"parent_id" binding:"required"`
	ChildID  string `json:"child_id" form:"child_id" binding:"required"`
}

// Handler 階層處理程序
type Handler struct {
	service *hierarchyService.Service
}

// NewHandler 創建階層處理程序
func NewHandler(s *hierarchyService.Service) *Handler {
	return &Handler{service: s}
}

// Register 註冊路由
func (h *Handler) Register(g *gin.RouterGroup) {
	g.POST("/edges", h.HandleAddEdge)
	g.DELETE("/edges", h.HandleRemoveEdge)
	g.POST("/repair", h.HandleRepair)
}

// HandleAddEdge 加入父子關係，回傳深度變化
func (h *Handler) HandleAddEdge(c *gin.Context) {
	var req EdgeRequest
	if !handlers.BindJSON(c, &req) {
		return
	}
	cs, err := h.service.AddParentEdge(c.Request.Context(), req.ParentID, req.ChildID)
	if err != nil {
		handlers.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, cs)
}

// HandleRemoveEdge 移除父子關係；參數放在 query string
func (h *Handler) HandleRemoveEdge(c *gin.Context) {
	var req EdgeRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		handlers.Error(c, common.NewInvalidInputError("parent_id and child_id are required").Wrap(err))
		return
	}
	cs, err := h.service.RemoveParentEdge(c.Request.Context(), req.ParentID, req.ChildID)
	if err != nil {
		handlers.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}

// HandleRepair 全圖重算深度
func (h *Handler) HandleRepair(c *gin.Context) {
	cs, err := h.service.Repair(c.Request.Context())
	if err != nil {
		handlers.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}
