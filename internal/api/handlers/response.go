// Package handlers 放各路由處理器共用的請求解析與錯誤回應
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"recipe-matcher/internal/pkg/common"
)

// DebugKey gin context 中是否回傳錯誤細節的旗標
const DebugKey = "debug"

// BindJSON 解析請求體；失敗時直接回 400 並回傳 false
func BindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		common.LogWarn("請求格式無效",
			zap.Error(err),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", requestid.Get(c)),
		)
		Error(c, common.NewInvalidInputError("invalid request body").Wrap(err))
		return false
	}
	return true
}

// Error 依錯誤種類回應狀態碼與結構化內容
func Error(c *gin.Context, err error) {
	// 領域錯誤保留原種類；嵌入服務逾時仍是 EMBEDDING_UNAVAILABLE
	if common.KindOf(err) == "" && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		err = common.ErrGatewayTimeout
	}
	status, resp := common.ToErrorResponse(err, c.GetBool(DebugKey))
	if status >= http.StatusInternalServerError {
		common.LogError("請求處理失敗",
			zap.Error(err),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", requestid.Get(c)),
		)
	}
	c.Set(common.ErrorCodeKey, resp.Code)
	c.AbortWithStatusJSON(status, resp)
}
