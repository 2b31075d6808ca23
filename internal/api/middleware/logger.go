package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"recipe-matcher/internal/pkg/common"
)

// LogOptions 存取日誌設定
type LogOptions struct {
	// SlowThreshold 超過即以警告記錄；0 表示不判定慢請求
	SlowThreshold time.Duration
	// QuietPaths 探針與指標路徑，成功時降為 debug
	QuietPaths []string
}

// Logger 每個請求一行存取日誌，附上錯誤代碼與回應大小
func Logger(opts LogOptions) gin.HandlerFunc {
	quiet := make(map[string]struct{}, len(opts.QuietPaths))
	for _, p := range opts.QuietPaths {
		quiet[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("route", route),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", latency),
			zap.Int("bytes", c.Writer.Size()),
			zap.String("request_id", requestid.Get(c)),
		}
		if code := c.GetString(common.ErrorCodeKey); code != "" {
			fields = append(fields, zap.String("error_code", code))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", strings.Join(c.Errors.Errors(), "; ")))
		}

		slow := opts.SlowThreshold > 0 && latency >= opts.SlowThreshold
		switch {
		case status >= http.StatusInternalServerError:
			common.LogError("請求失敗", fields...)
		case status >= http.StatusBadRequest:
			common.LogWarn("請求被拒", fields...)
		case slow:
			common.LogWarn("慢請求", append(fields, zap.Duration("threshold", opts.SlowThreshold))...)
		default:
			if _, ok := quiet[path]; ok {
				common.LogDebug("請求完成", fields...)
				return
			}
			common.LogInfo("請求完成", fields...)
		}
	}
}

// Recovery panic 轉為 500，不讓連線直接中斷
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				common.LogError("處理請求時發生 panic",
					zap.Any("panic", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
					zap.String("request_id", requestid.Get(c)),
					zap.Stack("stack"),
				)
				_, resp := common.ToErrorResponse(common.ErrInternalError, false)
				c.Set(common.ErrorCodeKey, resp.Code)
				c.AbortWithStatusJSON(http.StatusInternalServerError, resp)
			}
		}()

		c.Next()
	}
}
