package database

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"recipe-matcher/internal/core/store"
	"recipe-matcher/internal/pkg/common"
)

// 支援的存儲驅動
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Open 依驅動名稱建立存儲
func Open(ctx context.Context, driver string, opts Options) (store.Store, error) {
	switch strings.ToLower(driver) {
	case DriverMemory, "":
		common.LogWarn("使用記憶體存儲，重啟後資料不會保留")
		return store.NewMemoryStore(), nil
	case DriverPostgres:
		s, err := NewPostgresStore(ctx, opts)
		if err != nil {
			return nil, err
		}
		common.LogInfo("PostgreSQL 存儲已就緒", zap.Bool("auto_migrate", opts.AutoMigrate))
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}
