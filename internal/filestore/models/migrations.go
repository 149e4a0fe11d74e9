package models

import (
	"context"
	"fmt"

	"github.com/greentrace/carbon-backend/internal/pkg/database"
)

// AutoMigrate 迁移文件存储表
//
// 唯一索引由模型标签声明，随建表一起创建，不做事后补丁。
func AutoMigrate(ctx context.Context, db *database.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(&StoredFile{}); err != nil {
		return fmt.Errorf("failed to migrate %T: %w", &StoredFile{}, err)
	}
	return nil
}
