package models

import (
	"context"
	"fmt"

	"github.com/greentrace/carbon-backend/internal/pkg/database"
)

// AutoMigrate 迁移幂等记录表
func AutoMigrate(ctx context.Context, db *database.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(&IdempotencyRecord{}); err != nil {
		return fmt.Errorf("failed to migrate %T: %w", &IdempotencyRecord{}, err)
	}
	return nil
}
