package models

import (
	"context"
	"fmt"

	"github.com/greentrace/carbon-backend/internal/pkg/database"
)

// AutoMigrate 迁移配额计数器表
func AutoMigrate(ctx context.Context, db *database.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(&QuotaCounter{}); err != nil {
		return fmt.Errorf("failed to migrate %T: %w", &QuotaCounter{}, err)
	}
	return nil
}
