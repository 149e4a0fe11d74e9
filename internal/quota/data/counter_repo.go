package data

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/greentrace/carbon-backend/internal/pkg/database"
	apperrors "github.com/greentrace/carbon-backend/internal/pkg/errors"
	"github.com/greentrace/carbon-backend/internal/quota/biz"
	"github.com/greentrace/carbon-backend/internal/quota/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CounterRepo 配额计数器仓储实现
type CounterRepo struct {
	db *database.DB
	tm *database.TransactionManager
}

// NewCounterRepo 创建配额计数器仓储
func NewCounterRepo(db *database.DB) biz.QuotaRepo {
	return &CounterRepo{db: db, tm: database.NewTransactionManager(db)}
}

// maxTxRetries 序列化/死锁冲突的整事务重试上限
const maxTxRetries = 3

// WithLockedCounters 在单个事务内锁定（或新建）全部窗口计数器后执行 fn
//
// 行按 entries 的固定顺序加锁，避免交叉加锁造成死锁；fn 返回 nil
// 时把 Consumed 的变更写回并提交，否则回滚，保证跨窗口的
// 全有或全无语义。
func (r *CounterRepo) WithLockedCounters(ctx context.Context, userID, dimension string, entries []biz.WindowEntry, fn func(counters []*biz.Counter) error) error {
	return r.tm.ExecuteWithRetry(ctx, maxTxRetries, func(ctx context.Context, tx *gorm.DB) error {
		pos := make([]*models.QuotaCounter, 0, len(entries))
		counters := make([]*biz.Counter, 0, len(entries))

		for _, e := range entries {
			po, err := lockOrCreate(tx, userID, dimension, e)
			if err != nil {
				return err
			}
			pos = append(pos, po)
			counters = append(counters, &biz.Counter{
				WindowKey: po.WindowKey,
				Consumed:  po.Consumed,
				Limit:     po.LimitValue,
			})
		}

		if err := fn(counters); err != nil {
			return err
		}

		now := time.Now().UTC()
		for i, po := range pos {
			if counters[i].Consumed == po.Consumed {
				continue
			}
			if err := tx.Model(&models.QuotaCounter{}).
				Where("id = ?", po.ID).
				Updates(map[string]interface{}{
					"consumed":   counters[i].Consumed,
					"updated_at": now,
				}).Error; err != nil {
				return wrapStorageErr(err)
			}
		}
		return nil
	})
}

// lockOrCreate 加锁读取计数器行，缺行则以零值新建后再锁
func lockOrCreate(tx *gorm.DB, userID, dimension string, e biz.WindowEntry) (*models.QuotaCounter, error) {
	for attempt := 0; attempt < 2; attempt++ {
		var po models.QuotaCounter
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND dimension = ? AND window_key = ?", userID, dimension, e.WindowKey).
			First(&po).Error
		if err == nil {
			return &po, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, wrapStorageErr(err)
		}

		now := time.Now().UTC()
		create := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.QuotaCounter{
			UserID:     userID,
			Dimension:  dimension,
			WindowKey:  e.WindowKey,
			Consumed:   0,
			LimitValue: e.Limit,
			WindowEnds: e.EndsAt,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		if create.Error != nil && !isUniqueViolation(create.Error) {
			return nil, wrapStorageErr(create.Error)
		}
		// 并发新建同一行时循环回去重新加锁读取
	}
	return nil, apperrors.New(apperrors.ErrInternalServer, "failed to lock quota counter "+e.WindowKey)
}

// Usage 只读查询，缺行视为 0
func (r *CounterRepo) Usage(ctx context.Context, userID, dimension, windowKey string) (int64, error) {
	var po models.QuotaCounter
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND dimension = ? AND window_key = ?", userID, dimension, windowKey).
		First(&po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, wrapStorageErr(err)
	}
	return po.Consumed, nil
}

// DeleteExpired 删除窗口已结束超过保留期的行
func (r *CounterRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("window_ends < ?", before).
		Delete(&models.QuotaCounter{})
	if result.Error != nil {
		return 0, wrapStorageErr(result.Error)
	}
	return result.RowsAffected, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "SQLSTATE 23505")
}

func wrapStorageErr(err error) error {
	return apperrors.Wrap(err, apperrors.ErrStorageTimeout)
}
