package data

import (
	"context"
	"errors"
	"time"

	"github.com/greentrace/carbon-backend/internal/idempotency/biz"
	"github.com/greentrace/carbon-backend/internal/idempotency/models"
	"github.com/greentrace/carbon-backend/internal/pkg/database"
	apperrors "github.com/greentrace/carbon-backend/internal/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RecordRepo 幂等记录仓储实现
type RecordRepo struct {
	db *database.DB
}

// NewRecordRepo 创建幂等记录仓储
func NewRecordRepo(db *database.DB) biz.RecordRepo {
	return &RecordRepo{db: db}
}

// Reserve 依赖 (scope, request_key) 唯一约束原子占坑
//
// OnConflict DoNothing 插入零行时说明记录已存在，回读现存记录
// 返回给调用方判定回放或冲突。
func (r *RecordRepo) Reserve(ctx context.Context, rec *biz.Record) (bool, *biz.Record, error) {
	po := toPO(rec)

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(po)
	if result.Error != nil {
		return false, nil, wrapStorageErr(result.Error)
	}
	if result.RowsAffected > 0 {
		return true, nil, nil
	}

	var existing models.IdempotencyRecord
	err := r.db.WithContext(ctx).
		Where("scope = ? AND request_key = ?", rec.Scope, rec.RequestKey).
		First(&existing).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 插入与回读之间记录被清掉，交给调用方重试占坑
			return false, nil, apperrors.New(apperrors.ErrStorageTimeout, "record vanished between insert and read")
		}
		return false, nil, wrapStorageErr(err)
	}
	return false, toDomain(&existing), nil
}

// Complete 把执行结果写入记录并推进到 completed
func (r *RecordRepo) Complete(ctx context.Context, id string, statusCode int, body []byte, headersJSON string) error {
	result := r.db.WithContext(ctx).
		Model(&models.IdempotencyRecord{}).
		Where("id = ? AND state = ?", id, biz.StateInProgress).
		Updates(map[string]interface{}{
			"state":            biz.StateCompleted,
			"status_code":      statusCode,
			"response_body":    body,
			"response_headers": headersJSON,
		})
	if result.Error != nil {
		return wrapStorageErr(result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.New(apperrors.ErrIdemRecordBroken, "record missing or not in progress")
	}
	return nil
}

// Delete 整行删除，(scope, key) 回到"不存在"
func (r *RecordRepo) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.IdempotencyRecord{}).Error
	if err != nil {
		return wrapStorageErr(err)
	}
	return nil
}

// DeleteExpired 清理过期完成记录与执行超时的 in_progress 残留
func (r *RecordRepo) DeleteExpired(ctx context.Context, now time.Time, execTimeout time.Duration) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("(state = ? AND expires_at < ?) OR (state = ? AND created_at < ?)",
			biz.StateCompleted, now,
			biz.StateInProgress, now.Add(-execTimeout)).
		Delete(&models.IdempotencyRecord{})
	if result.Error != nil {
		return 0, wrapStorageErr(result.Error)
	}
	return result.RowsAffected, nil
}

func toPO(rec *biz.Record) *models.IdempotencyRecord {
	return &models.IdempotencyRecord{
		ID:              rec.ID,
		Scope:           rec.Scope,
		RequestKey:      rec.RequestKey,
		State:           rec.State,
		StatusCode:      rec.StatusCode,
		ResponseBody:    rec.ResponseBody,
		ResponseHeaders: rec.ResponseHeaders,
		CreatedAt:       rec.CreatedAt,
		ExpiresAt:       rec.ExpiresAt,
	}
}

func toDomain(po *models.IdempotencyRecord) *biz.Record {
	return &biz.Record{
		ID:              po.ID,
		Scope:           po.Scope,
		RequestKey:      po.RequestKey,
		State:           po.State,
		StatusCode:      po.StatusCode,
		ResponseBody:    po.ResponseBody,
		ResponseHeaders: po.ResponseHeaders,
		CreatedAt:       po.CreatedAt,
		ExpiresAt:       po.ExpiresAt,
	}
}

func wrapStorageErr(err error) error {
	return apperrors.Wrap(err, apperrors.ErrStorageTimeout)
}
