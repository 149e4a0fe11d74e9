package data

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/greentrace/carbon-backend/internal/filestore/biz"
	"github.com/greentrace/carbon-backend/internal/filestore/models"
	"github.com/greentrace/carbon-backend/internal/pkg/database"
	apperrors "github.com/greentrace/carbon-backend/internal/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FileRepo 文件元数据仓储实现
type FileRepo struct {
	db *database.DB
	tm *database.TransactionManager
}

// NewFileRepo 创建文件元数据仓储
func NewFileRepo(db *database.DB) biz.FileRepo {
	return &FileRepo{db: db, tm: database.NewTransactionManager(db)}
}

// maxTxRetries 序列化/死锁冲突的整事务重试上限
const maxTxRetries = 3

// UpsertByHash 原子地增加引用计数或插入新行
//
// 同一 hash 上的并发调用通过 SELECT ... FOR UPDATE 串行化。
// 锁定检查和插入之间的竞争窗口用 DO NOTHING 插入兜底：唯一冲突
// 不会中止事务，零行受影响时循环回去加锁读取对方刚提交的行。
func (r *FileRepo) UpsertByHash(ctx context.Context, file *biz.StoredFileRef) (*biz.StoredFileRef, bool, error) {
	var result *biz.StoredFileRef
	var created bool

	err := r.tm.ExecuteWithRetry(ctx, maxTxRetries, func(ctx context.Context, tx *gorm.DB) error {
		for attempt := 0; attempt < 2; attempt++ {
			existing, err := lockByHash(tx, file.ContentHash)
			if err != nil {
				return err
			}

			if existing != nil {
				if err := incrementLocked(tx, existing); err != nil {
					return err
				}
				result = toDomain(existing)
				created = false
				return nil
			}

			po := &models.StoredFile{
				ID:           uuid.NewString(),
				ContentHash:  file.ContentHash,
				Bucket:       file.Bucket,
				ObjectKey:    file.ObjectKey,
				ContentType:  file.ContentType,
				Size:         file.Size,
				OriginalName: file.OriginalName,
				OwnerID:      file.OwnerID,
				RefCount:     1,
				CreatedAt:    time.Now().UTC(),
				UpdatedAt:    time.Now().UTC(),
			}

			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(po)
			if res.Error != nil {
				return wrapStorageErr(res.Error)
			}
			if res.RowsAffected > 0 {
				result = toDomain(po)
				created = true
				return nil
			}
			// 良性竞争：另一个事务刚插入了同一 hash，回去加锁读取
		}
		return apperrors.New(apperrors.ErrFileIntegrity, "failed to lock row for hash "+file.ContentHash)
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

// GetByID 按 ID 查询
func (r *FileRepo) GetByID(ctx context.Context, id string) (*biz.StoredFileRef, error) {
	var po models.StoredFile
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.New(apperrors.ErrFileNotFound, id)
		}
		return nil, wrapStorageErr(err)
	}
	return toDomain(&po), nil
}

// GetByHash 按内容哈希查询，未找到返回 nil
func (r *FileRepo) GetByHash(ctx context.Context, hash string) (*biz.StoredFileRef, error) {
	var po models.StoredFile
	if err := r.db.WithContext(ctx).Where("content_hash = ?", hash).First(&po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, wrapStorageErr(err)
	}
	return toDomain(&po), nil
}

// DecrementRef 引用计数减一，归零时删除行并回调删除对象
//
// 与 UpsertByHash 持相同的行锁纪律，减到零的删除不会与并发的
// 再次上传交错。
func (r *FileRepo) DecrementRef(ctx context.Context, id string, onZero func(ctx context.Context, f *biz.StoredFileRef) error) (int, error) {
	var remaining int

	err := r.tm.ExecuteWithRetry(ctx, maxTxRetries, func(ctx context.Context, tx *gorm.DB) error {
		var po models.StoredFile
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&po).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperrors.New(apperrors.ErrFileNotFound, id)
			}
			return wrapStorageErr(err)
		}

		if po.RefCount <= 0 {
			return apperrors.New(apperrors.ErrFileRefUnderflow, "ref_count already at zero for "+id)
		}

		po.RefCount--
		remaining = po.RefCount

		if po.RefCount == 0 {
			if err := tx.Delete(&models.StoredFile{}, "id = ?", id).Error; err != nil {
				return wrapStorageErr(err)
			}
			return onZero(ctx, toDomain(&po))
		}

		if err := tx.Model(&models.StoredFile{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"ref_count":  po.RefCount,
				"updated_at": time.Now().UTC(),
			}).Error; err != nil {
			return wrapStorageErr(err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

func lockByHash(tx *gorm.DB, hash string) (*models.StoredFile, error) {
	var po models.StoredFile
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("content_hash = ?", hash).
		First(&po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, wrapStorageErr(err)
	}
	return &po, nil
}

func incrementLocked(tx *gorm.DB, po *models.StoredFile) error {
	po.RefCount++
	po.UpdatedAt = time.Now().UTC()
	if err := tx.Model(&models.StoredFile{}).
		Where("id = ?", po.ID).
		Updates(map[string]interface{}{
			"ref_count":  po.RefCount,
			"updated_at": po.UpdatedAt,
		}).Error; err != nil {
		return wrapStorageErr(err)
	}
	return nil
}

func toDomain(po *models.StoredFile) *biz.StoredFileRef {
	return &biz.StoredFileRef{
		ID:           po.ID,
		ContentHash:  po.ContentHash,
		Bucket:       po.Bucket,
		ObjectKey:    po.ObjectKey,
		ContentType:  po.ContentType,
		Size:         po.Size,
		OriginalName: po.OriginalName,
		OwnerID:      po.OwnerID,
		RefCount:     po.RefCount,
		CreatedAt:    po.CreatedAt,
		UpdatedAt:    po.UpdatedAt,
	}
}

func wrapStorageErr(err error) error {
	return apperrors.Wrap(err, apperrors.ErrStorageTimeout)
}
