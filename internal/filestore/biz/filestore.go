package biz

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"regexp"
	"strings"
	"time"

	apperrors "github.com/greentrace/carbon-backend/internal/pkg/errors"
	"github.com/greentrace/carbon-backend/internal/pkg/logger"
	"go.uber.org/zap"
)

// StoredFileRef 文件存储领域对象
type StoredFileRef struct {
	ID           string
	ContentHash  string
	Bucket       string
	ObjectKey    string
	ContentType  string
	Size         int64
	OriginalName string
	OwnerID      string
	RefCount     int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FileMetadata 上传文件的描述信息
type FileMetadata struct {
	ContentType  string
	OriginalName string
	OwnerID      string
}

// FileRepo 文件元数据仓储接口
//
// UpsertByHash 和 DecrementRef 内部必须以行锁串行化同一 hash 上的并发操作。
type FileRepo interface {
	// UpsertByHash 原子地"存在则引用计数+1，不存在则插入计数为1的新行"。
	// 返回最终行和是否新建。唯一约束冲突按"已存在"重试，不向上层报错。
	UpsertByHash(ctx context.Context, file *StoredFileRef) (*StoredFileRef, bool, error)

	// GetByID 按 ID 查询，未找到返回 ErrFileNotFound
	GetByID(ctx context.Context, id string) (*StoredFileRef, error)

	// GetByHash 按内容哈希查询，未找到返回 nil
	GetByHash(ctx context.Context, hash string) (*StoredFileRef, error)

	// DecrementRef 引用计数减一；归零时删除行并在同一事务内调用 onZero
	// 删除底层对象，onZero 失败则整体回滚。返回剩余计数。
	DecrementRef(ctx context.Context, id string, onZero func(ctx context.Context, f *StoredFileRef) error) (int, error)
}

// BlobStore 内容寻址的对象存储接口
type BlobStore interface {
	Bucket() string
	Exists(ctx context.Context, objectKey string) (bool, error)
	Put(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, objectKey string) error
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

// FileStoreUseCase 内容寻址去重存储用例
type FileStoreUseCase struct {
	repo   FileRepo
	blobs  BlobStore
	logger *logger.Logger
}

// NewFileStoreUseCase 创建文件去重存储用例
func NewFileStoreUseCase(repo FileRepo, blobs BlobStore, log *logger.Logger) *FileStoreUseCase {
	return &FileStoreUseCase{
		repo:   repo,
		blobs:  blobs,
		logger: log,
	}
}

// HashContent 计算内容的 SHA256 十六进制哈希
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ObjectKeyForHash 基于 hash 的物理路径: files/{hash[:2]}/{hash}
func ObjectKeyForHash(hash string) string {
	return "files/" + hash[:2] + "/" + hash
}

// Store 存储一段内容，字节相同的内容只保留一份
//
// 流程：先写对象（内容寻址，重复写入无害），再在单个事务内
// "查行并加锁 → 引用计数+1 或 插入新行"。两个并发上传相同内容
// 最终只会产生一行，计数为 2。
func (uc *FileStoreUseCase) Store(ctx context.Context, content []byte, meta FileMetadata) (*StoredFileRef, error) {
	hash := HashContent(content)
	objectKey := ObjectKeyForHash(hash)

	exists, err := uc.blobs.Exists(ctx, objectKey)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrStorageTimeout, "blob stat failed")
	}

	if !exists {
		// 对象先于元数据行落盘，写失败时不会留下孤儿行
		if err := uc.blobs.Put(ctx, objectKey, bytes.NewReader(content), int64(len(content)), meta.ContentType); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrFileStorageFailed, "blob write failed")
		}
	}

	ref, created, err := uc.repo.UpsertByHash(ctx, &StoredFileRef{
		ContentHash:  hash,
		Bucket:       uc.blobs.Bucket(),
		ObjectKey:    objectKey,
		ContentType:  meta.ContentType,
		Size:         int64(len(content)),
		OriginalName: meta.OriginalName,
		OwnerID:      meta.OwnerID,
	})
	if err != nil {
		return nil, err
	}

	if ref.ContentHash != hash || ref.ObjectKey != objectKey {
		// 行和内容对不上，去重不变量已被破坏
		return nil, apperrors.New(apperrors.ErrFileIntegrity, "stored row does not match content hash "+hash)
	}

	// 行落定后复查对象：上面的存在性检查和落行之间，并发的 Release
	// 可能刚好释放掉最后一个引用并删除了对象。此刻我们的行已提交、
	// 计数至少为 1，对象不会再被并发删除，补写一次即收敛。
	exists, err = uc.blobs.Exists(ctx, objectKey)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrStorageTimeout, "blob stat failed")
	}
	if !exists {
		uc.logger.WithContext(ctx).Warn("blob missing after row upsert, rewriting",
			zap.String("hash", hash),
		)
		if err := uc.blobs.Put(ctx, objectKey, bytes.NewReader(content), int64(len(content)), meta.ContentType); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrFileStorageFailed, "blob rewrite failed")
		}
	}

	uc.logger.WithContext(ctx).Debug("content stored",
		zap.String("hash", hash),
		zap.Bool("deduplicated", !created),
		zap.Int("ref_count", ref.RefCount),
	)
	return ref, nil
}

// Release 引用计数减一，归零时行和对象一并删除
func (uc *FileStoreUseCase) Release(ctx context.Context, id string) error {
	remaining, err := uc.repo.DecrementRef(ctx, id, func(ctx context.Context, f *StoredFileRef) error {
		if err := uc.blobs.Remove(ctx, f.ObjectKey); err != nil {
			return apperrors.Wrap(err, apperrors.ErrFileStorageFailed, "blob delete failed")
		}
		return nil
	})
	if err != nil {
		return err
	}

	uc.logger.WithContext(ctx).Debug("file released",
		zap.String("id", id),
		zap.Int("remaining_refs", remaining),
	)
	return nil
}

// Get 按 ID 查询文件引用
func (uc *FileStoreUseCase) Get(ctx context.Context, id string) (*StoredFileRef, error) {
	return uc.repo.GetByID(ctx, id)
}

// hashPattern SHA256 十六进制哈希的合法形态
var hashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// FindByHash 按内容哈希查询去重行，调用方可借此在上传前探测内容是否已存在
func (uc *FileStoreUseCase) FindByHash(ctx context.Context, hash string) (*StoredFileRef, error) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	if !hashPattern.MatchString(hash) {
		return nil, apperrors.New(apperrors.ErrFileInvalidHash, hash)
	}

	ref, err := uc.repo.GetByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, apperrors.New(apperrors.ErrFileNotFound, hash)
	}
	return ref, nil
}

// ResolveURL 生成对象的临时下载链接
func (uc *FileStoreUseCase) ResolveURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	url, err := uc.blobs.PresignedGetURL(ctx, objectKey, expiry)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrFileStorageFailed, "presign failed")
	}
	return url, nil
}
