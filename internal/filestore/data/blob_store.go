package data

import (
	"context"
	"io"
	"time"

	"github.com/greentrace/carbon-backend/internal/filestore/biz"
	"github.com/greentrace/carbon-backend/internal/pkg/minio"
)

// BlobStore MinIO 对象存储适配
type BlobStore struct {
	client *minio.Client
}

// NewBlobStore 创建对象存储适配
func NewBlobStore(client *minio.Client) biz.BlobStore {
	return &BlobStore{client: client}
}

// Bucket returns the backing bucket name
func (s *BlobStore) Bucket() string {
	return s.client.Bucket()
}

// Exists 判断对象是否已存在
func (s *BlobStore) Exists(ctx context.Context, objectKey string) (bool, error) {
	_, err := s.client.StatObject(ctx, objectKey)
	if err != nil {
		if minio.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Put 上传对象
func (s *BlobStore) Put(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error {
	return s.client.PutObject(ctx, objectKey, reader, size, contentType)
}

// Remove 删除对象
func (s *BlobStore) Remove(ctx context.Context, objectKey string) error {
	return s.client.RemoveObject(ctx, objectKey)
}

// PresignedGetURL 生成临时下载链接
func (s *BlobStore) PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error) {
	return s.client.PresignedGetURL(ctx, objectKey, expiry)
}
