package models

import (
	"time"
)

// StoredFile 文件物理存储模型（内容寻址去重存储）
//
// content_hash 的唯一约束在建表时创建，是并发去重的最终防线。
type StoredFile struct {
	ID           string    `gorm:"column:id;primaryKey;type:uuid" json:"id"`
	ContentHash  string    `gorm:"column:content_hash;not null;uniqueIndex:idx_stored_files_hash" json:"content_hash"`
	Bucket       string    `gorm:"column:bucket;not null" json:"bucket"`
	ObjectKey    string    `gorm:"column:object_key;not null;uniqueIndex:idx_stored_files_object_key" json:"object_key"`
	ContentType  string    `gorm:"column:content_type" json:"content_type"`
	Size         int64     `gorm:"column:size;not null" json:"size"`
	OriginalName string    `gorm:"column:original_name" json:"original_name"`
	OwnerID      string    `gorm:"column:owner_id;index:idx_stored_files_owner" json:"owner_id"`
	RefCount     int       `gorm:"column:ref_count;not null;default:1" json:"ref_count"`
	CreatedAt    time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName 指定表名
func (StoredFile) TableName() string {
	return "stored_files"
}
