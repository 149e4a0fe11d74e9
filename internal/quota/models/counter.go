package models

import (
	"time"
)

// QuotaCounter 配额计数器模型
//
// 每个 (user_id, dimension, window_key) 一行；窗口翻转后新窗口
// 从零开始计数，旧行留待后台清扫，不做显式清零。
type QuotaCounter struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UserID     string    `gorm:"column:user_id;not null;uniqueIndex:idx_quota_counter_key" json:"user_id"`
	Dimension  string    `gorm:"column:dimension;not null;uniqueIndex:idx_quota_counter_key" json:"dimension"`
	WindowKey  string    `gorm:"column:window_key;not null;uniqueIndex:idx_quota_counter_key" json:"window_key"`
	Consumed   int64     `gorm:"column:consumed;not null;default:0" json:"consumed"`
	LimitValue int64     `gorm:"column:limit_value;not null" json:"limit_value"`
	WindowEnds time.Time `gorm:"column:window_ends;not null;index:idx_quota_counter_ends" json:"window_ends"`
	CreatedAt  time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName 指定表名
func (QuotaCounter) TableName() string {
	return "quota_counters"
}
