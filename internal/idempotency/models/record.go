package models

import (
	"time"
)

// IdempotencyRecord 幂等请求记录模型
//
// (scope, request_key) 唯一；状态只会 in_progress → completed 单向
// 推进，处理失败时整行删除回到"不存在"。
type IdempotencyRecord struct {
	ID              string    `gorm:"column:id;primaryKey;type:uuid" json:"id"`
	Scope           string    `gorm:"column:scope;not null;uniqueIndex:idx_idem_scope_key" json:"scope"`
	RequestKey      string    `gorm:"column:request_key;not null;uniqueIndex:idx_idem_scope_key" json:"request_key"`
	State           string    `gorm:"column:state;not null" json:"state"`
	StatusCode      int       `gorm:"column:status_code" json:"status_code"`
	ResponseBody    []byte    `gorm:"column:response_body" json:"response_body"`
	ResponseHeaders string    `gorm:"column:response_headers" json:"response_headers"`
	CreatedAt       time.Time `gorm:"column:created_at;not null" json:"created_at"`
	ExpiresAt       time.Time `gorm:"column:expires_at;not null;index:idx_idem_expires" json:"expires_at"`
}

// TableName 指定表名
func (IdempotencyRecord) TableName() string {
	return "idempotency_records"
}
