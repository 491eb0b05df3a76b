package model

import "time"

// KVEntry SQL 后端下的一条 KV 记录
type KVEntry struct {
	Key       string `gorm:"column:kv_key;primaryKey;type:varchar(512)"`
	Value     []byte `gorm:"column:kv_value;not null"`
	UpdatedAt time.Time
}

func (KVEntry) TableName() string { return "kv_entries" }
