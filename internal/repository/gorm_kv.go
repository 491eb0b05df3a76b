package repository

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/localsync/internal/model"
)

type gormKVRepository struct{ db *gorm.DB }

// NewGormKVRepository sqlite / postgres 后端，表 kv_entries
func NewGormKVRepository(db *gorm.DB) KVRepository { return &gormKVRepository{db: db} }

func (r *gormKVRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var e model.KVEntry
	err := r.db.WithContext(ctx).Where("kv_key = ?", key).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e.Value, nil
}

func (r *gormKVRepository) Set(ctx context.Context, key string, value []byte) error {
	return r.MultiSet(ctx, []KV{{Key: key, Value: value}})
}

func (r *gormKVRepository) Remove(ctx context.Context, key string) error {
	return r.db.WithContext(ctx).Where("kv_key = ?", key).Delete(&model.KVEntry{}).Error
}

func (r *gormKVRepository) MultiGet(ctx context.Context, keys []string) ([][]byte, error) {
	out := make([][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	var rows []model.KVEntry
	if err := r.db.WithContext(ctx).Where("kv_key IN ?", keys).Find(&rows).Error; err != nil {
		return nil, err
	}
	byKey := make(map[string][]byte, len(rows))
	for _, row := range rows {
		byKey[row.Key] = row.Value
	}
	for i, k := range keys {
		out[i] = byKey[k]
	}
	return out, nil
}

// MultiSet upsert；同一批次内重复键以最后一个为准
func (r *gormKVRepository) MultiSet(ctx context.Context, pairs []KV) error {
	if len(pairs) == 0 {
		return nil
	}
	now := time.Now()
	idx := make(map[string]int, len(pairs))
	rows := make([]model.KVEntry, 0, len(pairs))
	for _, p := range pairs {
		if i, ok := idx[p.Key]; ok {
			rows[i].Value = p.Value
			continue
		}
		idx[p.Key] = len(rows)
		rows = append(rows, model.KVEntry{Key: p.Key, Value: p.Value, UpdatedAt: now})
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kv_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"kv_value", "updated_at"}),
	}).Create(&rows).Error
}

func (r *gormKVRepository) MultiRemove(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Where("kv_key IN ?", keys).Delete(&model.KVEntry{}).Error
}

// Keys 前缀匹配不用 LIKE：sqlite 的 LIKE 对 ASCII 大小写不敏感
func (r *gormKVRepository) Keys(ctx context.Context, prefix string) ([]string, error) {
	q := r.db.WithContext(ctx).Model(&model.KVEntry{})
	if prefix != "" {
		q = q.Where("substr(kv_key, 1, ?) = ?", utf8.RuneCountInString(prefix), prefix)
	}
	var keys []string
	if err := q.Order("kv_key").Pluck("kv_key", &keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *gormKVRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
