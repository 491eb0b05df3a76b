package repository

import (
	"context"
	"errors"
	"sort"
)

var ErrNotFound = errors.New("kv: key not found")

// KV 一对键值
type KV struct {
	Key   string
	Value []byte
}

// KVRepository 持久化 KV 原语，是分区存储唯一的落地后端。
// MultiGet 对不存在的键返回 nil 槽位；Keys("") 列出全部键。
type KVRepository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	MultiGet(ctx context.Context, keys []string) ([][]byte, error)
	MultiSet(ctx context.Context, pairs []KV) error
	MultiRemove(ctx context.Context, keys []string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

func sortedKeys(keys []string) []string {
	sort.Strings(keys)
	return keys
}
