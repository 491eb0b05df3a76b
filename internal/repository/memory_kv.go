package repository

import (
	"context"
	"strings"
	"sync"
)

type memoryKVRepository struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryKVRepository 进程内后端（测试与临时会话）
func NewMemoryKVRepository() KVRepository {
	return &memoryKVRepository{data: make(map[string][]byte)}
}

func (r *memoryKVRepository) Get(_ context.Context, key string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (r *memoryKVRepository) Set(_ context.Context, key string, value []byte) error {
	r.mu.Lock()
	r.data[key] = append([]byte(nil), value...)
	r.mu.Unlock()
	return nil
}

func (r *memoryKVRepository) Remove(_ context.Context, key string) error {
	r.mu.Lock()
	delete(r.data, key)
	r.mu.Unlock()
	return nil
}

func (r *memoryKVRepository) MultiGet(_ context.Context, keys []string) ([][]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([][]byte, len(keys))
	for i, k := range keys {
		if v, ok := r.data[k]; ok {
			out[i] = append([]byte(nil), v...)
		}
	}
	return out, nil
}

func (r *memoryKVRepository) MultiSet(_ context.Context, pairs []KV) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range pairs {
		r.data[p.Key] = append([]byte(nil), p.Value...)
	}
	return nil
}

func (r *memoryKVRepository) MultiRemove(_ context.Context, keys []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range keys {
		delete(r.data, k)
	}
	return nil
}

func (r *memoryKVRepository) Keys(_ context.Context, prefix string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.data))
	for k := range r.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return sortedKeys(out), nil
}

func (r *memoryKVRepository) Close() error { return nil }
