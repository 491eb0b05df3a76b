package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
)

const scanCount = 500

type redisKVRepository struct {
	client *redis.Client
	ns     string
}

// NewRedisKVRepository 以 namespace 作为键前缀，避免与其他业务共用实例时冲突
func NewRedisKVRepository(client *redis.Client, namespace string) KVRepository {
	ns := ""
	if namespace != "" {
		ns = namespace + ":"
	}
	return &redisKVRepository{client: client, ns: ns}
}

func (r *redisKVRepository) key(k string) string { return r.ns + k }

func (r *redisKVRepository) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return v, err
}

func (r *redisKVRepository) Set(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, r.key(key), value, 0).Err()
}

func (r *redisKVRepository) Remove(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

func (r *redisKVRepository) MultiGet(ctx context.Context, keys []string) ([][]byte, error) {
	out := make([][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	vals, err := r.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[i] = []byte(s)
		}
	}
	return out, nil
}

// MultiSet 用 pipeline 一次往返写入，不保证原子性
func (r *redisKVRepository) MultiSet(ctx context.Context, pairs []KV) error {
	if len(pairs) == 0 {
		return nil
	}
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range pairs {
			pipe.Set(ctx, r.key(p.Key), p.Value, 0)
		}
		return nil
	})
	return err
}

func (r *redisKVRepository) MultiRemove(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	return r.client.Del(ctx, full...).Err()
}

func (r *redisKVRepository) Keys(ctx context.Context, prefix string) ([]string, error) {
	match := escapeGlob(r.ns+prefix) + "*"
	var (
		cursor uint64
		out    []string
	)
	for {
		batch, next, err := r.client.Scan(ctx, cursor, match, scanCount).Result()
		if err != nil {
			return nil, err
		}
		for _, k := range batch {
			out = append(out, strings.TrimPrefix(k, r.ns))
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	return sortedKeys(out), nil
}

func (r *redisKVRepository) Close() error { return r.client.Close() }

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string { return globReplacer.Replace(s) }
