package repository

import (
	"context"
	"errors"

	"github.com/cockroachdb/pebble"
)

type pebbleKVRepository struct {
	db   *pebble.DB
	sync bool
}

// OpenPebble 打开（或创建）本地 pebble 目录
func OpenPebble(path string, syncWrites bool) (KVRepository, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return NewPebbleKVRepository(db, syncWrites), nil
}

// NewPebbleKVRepository syncWrites 为 true 时每次写入都 fsync
func NewPebbleKVRepository(db *pebble.DB, syncWrites bool) KVRepository {
	return &pebbleKVRepository{db: db, sync: syncWrites}
}

func (r *pebbleKVRepository) writeOpts() *pebble.WriteOptions {
	if r.sync {
		return pebble.Sync
	}
	return pebble.NoSync
}

func (r *pebbleKVRepository) Get(_ context.Context, key string) ([]byte, error) {
	v, closer, err := r.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

func (r *pebbleKVRepository) Set(_ context.Context, key string, value []byte) error {
	return r.db.Set([]byte(key), value, r.writeOpts())
}

func (r *pebbleKVRepository) Remove(_ context.Context, key string) error {
	return r.db.Delete([]byte(key), r.writeOpts())
}

func (r *pebbleKVRepository) MultiGet(ctx context.Context, keys []string) ([][]byte, error) {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		v, err := r.Get(ctx, k)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (r *pebbleKVRepository) MultiSet(_ context.Context, pairs []KV) error {
	if len(pairs) == 0 {
		return nil
	}
	batch := r.db.NewBatch()
	defer batch.Close()
	for _, p := range pairs {
		if err := batch.Set([]byte(p.Key), p.Value, nil); err != nil {
			return err
		}
	}
	return batch.Commit(r.writeOpts())
}

func (r *pebbleKVRepository) MultiRemove(_ context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	batch := r.db.NewBatch()
	defer batch.Close()
	for _, k := range keys {
		if err := batch.Delete([]byte(k), nil); err != nil {
			return err
		}
	}
	return batch.Commit(r.writeOpts())
}

func (r *pebbleKVRepository) Keys(_ context.Context, prefix string) ([]string, error) {
	opts := &pebble.IterOptions{}
	if prefix != "" {
		opts.LowerBound = []byte(prefix)
		opts.UpperBound = prefixUpperBound([]byte(prefix))
	}
	iter, err := r.db.NewIter(opts)
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for iter.First(); iter.Valid(); iter.Next() {
		out = append(out, string(iter.Key()))
	}
	return out, iter.Error()
}

func (r *pebbleKVRepository) Close() error { return r.db.Close() }

// prefixUpperBound 返回大于所有以 prefix 开头的键的最小键
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
