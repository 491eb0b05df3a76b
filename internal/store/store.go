package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/d60-Lab/localsync/internal/model"
	"github.com/d60-Lab/localsync/internal/repository"
	"github.com/d60-Lab/localsync/pkg/logger"
)

// ErrStorageUnavailable 持久化原语本身失败（配额、序列化、平台错误）。
// 只有写路径返回该错误；读路径降级为空结果。
var ErrStorageUnavailable = errors.New("store: storage unavailable")

// Item 批量写入的一项
type Item struct {
	Key   Key
	Value any
}

// Record 原始记录
type Record struct {
	Key  Key
	Data []byte
}

// Store 分区 KV 存储：按 (collection, partition, itemId) 读写序列化记录，
// 同一键只保留最后一次写入。
type Store struct {
	kv    repository.KVRepository
	codec Codec
	guard *versionGuard
}

type Option func(*options)

type options struct {
	codec      Codec
	migrations []Migration
}

func WithCodec(c Codec) Option { return func(o *options) { o.codec = c } }

func WithMigrations(ms ...Migration) Option {
	return func(o *options) { o.migrations = append(o.migrations, ms...) }
}

func New(kv repository.KVRepository, opts ...Option) *Store {
	o := options{codec: JSONCodec()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store{kv: kv, codec: o.codec, guard: newVersionGuard(kv, o.migrations)}
}

// Codec 返回当前编码，供类型化读取使用
func (s *Store) Codec() Codec { return s.codec }

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}

// ensureForRead 读路径上版本标记失败只记录，不阻断
func (s *Store) ensureForRead(ctx context.Context) {
	if err := s.guard.ensure(ctx); err != nil {
		logger.Warn("schema version guard failed on read path", zap.Error(err))
	}
}

// Create 写入（覆盖已有值），不会因“已存在”失败
func (s *Store) Create(ctx context.Context, key Key, value any) error {
	if err := s.guard.ensure(ctx); err != nil {
		return unavailable("version guard", err)
	}
	data, err := s.codec.Marshal(value)
	if err != nil {
		return unavailable("marshal "+key.String(), err)
	}
	if err := s.kv.Set(ctx, key.String(), data); err != nil {
		return unavailable("set "+key.String(), err)
	}
	return nil
}

// Read 读取并解码到 out；不存在或存储出错都返回 false
func (s *Store) Read(ctx context.Context, key Key, out any) bool {
	s.ensureForRead(ctx)
	data, err := s.kv.Get(ctx, key.String())
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logger.Warn("store read degraded", zap.String("key", key.String()), zap.Error(err))
		}
		return false
	}
	if err := s.codec.Unmarshal(data, out); err != nil {
		logger.Warn("store decode failed", zap.String("key", key.String()), zap.Error(err))
		return false
	}
	return true
}

// Exists 键是否存在；存储错误视为不存在
func (s *Store) Exists(ctx context.Context, key Key) bool {
	s.ensureForRead(ctx)
	_, err := s.kv.Get(ctx, key.String())
	return err == nil
}

// Update 读出当前值，用 patch 做浅合并后写回。键不存在时什么也不做，返回 false。
func (s *Store) Update(ctx context.Context, key Key, patch map[string]any) (bool, error) {
	if err := s.guard.ensure(ctx); err != nil {
		return false, unavailable("version guard", err)
	}
	data, err := s.kv.Get(ctx, key.String())
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("get "+key.String(), err)
	}
	current := map[string]any{}
	if err := s.codec.Unmarshal(data, &current); err != nil {
		return false, unavailable("decode "+key.String(), err)
	}
	for k, v := range patch {
		current[k] = v
	}
	merged, err := s.codec.Marshal(current)
	if err != nil {
		return false, unavailable("marshal "+key.String(), err)
	}
	if err := s.kv.Set(ctx, key.String(), merged); err != nil {
		return false, unavailable("set "+key.String(), err)
	}
	return true, nil
}

// Delete 幂等删除
func (s *Store) Delete(ctx context.Context, key Key) error {
	if err := s.guard.ensure(ctx); err != nil {
		return unavailable("version guard", err)
	}
	if err := s.kv.Remove(ctx, key.String()); err != nil {
		return unavailable("remove "+key.String(), err)
	}
	return nil
}

// BatchCreate 一次底层批量写；跨键不保证原子性
func (s *Store) BatchCreate(ctx context.Context, items []Item) error {
	if err := s.guard.ensure(ctx); err != nil {
		return unavailable("version guard", err)
	}
	pairs := make([]repository.KV, 0, len(items))
	for _, it := range items {
		data, err := s.codec.Marshal(it.Value)
		if err != nil {
			return unavailable("marshal "+it.Key.String(), err)
		}
		pairs = append(pairs, repository.KV{Key: it.Key.String(), Value: data})
	}
	if err := s.kv.MultiSet(ctx, pairs); err != nil {
		return unavailable("multi set", err)
	}
	return nil
}

func (s *Store) BatchDelete(ctx context.Context, keys []Key) error {
	if err := s.guard.ensure(ctx); err != nil {
		return unavailable("version guard", err)
	}
	raw := make([]string, len(keys))
	for i, k := range keys {
		raw[i] = k.String()
	}
	if err := s.kv.MultiRemove(ctx, raw); err != nil {
		return unavailable("multi remove", err)
	}
	return nil
}

// ListRecords 列出 (collection, partition) 下的全部记录。
// 全部记录都带 timestamp 时按时间倒序，否则保持键序。
func (s *Store) ListRecords(ctx context.Context, c model.Collection, partition string) []Record {
	return s.scan(ctx, partitionPrefix(c, partition))
}

// ListCollection 跨所有分区列出某集合的记录
func (s *Store) ListCollection(ctx context.Context, c model.Collection) []Record {
	return s.scan(ctx, collectionPrefix(c))
}

func (s *Store) scan(ctx context.Context, prefix string) []Record {
	s.ensureForRead(ctx)
	keys, err := s.kv.Keys(ctx, prefix)
	if err != nil {
		logger.Warn("store list degraded", zap.String("prefix", prefix), zap.Error(err))
		return nil
	}
	if len(keys) == 0 {
		return nil
	}
	vals, err := s.kv.MultiGet(ctx, keys)
	if err != nil {
		logger.Warn("store list degraded", zap.String("prefix", prefix), zap.Error(err))
		return nil
	}

	records := make([]Record, 0, len(keys))
	stamps := make([]int64, 0, len(keys))
	allStamped := true
	for i, raw := range keys {
		if vals[i] == nil {
			continue
		}
		key, ok := ParseKey(raw)
		if !ok {
			continue
		}
		records = append(records, Record{Key: key, Data: vals[i]})
		var stamped struct {
			Timestamp *int64 `json:"timestamp"`
		}
		if err := s.codec.Unmarshal(vals[i], &stamped); err != nil || stamped.Timestamp == nil {
			allStamped = false
			stamps = append(stamps, 0)
			continue
		}
		stamps = append(stamps, *stamped.Timestamp)
	}

	if allStamped {
		idx := make([]int, len(records))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool { return stamps[idx[a]] > stamps[idx[b]] })
		sorted := make([]Record, len(records))
		for i, j := range idx {
			sorted[i] = records[j]
		}
		records = sorted
	}
	return records
}

// ItemIDs 分区内全部 itemId。与 List 不同，存储错误会返回给调用方，
// 供“缺失即删除”这类不能把错误当成空结果的场景使用。
func (s *Store) ItemIDs(ctx context.Context, c model.Collection, partition string) ([]string, error) {
	s.ensureForRead(ctx)
	keys, err := s.kv.Keys(ctx, partitionPrefix(c, partition))
	if err != nil {
		return nil, unavailable("keys", err)
	}
	ids := make([]string, 0, len(keys))
	for _, raw := range keys {
		if k, ok := ParseKey(raw); ok {
			ids = append(ids, k.ItemID)
		}
	}
	return ids, nil
}

// ClearPartition 删除 (collection, partition) 下全部记录，返回删除条数
func (s *Store) ClearPartition(ctx context.Context, c model.Collection, partition string) (int, error) {
	if err := s.guard.ensure(ctx); err != nil {
		return 0, unavailable("version guard", err)
	}
	keys, err := s.kv.Keys(ctx, partitionPrefix(c, partition))
	if err != nil {
		return 0, unavailable("keys", err)
	}
	if err := s.kv.MultiRemove(ctx, keys); err != nil {
		return 0, unavailable("multi remove", err)
	}
	return len(keys), nil
}

// SchemaVersion 当前落盘的 schema 版本（0 表示尚未打标记）
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	return s.guard.stored(ctx)
}
