package store

import (
	"context"

	"go.uber.org/zap"

	"github.com/d60-Lab/localsync/internal/model"
	"github.com/d60-Lab/localsync/pkg/logger"
)

// Get 类型化读取
func Get[T any](ctx context.Context, s *Store, key Key) (T, bool) {
	var v T
	ok := s.Read(ctx, key, &v)
	return v, ok
}

// List 类型化列出分区；无法解码的记录被跳过
func List[T any](ctx context.Context, s *Store, c model.Collection, partition string) []T {
	return decodeAll[T](s, s.ListRecords(ctx, c, partition))
}

// Search List 之后在内存里过滤，O(n)
func Search[T any](ctx context.Context, s *Store, c model.Collection, partition string, pred func(T) bool) []T {
	all := List[T](ctx, s, c, partition)
	out := make([]T, 0, len(all))
	for _, v := range all {
		if pred(v) {
			out = append(out, v)
		}
	}
	return out
}

func decodeAll[T any](s *Store, records []Record) []T {
	out := make([]T, 0, len(records))
	for _, r := range records {
		var v T
		if err := s.codec.Unmarshal(r.Data, &v); err != nil {
			logger.Warn("store decode failed", zap.String("key", r.Key.String()), zap.Error(err))
			continue
		}
		out = append(out, v)
	}
	return out
}
