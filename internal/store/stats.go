package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/d60-Lab/localsync/internal/model"
)

// Stats 存储概况（调试/自检用）
type Stats struct {
	Keys          int
	Bytes         uint64
	SchemaVersion int
	Collections   map[model.Collection]int
	Partitions    map[model.Collection]int
}

func (st Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "keys=%d size=%s schema=v%d\n", st.Keys, humanize.Bytes(st.Bytes), st.SchemaVersion)
	names := make([]string, 0, len(st.Collections))
	for c := range st.Collections {
		names = append(names, string(c))
	}
	sort.Strings(names)
	for _, n := range names {
		c := model.Collection(n)
		fmt.Fprintf(&b, "  %-16s records=%s partitions=%d\n", n, humanize.Comma(int64(st.Collections[c])), st.Partitions[c])
	}
	return b.String()
}

// Stats 遍历全部键统计数量与体积
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	keys, err := s.kv.Keys(ctx, "")
	if err != nil {
		return Stats{}, unavailable("keys", err)
	}
	vals, err := s.kv.MultiGet(ctx, keys)
	if err != nil {
		return Stats{}, unavailable("multi get", err)
	}
	st := Stats{
		Keys:        len(keys),
		Collections: map[model.Collection]int{},
		Partitions:  map[model.Collection]int{},
	}
	seen := map[string]struct{}{}
	for i, raw := range keys {
		st.Bytes += uint64(len(raw) + len(vals[i]))
		k, ok := ParseKey(raw)
		if !ok {
			continue
		}
		st.Collections[k.Collection]++
		p := string(k.Collection) + "\x00" + k.Partition
		if _, dup := seen[p]; !dup {
			seen[p] = struct{}{}
			st.Partitions[k.Collection]++
		}
	}
	if v, err := s.guard.stored(ctx); err == nil {
		st.SchemaVersion = v
	}
	return st, nil
}
