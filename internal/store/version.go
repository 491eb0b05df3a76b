package store

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/d60-Lab/localsync/internal/repository"
	"github.com/d60-Lab/localsync/pkg/logger"
)

const (
	// SchemaVersionKey 不落在任何集合前缀下，List 不会扫到
	SchemaVersionKey = "@meta:schema_version"

	CurrentSchemaVersion = 1
)

// Migration 版本升级步骤，按 Version 升序、每个存储生命周期最多执行一次
type Migration struct {
	Version int
	Name    string
	Apply   func(ctx context.Context, kv repository.KVRepository) error
}

type versionGuard struct {
	kv         repository.KVRepository
	target     int
	migrations []Migration

	done atomic.Bool
	mu   sync.Mutex
}

func newVersionGuard(kv repository.KVRepository, migrations []Migration) *versionGuard {
	ms := append([]Migration(nil), migrations...)
	sort.Slice(ms, func(i, j int) bool { return ms[i].Version < ms[j].Version })
	target := CurrentSchemaVersion
	if n := len(ms); n > 0 && ms[n-1].Version > target {
		target = ms[n-1].Version
	}
	return &versionGuard{kv: kv, target: target, migrations: ms}
}

// ensure 首次访问时打版本标记并执行未完成的迁移；失败时下次访问重试
func (g *versionGuard) ensure(ctx context.Context) error {
	if g.done.Load() {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done.Load() {
		return nil
	}

	stored, err := g.stored(ctx)
	if err != nil {
		return err
	}
	for _, m := range g.migrations {
		if m.Version <= stored || m.Version > g.target {
			continue
		}
		logger.Info("schema migration start", zap.Int("version", m.Version), zap.String("name", m.Name))
		if err := m.Apply(ctx, g.kv); err != nil {
			logger.Error("schema migration failed", zap.Int("version", m.Version), zap.Error(err))
			return err
		}
		if err := g.stamp(ctx, m.Version); err != nil {
			return err
		}
		stored = m.Version
	}
	if stored < g.target {
		if err := g.stamp(ctx, g.target); err != nil {
			return err
		}
	}
	g.done.Store(true)
	return nil
}

func (g *versionGuard) stored(ctx context.Context) (int, error) {
	raw, err := g.kv.Get(ctx, SchemaVersionKey)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, nil
	}
	return v, nil
}

func (g *versionGuard) stamp(ctx context.Context, v int) error {
	return g.kv.Set(ctx, SchemaVersionKey, []byte(strconv.Itoa(v)))
}
