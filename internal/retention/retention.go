package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"

	"github.com/d60-Lab/localsync/config"
	"github.com/d60-Lab/localsync/internal/model"
	"github.com/d60-Lab/localsync/internal/store"
	"github.com/d60-Lab/localsync/pkg/logger"
	"github.com/d60-Lab/localsync/pkg/metrics"
)

const defaultCron = "0 3 * * *"

// Manager 按 cron 定期清理已读且过期的通知
type Manager struct {
	store  *store.Store
	cron   string
	maxAge time.Duration
	now    func() time.Time

	mu      sync.Mutex
	running bool
}

func NewManager(s *store.Store, cfg config.RetentionConfig) (*Manager, error) {
	cron := cfg.Cron
	if cron == "" {
		cron = defaultCron
	}
	if !gronx.IsValid(cron) {
		return nil, fmt.Errorf("invalid retention cron expression: %s", cron)
	}
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("retention max age must be positive, got %s", cfg.MaxAge)
	}
	return &Manager{store: s, cron: cron, maxAge: cfg.MaxAge, now: time.Now}, nil
}

// Start 启动调度循环，返回取消函数
func (m *Manager) Start(ctx context.Context) context.CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	logger.Info("retention enabled", zap.String("cron", m.cron), zap.Duration("max_age", m.maxAge))
	go m.scheduleLoop(ctx)
	return cancel
}

func (m *Manager) scheduleLoop(ctx context.Context) {
	for {
		next, err := gronx.NextTickAfter(m.cron, m.now(), false)
		if err != nil {
			logger.Error("retention next tick failed", zap.String("cron", m.cron), zap.Error(err))
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			m.runJob(ctx)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(wait):
			m.runJob(ctx)
		case <-ctx.Done():
			logger.Info("retention scheduler stopping")
			return
		}
	}
}

// runJob 上一次还没跑完时直接跳过
func (m *Manager) runJob(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	if _, err := m.RunOnce(ctx); err != nil {
		logger.Error("retention run failed", zap.Error(err))
	}
}

// RunOnce 删除所有分区里已读且早于 maxAge 的通知，返回删除条数
func (m *Manager) RunOnce(ctx context.Context) (int, error) {
	cutoff := m.now().Add(-m.maxAge).UnixMilli()
	records := m.store.ListCollection(ctx, model.CollectionNotifications)

	var expired []store.Key
	for _, r := range records {
		var n model.Notification
		if err := m.store.Codec().Unmarshal(r.Data, &n); err != nil {
			continue
		}
		if n.Read && n.Timestamp > 0 && n.Timestamp < cutoff {
			expired = append(expired, r.Key)
		}
	}
	logger.Info("retention scan done", zap.Int("scanned", len(records)), zap.Int("expired", len(expired)))
	if len(expired) == 0 {
		return 0, nil
	}
	if err := m.store.BatchDelete(ctx, expired); err != nil {
		return 0, err
	}
	metrics.RetentionPurged.Add(float64(len(expired)))
	return len(expired), nil
}
