package notification

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/localsync/internal/model"
	"github.com/d60-Lab/localsync/internal/subscription"
	"github.com/d60-Lab/localsync/pkg/logger"
	"github.com/d60-Lab/localsync/pkg/metrics"
)

const DefaultSeenPruneThreshold = 500

// Listener 全局通知监听：同一时刻只有一个活动会话。
// 已提醒过的 id 进入 SeenSet，之后无论 read 如何变化都不再提醒。
type Listener struct {
	pipeline       *Pipeline
	alerter        Alerter
	scheduler      subscription.Scheduler
	interval       time.Duration
	pruneThreshold int

	mu      sync.Mutex
	current *listenSession
}

type listenSession struct {
	userID   string
	cancel   func()
	inflight atomic.Bool

	mu      sync.Mutex
	stopped bool
	seeded  bool
	seen    map[string]struct{}
}

type ListenerOption func(*Listener)

func WithListenerPolling(sched subscription.Scheduler, interval time.Duration) ListenerOption {
	return func(l *Listener) {
		l.scheduler = sched
		if interval > 0 {
			l.interval = interval
		}
	}
}

// WithPruneThreshold SeenSet 超过该大小时清理已不在存储中的 id
func WithPruneThreshold(n int) ListenerOption {
	return func(l *Listener) {
		if n > 0 {
			l.pruneThreshold = n
		}
	}
}

func NewListener(p *Pipeline, alerter Alerter, opts ...ListenerOption) *Listener {
	if alerter == nil {
		alerter = NopAlerter{}
	}
	l := &Listener{
		pipeline:       p,
		alerter:        alerter,
		interval:       DefaultPollInterval,
		pruneThreshold: DefaultSeenPruneThreshold,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.scheduler == nil {
		l.scheduler = subscription.TickerScheduler{}
	}
	return l
}

// Start 先停掉已有会话，再用现有通知的 id 预填 SeenSet（历史通知不提醒），然后开始轮询
func (l *Listener) Start(ctx context.Context, userID string) (stop func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.current != nil {
		l.stopSession(l.current)
	}

	sess := &listenSession{userID: userID, seen: map[string]struct{}{}}
	seeded := l.seed(ctx, sess)
	sess.cancel = l.scheduler.Every(l.interval, func() { l.tick(sess) })
	l.current = sess
	logger.Info("notification listener started", zap.String("user", userID), zap.Bool("seeded", seeded))

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.stopSession(sess)
		})
	}
}

// stopSession 调用方持有 l.mu
func (l *Listener) stopSession(sess *listenSession) {
	sess.mu.Lock()
	already := sess.stopped
	sess.stopped = true
	sess.mu.Unlock()
	if already {
		return
	}
	sess.cancel()
	if l.current == sess {
		l.current = nil
	}
	logger.Info("notification listener stopped", zap.String("user", sess.userID))
}

// Stop 停止当前会话（如有）
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current != nil {
		l.stopSession(l.current)
	}
}

// Active 当前监听的用户
func (l *Listener) Active() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return "", false
	}
	return l.current.userID, true
}

// SeenCount 当前会话 SeenSet 的大小
func (l *Listener) SeenCount() int {
	l.mu.Lock()
	sess := l.current
	l.mu.Unlock()
	if sess == nil {
		return 0
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return len(sess.seen)
}

func (l *Listener) tick(sess *listenSession) {
	if !sess.inflight.CompareAndSwap(false, true) {
		metrics.PollTicks.WithLabelValues("notification_listener", "skipped").Inc()
		return
	}
	defer sess.inflight.Store(false)
	defer func() {
		if p := recover(); p != nil {
			metrics.PollTicks.WithLabelValues("notification_listener", "error").Inc()
			logger.Error("notification listener tick panicked", zap.String("user", sess.userID), zap.Any("panic", p))
		}
	}()

	ctx := context.Background()
	sess.mu.Lock()
	seeded := sess.seeded
	sess.mu.Unlock()
	// 预填失败时先补预填，这一轮不提醒
	if !seeded {
		if l.seed(ctx, sess) {
			metrics.PollTicks.WithLabelValues("notification_listener", "ok").Inc()
		} else {
			metrics.PollTicks.WithLabelValues("notification_listener", "error").Inc()
		}
		return
	}
	current := l.pipeline.GetNotifications(ctx, sess.userID)

	var fresh []model.Notification
	sess.mu.Lock()
	if sess.stopped {
		sess.mu.Unlock()
		return
	}
	for _, n := range current {
		if n.Read {
			continue
		}
		if _, ok := sess.seen[n.ID]; ok {
			continue
		}
		sess.seen[n.ID] = struct{}{}
		fresh = append(fresh, n)
	}
	size := len(sess.seen)
	sess.mu.Unlock()
	if size > l.pruneThreshold {
		size = l.prune(ctx, sess)
	}
	metrics.SeenSetSize.Set(float64(size))
	metrics.PollTicks.WithLabelValues("notification_listener", "ok").Inc()

	if len(fresh) == 0 {
		return
	}
	settings := l.pipeline.GetSettings(ctx, sess.userID)
	// 列表是新的在前，提醒按时间先后发出
	for i := len(fresh) - 1; i >= 0; i-- {
		n := fresh[i]
		if err := l.alerter.Alert(ctx, n, settings); err != nil {
			logger.Warn("notification alert failed", zap.String("id", n.ID), zap.Error(err))
		} else {
			metrics.AlertsIssued.Inc()
		}
		l.pipeline.Events().Emit(n)
	}
}

// seed 把存储里已有的通知 id 放进 SeenSet。读键失败时返回 false，会话保持未预填；
// 未预填的会话不提醒，下一次 tick 重试。
func (l *Listener) seed(ctx context.Context, sess *listenSession) bool {
	ids, err := l.pipeline.store.ItemIDs(ctx, model.CollectionNotifications, sess.userID)
	if err != nil {
		logger.Warn("seed seen set failed", zap.String("user", sess.userID), zap.Error(err))
		return false
	}
	sess.mu.Lock()
	for _, id := range ids {
		sess.seen[id] = struct{}{}
	}
	sess.seeded = true
	size := len(sess.seen)
	sess.mu.Unlock()
	metrics.SeenSetSize.Set(float64(size))
	return true
}

// prune 移除存储里已不存在的 id。读键失败时不清理，否则仍存在的通知会被再次提醒。
func (l *Listener) prune(ctx context.Context, sess *listenSession) int {
	ids, err := l.pipeline.store.ItemIDs(ctx, model.CollectionNotifications, sess.userID)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err != nil {
		logger.Warn("skip seen set pruning", zap.String("user", sess.userID), zap.Error(err))
		return len(sess.seen)
	}
	present := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		present[id] = struct{}{}
	}
	before := len(sess.seen)
	for id := range sess.seen {
		if _, ok := present[id]; !ok {
			delete(sess.seen, id)
		}
	}
	logger.Debug("pruned notification seen set",
		zap.String("user", sess.userID), zap.Int("before", before), zap.Int("after", len(sess.seen)))
	return len(sess.seen)
}
