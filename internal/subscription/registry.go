package subscription

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/localsync/pkg/logger"
	"github.com/d60-Lab/localsync/pkg/metrics"
)

// Fetcher 读取某个 key 的最新快照
type Fetcher[T any] func(ctx context.Context) (T, error)

type Callback[T any] func(snapshot T)

// Registry 订阅表：key -> 回调集合，每个 key 配一个轮询器。
// 一次 tick 只读一次存储，同一快照分发给该 key 的所有回调。
type Registry[T any] struct {
	scope     string
	interval  time.Duration
	scheduler Scheduler

	mu      sync.Mutex
	nextID  uint64
	entries map[string]*entry[T]
}

type entry[T any] struct {
	key       string
	fetch     Fetcher[T]
	callbacks map[uint64]Callback[T]
	cancel    func()
	closed    bool
	inflight  atomic.Bool
}

// NewRegistry scope 仅用于日志与指标标签
func NewRegistry[T any](scope string, interval time.Duration, scheduler Scheduler) *Registry[T] {
	if scheduler == nil {
		scheduler = TickerScheduler{}
	}
	return &Registry[T]{
		scope:     scope,
		interval:  interval,
		scheduler: scheduler,
		entries:   map[string]*entry[T]{},
	}
}

// Subscribe 登记回调并立即用一次同步读取的快照回调一次；
// key 的第一个回调会启动轮询。返回的取消函数可重复调用。
func (r *Registry[T]) Subscribe(ctx context.Context, key string, fetch Fetcher[T], cb Callback[T]) (unsubscribe func()) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		e = &entry[T]{key: key, fetch: fetch, callbacks: map[uint64]Callback[T]{}}
		r.entries[key] = e
		metrics.ActiveSubscriptions.WithLabelValues(r.scope).Inc()
	}
	r.nextID++
	id := r.nextID
	e.callbacks[id] = cb
	r.mu.Unlock()

	if snap, err := e.fetch(ctx); err != nil {
		logger.Warn("subscription initial read failed", zap.String("scope", r.scope), zap.String("key", key), zap.Error(err))
	} else {
		r.deliver(e, cb, snap)
	}

	r.mu.Lock()
	if !e.closed && e.cancel == nil {
		e.cancel = r.scheduler.Every(r.interval, func() { r.tick(e) })
	}
	r.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { r.remove(e, id) }) }
}

func (r *Registry[T]) remove(e *entry[T], id uint64) {
	r.mu.Lock()
	delete(e.callbacks, id)
	var cancel func()
	if len(e.callbacks) == 0 && !e.closed {
		e.closed = true
		cancel = e.cancel
		if r.entries[e.key] == e {
			delete(r.entries, e.key)
		}
		metrics.ActiveSubscriptions.WithLabelValues(r.scope).Dec()
	}
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// tick 单飞：上一次 tick 未结束时跳过本次
func (r *Registry[T]) tick(e *entry[T]) {
	if !e.inflight.CompareAndSwap(false, true) {
		metrics.PollTicks.WithLabelValues(r.scope, "skipped").Inc()
		return
	}
	defer e.inflight.Store(false)

	r.mu.Lock()
	closed := e.closed
	r.mu.Unlock()
	if closed {
		return
	}

	snap, err := e.fetch(context.Background())
	if err != nil {
		metrics.PollTicks.WithLabelValues(r.scope, "error").Inc()
		logger.Warn("subscription poll failed", zap.String("scope", r.scope), zap.String("key", e.key), zap.Error(err))
		return
	}

	r.mu.Lock()
	if e.closed {
		r.mu.Unlock()
		return
	}
	ids := make([]uint64, 0, len(e.callbacks))
	for id := range e.callbacks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	cbs := make([]Callback[T], len(ids))
	for i, id := range ids {
		cbs[i] = e.callbacks[id]
	}
	r.mu.Unlock()

	metrics.PollTicks.WithLabelValues(r.scope, "ok").Inc()
	for _, cb := range cbs {
		r.deliver(e, cb, snap)
	}
}

// deliver 回调 panic 不影响兄弟回调和后续 tick
func (r *Registry[T]) deliver(e *entry[T], cb Callback[T], snap T) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("subscription callback panicked", zap.String("scope", r.scope), zap.String("key", e.key), zap.Any("panic", p))
		}
	}()
	cb(snap)
}

// Len 当前有回调的 key 数
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Subscribers 某个 key 的回调数
func (r *Registry[T]) Subscribers(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[key]; ok {
		return len(e.callbacks)
	}
	return 0
}
