package notification

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/d60-Lab/localsync/internal/model"
	"github.com/d60-Lab/localsync/pkg/logger"
)

// EventBus 进程内即时事件，给已打开的界面用；与轮询订阅相互独立，尽力而为
type EventBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(model.Notification)
}

func NewEventBus() *EventBus {
	return &EventBus{subs: map[int]func(model.Notification){}}
}

// Subscribe 返回的取消函数可重复调用
func (b *EventBus) Subscribe(cb func(model.Notification)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = cb
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Emit 同步按订阅顺序分发；单个回调 panic 不影响其它回调
func (b *EventBus) Emit(n model.Notification) {
	b.mu.RLock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	cbs := make([]func(model.Notification), len(ids))
	for i, id := range ids {
		cbs[i] = b.subs[id]
	}
	b.mu.RUnlock()

	for _, cb := range cbs {
		func() {
			defer func() {
				if p := recover(); p != nil {
					logger.Error("notification event handler panicked", zap.String("id", n.ID), zap.Any("panic", p))
				}
			}()
			cb(n)
		}()
	}
}

func (b *EventBus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
