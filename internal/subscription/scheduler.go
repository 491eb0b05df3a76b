package subscription

import (
	"sync"
	"time"
)

// Scheduler 周期任务调度。轮询实现可以换成真正的推送通道而不影响调用方。
type Scheduler interface {
	// Every 每隔 interval 调用一次 fn，返回取消函数（可重复调用）
	Every(interval time.Duration, fn func()) (cancel func())
}

// TickerScheduler 每个任务一个 goroutine + time.Ticker；同一任务的回调串行执行
type TickerScheduler struct{}

func (TickerScheduler) Every(interval time.Duration, fn func()) func() {
	stop := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				select {
				case <-stop:
					return
				default:
				}
				fn()
			}
		}
	}()
	return func() { once.Do(func() { close(stop) }) }
}

// ManualScheduler 由调用方手动触发，测试里用来精确控制轮询节奏
type ManualScheduler struct {
	mu   sync.Mutex
	next int
	jobs map[int]manualJob
}

type manualJob struct {
	interval time.Duration
	fn       func()
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{jobs: map[int]manualJob{}}
}

func (m *ManualScheduler) Every(interval time.Duration, fn func()) func() {
	m.mu.Lock()
	id := m.next
	m.next++
	m.jobs[id] = manualJob{interval: interval, fn: fn}
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.jobs, id)
		m.mu.Unlock()
	}
}

// Tick 触发所有间隔为 interval 的任务；interval 为 0 时触发全部
func (m *ManualScheduler) Tick(interval time.Duration) {
	m.mu.Lock()
	fns := make([]func(), 0, len(m.jobs))
	for i := 0; i < m.next; i++ {
		j, ok := m.jobs[i]
		if !ok {
			continue
		}
		if interval == 0 || j.interval == interval {
			fns = append(fns, j.fn)
		}
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Pending 当前登记的任务数
func (m *ManualScheduler) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}
