package subscription

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterSource struct {
	reads atomic.Int64
	fail  atomic.Bool
}

func (s *counterSource) fetch(context.Context) (int64, error) {
	n := s.reads.Add(1)
	if s.fail.Load() {
		return 0, errors.New("storage down")
	}
	return n, nil
}

func TestSubscribeDeliversImmediateSnapshot(t *testing.T) {
	sched := NewManualScheduler()
	reg := NewRegistry[int64]("test", 3*time.Second, sched)
	src := &counterSource{}

	var got []int64
	unsub := reg.Subscribe(context.Background(), "c1", src.fetch, func(v int64) { got = append(got, v) })
	defer unsub()

	assert.Equal(t, []int64{1}, got)
	assert.Equal(t, 1, sched.Pending())

	sched.Tick(3 * time.Second)
	assert.Equal(t, []int64{1, 2}, got)
}

func TestSiblingCallbacksShareSnapshot(t *testing.T) {
	sched := NewManualScheduler()
	reg := NewRegistry[int64]("test", 3*time.Second, sched)
	src := &counterSource{}

	var a, b []int64
	unsubA := reg.Subscribe(context.Background(), "c1", src.fetch, func(v int64) { a = append(a, v) })
	unsubB := reg.Subscribe(context.Background(), "c1", src.fetch, func(v int64) { b = append(b, v) })
	defer unsubA()
	defer unsubB()

	// 第二个订阅不再启动新的轮询器
	assert.Equal(t, 1, sched.Pending())

	before := src.reads.Load()
	sched.Tick(0)
	sched.Tick(0)
	assert.Equal(t, before+2, src.reads.Load(), "one read per tick regardless of callback count")

	require.Len(t, a, 3)
	require.Len(t, b, 3)
	assert.Equal(t, a[1:], b[1:])
}

func TestUnsubscribeLastStopsPolling(t *testing.T) {
	sched := NewManualScheduler()
	reg := NewRegistry[int64]("test", 5*time.Second, sched)
	src := &counterSource{}

	unsubA := reg.Subscribe(context.Background(), "u1", src.fetch, func(int64) {})
	unsubB := reg.Subscribe(context.Background(), "u1", src.fetch, func(int64) {})

	unsubA()
	assert.Equal(t, 1, reg.Subscribers("u1"))
	assert.Equal(t, 1, sched.Pending())

	unsubB()
	unsubB()
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 0, sched.Pending())

	reads := src.reads.Load()
	sched.Tick(0)
	assert.Equal(t, reads, src.reads.Load())
}

func TestKeysAreIndependent(t *testing.T) {
	sched := NewManualScheduler()
	reg := NewRegistry[int64]("test", time.Second, sched)
	srcA, srcB := &counterSource{}, &counterSource{}

	unsubA := reg.Subscribe(context.Background(), "a", srcA.fetch, func(int64) {})
	unsubB := reg.Subscribe(context.Background(), "b", srcB.fetch, func(int64) {})
	defer unsubB()
	assert.Equal(t, 2, sched.Pending())

	unsubA()
	sched.Tick(0)
	assert.Equal(t, int64(1), srcA.reads.Load())
	assert.Equal(t, int64(2), srcB.reads.Load())
}

func TestPollErrorsAndPanicsDoNotStopPoller(t *testing.T) {
	sched := NewManualScheduler()
	reg := NewRegistry[int64]("test", time.Second, sched)
	src := &counterSource{}

	calls := 0
	unsub := reg.Subscribe(context.Background(), "k", src.fetch, func(v int64) {
		calls++
		if v == 2 {
			panic("render failed")
		}
	})
	defer unsub()

	sched.Tick(0) // v=2，回调 panic
	src.fail.Store(true)
	sched.Tick(0) // 读失败，回调不触发
	src.fail.Store(false)
	sched.Tick(0)

	assert.Equal(t, 3, calls)
	assert.Equal(t, 1, sched.Pending())
}

func TestOverlappingTicksAreSkipped(t *testing.T) {
	sched := NewManualScheduler()
	reg := NewRegistry[int64]("test", time.Second, sched)

	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	var reads atomic.Int64
	slow := func(context.Context) (int64, error) {
		n := reads.Add(1)
		if n == 2 {
			entered <- struct{}{}
			<-release
		}
		return n, nil
	}

	unsub := reg.Subscribe(context.Background(), "k", slow, func(int64) {})
	defer unsub()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Tick(0)
	}()
	<-entered
	sched.Tick(0) // 与进行中的 tick 重叠，直接跳过
	close(release)
	wg.Wait()

	assert.Equal(t, int64(2), reads.Load())
}

func TestTickerSchedulerCancel(t *testing.T) {
	var n atomic.Int64
	cancel := TickerScheduler{}.Every(5*time.Millisecond, func() { n.Add(1) })
	require.Eventually(t, func() bool { return n.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	cancel()
	time.Sleep(20 * time.Millisecond)
	stopped := n.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, n.Load())
}
