package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/localsync/internal/store"
	"github.com/d60-Lab/localsync/pkg/logger"
	"github.com/d60-Lab/localsync/pkg/metrics"
)

const defaultReconcileAttempts = 3

type reconcileJob struct {
	op      string
	key     store.Key
	value   any
	attempt int
	enqAt   time.Time
}

// Reconciler 本地异步补写器：扇出失败的整条写入在后台按“缺失才写”重试。
// 已存在的键视为后续写入已经覆盖，直接跳过，避免用旧快照盖掉新数据。
type Reconciler struct {
	store       *store.Store
	ch          chan reconcileJob
	maxAttempts int
	wg          sync.WaitGroup
}

func NewReconciler(s *store.Store, queueSize int) *Reconciler {
	if queueSize <= 0 {
		queueSize = 10000
	}
	return &Reconciler{
		store:       s,
		ch:          make(chan reconcileJob, queueSize),
		maxAttempts: defaultReconcileAttempts,
	}
}

// Start 启动 worker，返回停止函数；停止时先排空队列再退出
func (r *Reconciler) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 4
	}
	stopCh := make(chan struct{})
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for {
				select {
				case job := <-r.ch:
					r.process(job)
				case <-stopCh:
					for {
						select {
						case job := <-r.ch:
							r.process(job)
						default:
							return
						}
					}
				}
			}
		}()
	}
	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(func() { close(stopCh) })
		done := make(chan struct{})
		go func() {
			r.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Reconciler) process(job reconcileJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if r.store.Exists(ctx, job.key) {
		metrics.ReconcileAttempts.WithLabelValues("skipped").Inc()
		r.observe(job)
		return
	}
	if err := r.store.Create(ctx, job.key, job.value); err != nil {
		job.attempt++
		if job.attempt >= r.maxAttempts {
			metrics.ReconcileAttempts.WithLabelValues("dropped").Inc()
			logger.Warn("reconciler gave up",
				zap.String("op", job.op),
				zap.String("key", job.key.String()),
				zap.Int("attempts", job.attempt),
				zap.Error(err))
			return
		}
		metrics.ReconcileAttempts.WithLabelValues("retry").Inc()
		r.enqueue(job)
		return
	}
	metrics.ReconcileAttempts.WithLabelValues("ok").Inc()
	r.observe(job)
}

func (r *Reconciler) observe(job reconcileJob) {
	if job.enqAt.IsZero() {
		return
	}
	metrics.ReconcileLatency.Observe(time.Since(job.enqAt).Seconds())
}

// Enqueue 提交一个失败的整条写入；队列满时丢弃并记录
func (r *Reconciler) Enqueue(op string, w WriteIntent) {
	if !w.isCreate() {
		return
	}
	r.enqueue(reconcileJob{op: op, key: w.Key, value: w.Value, enqAt: time.Now()})
}

func (r *Reconciler) enqueue(job reconcileJob) {
	select {
	case r.ch <- job:
	default:
		metrics.ReconcileAttempts.WithLabelValues("dropped").Inc()
		logger.Warn("reconciler queue full, drop", zap.String("op", job.op), zap.String("key", job.key.String()))
	}
}

// QueueLen 返回当前队列长度（采样值）
func (r *Reconciler) QueueLen() int { return len(r.ch) }
