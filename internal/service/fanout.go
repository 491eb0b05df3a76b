package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/d60-Lab/localsync/internal/store"
	"github.com/d60-Lab/localsync/pkg/logger"
	"github.com/d60-Lab/localsync/pkg/metrics"
)

// ErrPartialFanout 多分区写入中有部分分区失败
var ErrPartialFanout = errors.New("partial fan-out")

var tracer = otel.Tracer("github.com/d60-Lab/localsync/internal/service")

// WriteIntent 单个分区的一次写入。Value 非空时整条覆盖写（Create），
// 否则按 Patch 浅合并（Update，目标不存在时不写）。
type WriteIntent struct {
	Key   store.Key
	Value any
	Patch map[string]any
	Err   error
}

func (w WriteIntent) isCreate() bool { return w.Value != nil }

// FanoutResult 一次扇出的全部写意图及各自结果
type FanoutResult struct {
	Op      string
	Intents []WriteIntent
}

// Failed 失败的写意图
func (r FanoutResult) Failed() []WriteIntent {
	var out []WriteIntent
	for _, w := range r.Intents {
		if w.Err != nil {
			out = append(out, w)
		}
	}
	return out
}

// Succeeded 某个分区的写是否成功
func (r FanoutResult) Succeeded(partition string) bool {
	for _, w := range r.Intents {
		if w.Key.Partition == partition {
			return w.Err == nil
		}
	}
	return false
}

// Err 全部成功返回 nil，否则返回 *FanoutError
func (r FanoutResult) Err() error {
	if len(r.Failed()) == 0 {
		return nil
	}
	return &FanoutError{Results: []FanoutResult{r}}
}

// FanoutError 携带完整的扇出结果，errors.Is(err, ErrPartialFanout) 成立
type FanoutError struct {
	Results []FanoutResult
}

func (e *FanoutError) Error() string {
	var parts []string
	for _, r := range e.Results {
		for _, w := range r.Failed() {
			parts = append(parts, fmt.Sprintf("%s %s: %v", r.Op, w.Key, w.Err))
		}
	}
	return fmt.Sprintf("%v: %s", ErrPartialFanout, strings.Join(parts, "; "))
}

func (e *FanoutError) Is(target error) bool { return target == ErrPartialFanout }

// joinFanout 合并多次扇出的结果，全部成功时返回 nil
func joinFanout(results ...FanoutResult) error {
	var failed []FanoutResult
	for _, r := range results {
		if len(r.Failed()) > 0 {
			failed = append(failed, r)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &FanoutError{Results: failed}
}

// Fanout 按分区逐个执行写意图。没有跨分区事务：某个分区失败不影响其它分区，
// 失败项记录日志和指标，配置了 Reconciler 时交给它重试。
type Fanout struct {
	store      *store.Store
	reconciler *Reconciler
}

func NewFanout(s *store.Store, reconciler *Reconciler) *Fanout {
	return &Fanout{store: s, reconciler: reconciler}
}

// Execute 顺序执行全部写意图，返回逐项结果
func (f *Fanout) Execute(ctx context.Context, op string, intents []WriteIntent) FanoutResult {
	ctx, span := tracer.Start(ctx, "fanout."+op)
	defer span.End()
	span.SetAttributes(attribute.String("fanout.op", op), attribute.Int("fanout.partitions", len(intents)))

	res := FanoutResult{Op: op, Intents: make([]WriteIntent, len(intents))}
	failed := 0
	for i, w := range intents {
		if w.isCreate() {
			w.Err = f.store.Create(ctx, w.Key, w.Value)
		} else {
			_, w.Err = f.store.Update(ctx, w.Key, w.Patch)
		}
		res.Intents[i] = w
		if w.Err != nil {
			failed++
			metrics.FanoutWrites.WithLabelValues(op, "error").Inc()
			logger.Warn("fan-out write failed",
				zap.String("op", op),
				zap.String("key", w.Key.String()),
				zap.Error(w.Err))
			if f.reconciler != nil && w.isCreate() {
				f.reconciler.Enqueue(op, w)
			}
			continue
		}
		metrics.FanoutWrites.WithLabelValues(op, "ok").Inc()
	}

	if failed > 0 {
		span.SetAttributes(attribute.Int("fanout.failed", failed))
		span.SetStatus(codes.Error, ErrPartialFanout.Error())
	}
	return res
}
