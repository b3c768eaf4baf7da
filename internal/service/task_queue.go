package service

import (
	"context"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/user/kinomerge/internal/config"
	"github.com/user/kinomerge/internal/metrics"
	"github.com/user/kinomerge/internal/syncerr"
)

// Syncer 执行一次同步
type Syncer interface {
	Sync(ctx context.Context, req SyncRequest) (*SyncResult, error)
}

// TaskQueue 后台同步队列：固定数量的 worker，临时错误按指数退避重试
// 任务至少执行一次，重复执行由幂等写入保证安全
type TaskQueue struct {
	ctx    context.Context
	pool   pond.Pool
	syncer Syncer
	cfg    config.QueueConfig
	log    *zap.Logger
}

// NewTaskQueue 创建队列，ctx 取消后不再重试
func NewTaskQueue(ctx context.Context, syncer Syncer, cfg config.QueueConfig, log *zap.Logger) *TaskQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	opts := []pond.Option{pond.WithContext(ctx)}
	if cfg.Size > 0 {
		opts = append(opts, pond.WithQueueSize(cfg.Size))
	}
	return &TaskQueue{
		ctx:    ctx,
		pool:   pond.NewPool(cfg.Workers, opts...),
		syncer: syncer,
		cfg:    cfg,
		log:    log,
	}
}

// Enqueue 提交同步任务，不等待执行结果；队列满时阻塞直到有空位
func (q *TaskQueue) Enqueue(req SyncRequest) pond.Task {
	task := q.pool.SubmitErr(func() error {
		return q.process(req)
	})
	metrics.QueueDepth.Set(float64(q.pool.WaitingTasks()))
	return task
}

func (q *TaskQueue) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if q.cfg.InitialInterval > 0 {
		b.InitialInterval = q.cfg.InitialInterval
	}
	b.MaxInterval = 2 * time.Minute
	b.MaxElapsedTime = q.cfg.MaxElapsedTime
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.5
	return backoff.WithContext(b, q.ctx)
}

func (q *TaskQueue) process(req SyncRequest) error {
	defer metrics.QueueDepth.Set(float64(q.pool.WaitingTasks()))

	attempts := 0
	operation := func() error {
		attempts++
		_, err := q.syncer.Sync(q.ctx, req)
		if err == nil || syncerr.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, next time.Duration) {
		q.log.Warn("[Queue] 同步遇到临时错误，稍后重试",
			zap.String("task", req.Key()),
			zap.Int("attempt", attempts),
			zap.Duration("next_retry_in", next),
			zap.Error(err))
	}

	err := backoff.RetryNotify(operation, q.newBackOff(), notify)
	metrics.QueueTasks.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		q.log.Error("[Queue] 同步任务失败",
			zap.String("task", req.Key()),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return err
	}
	if attempts > 1 {
		q.log.Info("[Queue] 重试后同步成功", zap.String("task", req.Key()), zap.Int("attempts", attempts))
	}
	return nil
}

// Stop 停止接收任务并等待已提交的任务完成
func (q *TaskQueue) Stop() {
	q.pool.StopAndWait()
}
