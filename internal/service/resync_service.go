package service

import (
	"context"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/user/kinomerge/internal/config"
	"github.com/user/kinomerge/internal/model"
	"github.com/user/kinomerge/internal/repository"
)

// Enqueuer 接收后台同步任务
type Enqueuer interface {
	Enqueue(req SyncRequest) pond.Task
}

// ResyncService 定期重新同步 synced_at 过旧的外部身份
type ResyncService struct {
	index repository.IdentityIndex
	queue Enqueuer
	cfg   config.ResyncConfig
	log   *zap.Logger
	now   func() time.Time
}

// NewResyncService 创建重新同步服务
func NewResyncService(index repository.IdentityIndex, queue Enqueuer, cfg config.ResyncConfig, log *zap.Logger) *ResyncService {
	return &ResyncService{index: index, queue: queue, cfg: cfg, log: log, now: time.Now}
}

// Start 启动定时任务，ctx 取消后退出
func (s *ResyncService) Start(ctx context.Context) {
	if !s.cfg.Enabled || s.cfg.Interval <= 0 {
		s.log.Info("[Resync] 定期重新同步未启用")
		return
	}
	ticker := time.NewTicker(s.cfg.Interval)

	go func() {
		defer ticker.Stop()
		// 启动时先运行一次
		s.runOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()
}

func (s *ResyncService) runOnce(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		s.log.Error("[Resync] 查询过期身份失败", zap.Error(err))
	}
}

// RunOnce 每个数据源、每类实体最多取 Batch 条过期身份入队，返回入队数量
func (s *ResyncService) RunOnce(ctx context.Context) (int, error) {
	before := s.now().Add(-s.cfg.After)
	queued := 0
	for _, source := range []model.Source{model.SourceIMDb, model.SourceKinopoisk} {
		for _, kind := range []model.Kind{model.KindMovie, model.KindPerson} {
			stale, err := s.index.ListStaleIdentities(ctx, source, kind, before, s.cfg.Batch)
			if err != nil {
				return queued, err
			}
			for _, identity := range stale {
				ref, err := model.NewRef(kind, identity.LocalID)
				if err != nil {
					return queued, err
				}
				s.queue.Enqueue(SyncRequest{Ref: ref, Source: source})
				queued++
			}
		}
	}
	if queued > 0 {
		s.log.Info("[Resync] 已加入重新同步队列", zap.Int("count", queued), zap.Time("before", before))
	}
	return queued, nil
}
