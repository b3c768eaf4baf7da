package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/user/kinomerge/internal/metrics"
	"github.com/user/kinomerge/internal/model"
	"github.com/user/kinomerge/internal/provider"
	"github.com/user/kinomerge/internal/reconcile"
	"github.com/user/kinomerge/internal/repository"
	"github.com/user/kinomerge/internal/syncerr"
)

// SyncRequest 一次同步请求
type SyncRequest struct {
	Ref    model.ContentRef
	Source model.Source
	Stages []model.Stage // 为空表示全部阶段
	Mode   reconcile.Mode
}

// Key 同一实体、同一数据源、同一组阶段的去重键
func (r SyncRequest) Key() string {
	parts := make([]string, 0, len(r.Stages))
	for _, st := range r.Stages {
		parts = append(parts, string(st))
	}
	return repository.LockKey(r.Ref, r.Source) + "|" + strings.Join(parts, ",") + "|" + string(r.Mode)
}

// StageResult 单个阶段的结果
type StageResult struct {
	Stage   model.Stage `json:"stage"`
	Changed []string    `json:"changed,omitempty"`
	Linked  int         `json:"linked,omitempty"`
	Created int         `json:"created,omitempty"`
	Skipped int         `json:"skipped,omitempty"`
	Added   int         `json:"added,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// SyncResult 同步结果
type SyncResult struct {
	Ref        string        `json:"ref"`
	Source     model.Source  `json:"source"`
	ExternalID int64         `json:"external_id,omitempty"`
	State      string        `json:"state"`
	Stages     []StageResult `json:"stages"`
}

// SourceStatus 实体在某数据源上的状态
type SourceStatus struct {
	Source     model.Source     `json:"source"`
	ExternalID int64            `json:"external_id,omitempty"`
	State      string           `json:"state"`
	Sync       *model.SyncState `json:"sync,omitempty"`
}

// SyncService 按 details -> cast -> images -> links 的顺序同步单个实体
type SyncService struct {
	store        repository.Store
	rec          *reconcile.Reconciler
	linker       *reconcile.CastLinker
	wiki         provider.Encyclopedia
	langs        []string
	defaultMode  reconcile.Mode
	stageTimeout time.Duration
	log          *zap.Logger
	sf           singleflight.Group
	now          func() time.Time
}

// SyncOption 可选参数
type SyncOption func(*SyncService)

// WithEncyclopedia 启用维基百科页面发现
func WithEncyclopedia(wiki provider.Encyclopedia, langs []string) SyncOption {
	return func(s *SyncService) {
		s.wiki = wiki
		s.langs = langs
	}
}

// WithStageTimeout 单个阶段的超时时间
func WithStageTimeout(d time.Duration) SyncOption {
	return func(s *SyncService) { s.stageTimeout = d }
}

// WithDefaultMode 请求未指定模式时使用
func WithDefaultMode(mode reconcile.Mode) SyncOption {
	return func(s *SyncService) { s.defaultMode = mode }
}

// NewSyncService 创建同步服务
func NewSyncService(store repository.Store, rec *reconcile.Reconciler, log *zap.Logger, opts ...SyncOption) *SyncService {
	s := &SyncService{
		store:        store,
		rec:          rec,
		linker:       reconcile.NewCastLinker(rec, log),
		defaultMode:  reconcile.ModeExisting,
		stageTimeout: 5 * time.Minute,
		log:          log,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// normalizeStages 去重并按固定顺序排列
func normalizeStages(stages []model.Stage) []model.Stage {
	if len(stages) == 0 {
		return model.AllStages
	}
	out := make([]model.Stage, 0, len(stages))
	for _, st := range model.AllStages {
		if slices.Contains(stages, st) {
			out = append(out, st)
		}
	}
	return out
}

// Sync 同步实体；同一实体同一数据源的并发请求合并为一次执行
func (s *SyncService) Sync(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	if req.Ref == nil || req.Ref.LocalID() == 0 {
		return nil, syncerr.WrongValue("sync request without entity")
	}
	if _, err := model.IdentityTable(req.Source, req.Ref.Kind()); err != nil {
		return nil, syncerr.WrongValue("%s cannot be synced directly, wikipedia pages are found by the links stage", req.Source)
	}
	for _, st := range req.Stages {
		if _, err := model.ParseStage(string(st)); err != nil {
			return nil, syncerr.WrongValue("%v", err)
		}
	}
	req.Stages = normalizeStages(req.Stages)
	if req.Mode == "" {
		req.Mode = s.defaultMode
	}

	val, err, shared := s.sf.Do(req.Key(), func() (any, error) {
		return s.run(ctx, req)
	})
	if shared {
		s.log.Debug("[Sync] 合并重复的同步请求", zap.String("key", req.Key()))
	}
	result, _ := val.(*SyncResult)
	return result, err
}

func (s *SyncService) run(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	p, err := s.rec.Provider(req.Source)
	if err != nil {
		return nil, err
	}

	state, err := s.store.GetSyncState(ctx, req.Ref, req.Source)
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = &model.SyncState{ContentKind: req.Ref.Kind(), ObjectID: req.Ref.LocalID(), Source: req.Source}
	}

	result := &SyncResult{Ref: req.Ref.String(), Source: req.Source}
	s.log.Info("[Sync] 开始同步",
		zap.Stringer("ref", req.Ref),
		zap.String("source", string(req.Source)),
		zap.Any("stages", req.Stages))

	for _, stage := range req.Stages {
		start := s.now()
		stageCtx, cancel := context.WithTimeout(ctx, s.stageTimeout)
		res, externalID, err := s.runStage(stageCtx, p, req, stage)
		cancel()
		metrics.RecordSyncStage(string(req.Source), string(stage), time.Since(start), err)
		if externalID != 0 {
			result.ExternalID = externalID
		}

		if err != nil {
			res.Error = err.Error()
			result.Stages = append(result.Stages, res)
			state.LastError = fmt.Sprintf("%s: %v", stage, err)
			if saveErr := s.store.SaveSyncState(ctx, state); saveErr != nil {
				s.log.Error("[Sync] 保存同步状态失败", zap.Error(saveErr))
			}
			result.State = state.State()
			s.log.Warn("[Sync] 阶段失败",
				zap.Stringer("ref", req.Ref),
				zap.String("source", string(req.Source)),
				zap.String("stage", string(stage)),
				zap.Error(err))
			return result, fmt.Errorf("%s %s stage %s: %w", req.Ref, req.Source, stage, err)
		}

		// 每个阶段独立落盘，后续失败不回滚
		state.Mark(stage, s.now())
		state.LastError = ""
		if err := s.store.SaveSyncState(ctx, state); err != nil {
			return result, fmt.Errorf("save sync state: %w", err)
		}
		result.Stages = append(result.Stages, res)
	}

	result.State = state.State()
	s.log.Info("[Sync] 同步完成",
		zap.Stringer("ref", req.Ref),
		zap.String("source", string(req.Source)),
		zap.Int64("external_id", result.ExternalID),
		zap.String("state", result.State))
	return result, nil
}

func (s *SyncService) runStage(ctx context.Context, p provider.Provider, req SyncRequest, stage model.Stage) (StageResult, int64, error) {
	res := StageResult{Stage: stage}
	externalID, err := s.identify(ctx, req)
	if err != nil {
		return res, 0, err
	}

	switch stage {
	case model.StageDetails:
		res.Changed, err = s.syncDetails(ctx, p, req, externalID)
	case model.StageCast:
		err = s.syncCast(ctx, p, req, externalID, &res)
	case model.StageImages:
		res.Added, err = s.syncImages(ctx, p, req, externalID)
	case model.StageLinks:
		res.Added, err = s.syncLinks(ctx, req, externalID)
	}
	return res, externalID, err
}

// locked 在事务中先获取实体在该数据源上的咨询锁
func (s *SyncService) locked(ctx context.Context, ref model.ContentRef, source model.Source, fn func(tx repository.Store) error) error {
	return s.store.Transaction(ctx, func(tx repository.Store) error {
		if err := tx.LockEntity(ctx, repository.LockKey(ref, source)); err != nil {
			return fmt.Errorf("lock %s: %w", repository.LockKey(ref, source), err)
		}
		return fn(tx)
	})
}

// identify 取已绑定的外部 ID，未绑定时走匹配流程
func (s *SyncService) identify(ctx context.Context, req SyncRequest) (int64, error) {
	externalID, found, err := s.store.FindExternal(ctx, req.Source, req.Ref.Kind(), req.Ref.LocalID())
	if err != nil || found {
		return externalID, err
	}

	// 匹配和绑定在同一个加锁事务里，锁持有期间会访问外部接口
	var match *reconcile.Match
	switch req.Ref.Kind() {
	case model.KindMovie:
		movie, err := s.store.GetMovie(ctx, req.Ref.LocalID())
		if err != nil {
			return 0, err
		}
		if movie == nil {
			return 0, syncerr.NothingFound("%s does not exist", req.Ref)
		}
		err = s.locked(ctx, req.Ref, req.Source, func(tx repository.Store) error {
			match, err = s.rec.ReconcileMovie(ctx, tx, reconcile.MovieRequest{Source: req.Source, Local: movie})
			return err
		})
		if err != nil {
			return 0, err
		}
	case model.KindPerson:
		person, err := s.store.GetPerson(ctx, req.Ref.LocalID())
		if err != nil {
			return 0, err
		}
		if person == nil {
			return 0, syncerr.NothingFound("%s does not exist", req.Ref)
		}
		err = s.locked(ctx, req.Ref, req.Source, func(tx repository.Store) error {
			match, err = s.rec.ReconcilePerson(ctx, tx, reconcile.PersonRequest{Source: req.Source, Local: person})
			return err
		})
		if err != nil {
			return 0, err
		}
	}
	return match.ExternalID, nil
}

func (s *SyncService) syncDetails(ctx context.Context, p provider.Provider, req SyncRequest, externalID int64) ([]string, error) {
	var changed []string
	switch req.Ref.Kind() {
	case model.KindMovie:
		remote, err := p.GetMovie(ctx, externalID)
		if err != nil {
			return nil, err
		}
		err = s.locked(ctx, req.Ref, req.Source, func(tx repository.Store) error {
			changed, err = s.rec.ApplyMovie(ctx, tx, req.Ref.LocalID(), remote, req.Source)
			return err
		})
		return changed, err
	case model.KindPerson:
		remote, err := p.GetPerson(ctx, externalID)
		if err != nil {
			return nil, err
		}
		err = s.locked(ctx, req.Ref, req.Source, func(tx repository.Store) error {
			changed, err = s.rec.ApplyPerson(ctx, tx, req.Ref.LocalID(), remote, req.Source)
			return err
		})
		return changed, err
	}
	return nil, syncerr.WrongValue("unsupported content %s", req.Ref)
}

// syncCast 每条演职员记录单独一个事务；可跳过的错误只计数，重复和临时错误中止本阶段
func (s *SyncService) syncCast(ctx context.Context, p provider.Provider, req SyncRequest, externalID int64, res *StageResult) error {
	var credits []provider.Credit
	var err error
	if req.Ref.Kind() == model.KindMovie {
		credits, err = p.MovieCredits(ctx, externalID)
	} else {
		credits, err = p.PersonCredits(ctx, externalID)
	}
	if err != nil {
		return err
	}

	for _, credit := range credits {
		err := s.locked(ctx, req.Ref, req.Source, func(tx repository.Store) error {
			linked, err := s.linker.LinkCast(ctx, tx, reconcile.LinkRequest{
				Source: req.Source,
				Local:  req.Ref,
				Credit: credit,
				Mode:   req.Mode,
			})
			if err != nil {
				return err
			}
			res.Linked++
			if linked.Counterpart != nil && linked.Counterpart.Created {
				res.Created++
			}
			return nil
		})
		if syncerr.IsSkippable(err) {
			res.Skipped++
			s.log.Debug("[Cast] 跳过演职员记录",
				zap.Stringer("ref", req.Ref),
				zap.String("role", credit.Role),
				zap.Error(err))
			continue
		}
		if err != nil {
			return err
		}
	}

	s.log.Info("[Cast] 演职员同步完成",
		zap.Stringer("ref", req.Ref),
		zap.String("source", string(req.Source)),
		zap.Int("total", len(credits)),
		zap.Int("linked", res.Linked),
		zap.Int("created", res.Created),
		zap.Int("skipped", res.Skipped))
	return nil
}

func (s *SyncService) syncImages(ctx context.Context, p provider.Provider, req SyncRequest, externalID int64) (int, error) {
	var images []provider.Image
	var err error
	if req.Ref.Kind() == model.KindMovie {
		images, err = p.MovieImages(ctx, externalID)
	} else {
		images, err = p.PersonImages(ctx, externalID)
	}
	if err != nil {
		return 0, err
	}

	rows := make([]model.Image, 0, len(images))
	for _, img := range images {
		if img.Key == "" || img.URL == "" {
			continue
		}
		rows = append(rows, model.Image{
			ContentKind: req.Ref.Kind(),
			ObjectID:    req.Ref.LocalID(),
			Source:      req.Source,
			SourceKey:   img.Key,
			URL:         img.URL,
		})
	}
	added, err := s.store.AddImages(ctx, rows)
	if err != nil {
		return 0, fmt.Errorf("add images: %w", err)
	}
	return added, nil
}

// Status 实体在各数据源上的绑定和同步状态
func (s *SyncService) Status(ctx context.Context, ref model.ContentRef) ([]SourceStatus, error) {
	states, err := s.store.ListSyncStates(ctx, ref)
	if err != nil {
		return nil, err
	}
	bySource := make(map[model.Source]*model.SyncState, len(states))
	for i := range states {
		bySource[states[i].Source] = &states[i]
	}

	var out []SourceStatus
	for _, source := range []model.Source{model.SourceIMDb, model.SourceKinopoisk} {
		status := SourceStatus{Source: source, Sync: bySource[source]}
		externalID, found, err := s.store.FindExternal(ctx, source, ref.Kind(), ref.LocalID())
		if err != nil {
			return nil, err
		}
		if found {
			status.ExternalID = externalID
		}
		status.State = status.Sync.State()
		out = append(out, status)
	}
	return out, nil
}
