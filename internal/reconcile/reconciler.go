package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/user/kinomerge/internal/metrics"
	"github.com/user/kinomerge/internal/model"
	"github.com/user/kinomerge/internal/provider"
	"github.com/user/kinomerge/internal/repository"
	"github.com/user/kinomerge/internal/syncerr"
)

// Strategy 命中的匹配步骤
type Strategy string

const (
	StrategyExternalID Strategy = "external_id"
	StrategyRelation   Strategy = "relation"
	StrategySearch     Strategy = "search"
	StrategyCreate     Strategy = "create"
)

// Match 匹配结果，身份已绑定
type Match struct {
	LocalID    uint     `json:"local_id"`
	ExternalID int64    `json:"external_id"`
	Created    bool     `json:"created"`
	Strategy   Strategy `json:"strategy"`
}

// MovieRequest 电影匹配请求
// 已知本地电影找外部 ID 时填 Local；已知外部记录找本地电影时填 Remote，Anchor 为与之相关的本地实体
type MovieRequest struct {
	Source      model.Source
	Local       *model.Movie
	Remote      *provider.MovieRef
	Anchor      model.ContentRef
	AllowCreate bool // 类型未知或被排除的作品仍不建档
}

// PersonRequest 人物匹配请求
type PersonRequest struct {
	Source      model.Source
	Local       *model.Person
	Remote      *provider.PersonRef
	Anchor      model.ContentRef
	AllowCreate bool
}

// Reconciler 按 外部ID -> 关联 -> 名称 -> 建档/失败 的顺序匹配
type Reconciler struct {
	providers map[model.Source]provider.Provider
	cfg       Config
	mapper    *PropertyMapper
	log       *zap.Logger
	now       func() time.Time
}

// New 创建匹配引擎
func New(providers []provider.Provider, cfg Config, log *zap.Logger) *Reconciler {
	r := &Reconciler{
		providers: make(map[model.Source]provider.Provider, len(providers)),
		cfg:       cfg,
		mapper:    NewPropertyMapper(log),
		log:       log,
		now:       time.Now,
	}
	for _, p := range providers {
		r.providers[p.Source()] = p
	}
	return r
}

// Config 当前配置
func (r *Reconciler) Config() *Config { return &r.cfg }

// Provider 按数据源取客户端
func (r *Reconciler) Provider(source model.Source) (provider.Provider, error) {
	p, ok := r.providers[source]
	if !ok {
		return nil, syncerr.WrongValue("no provider configured for %s", source)
	}
	return p, nil
}

func (r *Reconciler) finish(ctx context.Context, tx repository.Store, source model.Source, kind model.Kind, match *Match) (*Match, error) {
	if err := tx.BindIdentity(ctx, source, kind, match.LocalID, match.ExternalID); err != nil {
		return nil, err
	}
	metrics.Reconciliations.WithLabelValues(string(kind), string(match.Strategy)).Inc()
	r.log.Debug("[Reconcile] 匹配成功",
		zap.String("source", string(source)),
		zap.String("kind", string(kind)),
		zap.Uint("local_id", match.LocalID),
		zap.Int64("external_id", match.ExternalID),
		zap.String("strategy", string(match.Strategy)),
		zap.Bool("created", match.Created))
	return match, nil
}

// byExternalID 第一步：身份索引
func byExternalID(ctx context.Context, tx repository.Store, source model.Source, kind model.Kind, localID uint, remoteID int64) (*Match, error) {
	if remoteID != 0 {
		owner, found, err := tx.FindLocal(ctx, source, kind, remoteID)
		if err != nil {
			return nil, err
		}
		if found {
			if localID != 0 && owner != localID {
				return nil, syncerr.PossibleDuplicate(string(source), string(kind), remoteID, owner, localID)
			}
			return &Match{LocalID: owner, ExternalID: remoteID, Strategy: StrategyExternalID}, nil
		}
	}
	if localID != 0 {
		bound, found, err := tx.FindExternal(ctx, source, kind, localID)
		if err != nil {
			return nil, err
		}
		if found {
			if remoteID != 0 && bound != remoteID {
				return nil, syncerr.AlreadyBound(string(source), string(kind), localID, bound, remoteID)
			}
			return &Match{LocalID: localID, ExternalID: bound, Strategy: StrategyExternalID}, nil
		}
		if remoteID != 0 {
			// 调用方明确给出的配对
			return &Match{LocalID: localID, ExternalID: remoteID, Strategy: StrategyExternalID}, nil
		}
	}
	return nil, nil
}

// boundAnchors 已在该数据源绑定的关联实体，最多 MaxRelationAnchors 个
func (r *Reconciler) boundAnchors(ctx context.Context, tx repository.Store, source model.Source, kind model.Kind, localIDs []uint) ([]int64, error) {
	var anchors []int64
	for _, id := range distinct(localIDs) {
		if len(anchors) >= r.cfg.MaxRelationAnchors {
			break
		}
		externalID, found, err := tx.FindExternal(ctx, source, kind, id)
		if err != nil {
			return nil, err
		}
		if found {
			anchors = append(anchors, externalID)
		}
	}
	return anchors, nil
}

// scanAnchors 并发读取每个锚点的远端列表，所有给出结果的锚点必须指向同一个外部 ID
func (r *Reconciler) scanAnchors(ctx context.Context, anchors []int64, scan func(ctx context.Context, anchor int64) ([]int64, error)) (int64, error) {
	results := make([][]int64, len(anchors))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, r.cfg.AnchorConcurrency))
	for i, anchor := range anchors {
		g.Go(func() error {
			ids, err := scan(gctx, anchor)
			if syncerr.IsSkippable(err) {
				r.log.Debug("[Reconcile] 忽略无法读取的锚点", zap.Int64("anchor", anchor), zap.Error(err))
				return nil
			}
			if err != nil {
				return err
			}
			results[i] = distinct(ids)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var agreed []int64
	for _, ids := range results {
		agreed = append(agreed, ids...)
	}
	agreed = distinct(agreed)
	switch len(agreed) {
	case 0:
		return 0, nil
	case 1:
		return agreed[0], nil
	}
	return 0, syncerr.Ambiguous("relation anchors disagree: candidates %v", agreed)
}

// ReconcileMovie 匹配电影并绑定身份
func (r *Reconciler) ReconcileMovie(ctx context.Context, tx repository.Store, req MovieRequest) (*Match, error) {
	p, err := r.validateMovie(req)
	if err != nil {
		return nil, err
	}

	var localID uint
	var remoteID int64
	if req.Local != nil {
		localID = req.Local.ID
	}
	if req.Remote != nil {
		remoteID = req.Remote.ID
	}

	match, err := byExternalID(ctx, tx, req.Source, model.KindMovie, localID, remoteID)
	if err != nil {
		return nil, err
	}
	if match != nil {
		return r.finish(ctx, tx, req.Source, model.KindMovie, match)
	}

	if req.Local != nil {
		match, err = r.discoverMovie(ctx, tx, p, req)
	} else {
		match, err = r.resolveMovie(ctx, tx, p, req)
	}
	if err != nil {
		return nil, err
	}
	return r.finish(ctx, tx, req.Source, model.KindMovie, match)
}

func (r *Reconciler) validateMovie(req MovieRequest) (provider.Provider, error) {
	if _, err := model.IdentityTable(req.Source, model.KindMovie); err != nil {
		return nil, syncerr.WrongValue("%s has no movie identities", req.Source)
	}
	switch {
	case req.Local == nil && req.Remote == nil:
		return nil, syncerr.WrongValue("movie request without local or remote record")
	case req.Local != nil && req.Local.ID == 0:
		return nil, syncerr.WrongValue("local movie is not persisted")
	case req.Remote != nil:
		if err := provider.Validate(req.Remote); err != nil {
			return nil, err
		}
		if req.Local == nil && len(req.Remote.Titles()) == 0 {
			return nil, syncerr.WrongValue("remote movie %d has no title", req.Remote.ID)
		}
	case len(req.Local.Titles()) == 0:
		return nil, syncerr.WrongValue("movie %d has no title to search with", req.Local.ID)
	}
	return r.Provider(req.Source)
}

// discoverMovie 已知本地电影，寻找外部 ID
func (r *Reconciler) discoverMovie(ctx context.Context, tx repository.Store, p provider.Provider, req MovieRequest) (*Match, error) {
	local := req.Local
	keys := titleKeys(local.Titles())

	cast, err := tx.MovieCast(ctx, local.ID)
	if err != nil {
		return nil, err
	}
	personIDs := make([]uint, 0, len(cast))
	for _, c := range cast {
		personIDs = append(personIDs, c.PersonID)
	}
	anchors, err := r.boundAnchors(ctx, tx, req.Source, model.KindPerson, personIDs)
	if err != nil {
		return nil, err
	}
	if len(anchors) > 0 {
		externalID, err := r.scanAnchors(ctx, anchors, func(ctx context.Context, anchor int64) ([]int64, error) {
			credits, err := p.PersonCredits(ctx, anchor)
			if err != nil {
				return nil, err
			}
			var ids []int64
			for _, c := range credits {
				if c.Movie != nil && keys.matchesTitle(c.Movie.Titles()) && yearMatches(local.Year, c.Movie.Year) {
					ids = append(ids, c.Movie.ID)
				}
			}
			return ids, nil
		})
		if err != nil {
			return nil, err
		}
		if externalID != 0 {
			return &Match{LocalID: local.ID, ExternalID: externalID, Strategy: StrategyRelation}, nil
		}
	}

	// 标题搜索要求年份完全一致
	if local.Year == 0 {
		return nil, syncerr.NothingFound("movie %d: no relation match and no year to search with", local.ID)
	}
	for _, query := range local.Titles() {
		refs, err := p.SearchMovies(ctx, query)
		if syncerr.IsSkippable(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var ids []int64
		for _, ref := range refs {
			if ref.Year == local.Year && keys.matchesTitle(ref.Titles()) {
				ids = append(ids, ref.ID)
			}
		}
		switch ids = distinct(ids); len(ids) {
		case 0:
			continue
		case 1:
			return &Match{LocalID: local.ID, ExternalID: ids[0], Strategy: StrategySearch}, nil
		default:
			return nil, syncerr.NothingFound("movie %d: %d search results for %q (%d)", local.ID, len(ids), query, local.Year)
		}
	}
	return nil, syncerr.NothingFound("movie %d (%s, %d) not found in %s", local.ID, local.DisplayName(), local.Year, req.Source)
}

// resolveMovie 已知外部记录，寻找或创建本地电影
func (r *Reconciler) resolveMovie(ctx context.Context, tx repository.Store, p provider.Provider, req MovieRequest) (*Match, error) {
	remote := req.Remote
	keys := titleKeys(remote.Titles())

	if req.Anchor != nil && req.Anchor.Kind() == model.KindPerson {
		cast, err := tx.PersonCast(ctx, req.Anchor.LocalID())
		if err != nil {
			return nil, err
		}
		var candidates []uint
		for _, c := range cast {
			if c.Movie != nil && keys.matchesTitle(c.Movie.Titles()) && yearMatches(remote.Year, c.Movie.Year) {
				candidates = append(candidates, c.MovieID)
			}
		}
		if candidates = distinct(candidates); len(candidates) == 1 {
			return &Match{LocalID: candidates[0], ExternalID: remote.ID, Strategy: StrategyRelation}, nil
		}
	}

	// 全局按标题查找要求年份完全一致，作品表不带年份时先读详情
	completed := false
	if remote.Year == 0 {
		var err error
		completed = true
		if remote, err = completeMovieRef(ctx, p, remote); err != nil {
			return nil, err
		}
		if remote.Year == 0 {
			return nil, syncerr.NothingFound("%s movie %d (%s) has no year to search with", req.Source, remote.ID, remote.Title)
		}
	}

	movies, err := tx.FindMoviesByTitle(ctx, remote.Titles(), remote.Year)
	if err != nil {
		return nil, err
	}
	var candidates []uint
	for _, m := range movies {
		_, bound, err := tx.FindExternal(ctx, req.Source, model.KindMovie, m.ID)
		if err != nil {
			return nil, err
		}
		if !bound {
			candidates = append(candidates, m.ID)
		}
	}
	switch len(candidates) {
	case 1:
		return &Match{LocalID: candidates[0], ExternalID: remote.ID, Strategy: StrategySearch}, nil
	case 0:
		if !req.AllowCreate {
			return nil, syncerr.NothingFound("%s movie %d (%s) has no local counterpart", req.Source, remote.ID, remote.Title)
		}
		return r.createMovie(ctx, tx, p, req.Source, remote, completed)
	}
	return nil, syncerr.NothingFound("%s movie %d (%s): %d local candidates", req.Source, remote.ID, remote.Title, len(candidates))
}

// createMovie 按外部记录建档，类型未知或在排除列表中的作品不建
func (r *Reconciler) createMovie(ctx context.Context, tx repository.Store, p provider.Provider, source model.Source, remote *provider.MovieRef, completed bool) (*Match, error) {
	if remote.Kind == "" && !completed {
		var err error
		if remote, err = completeMovieRef(ctx, p, remote); err != nil {
			return nil, err
		}
	}
	if remote.Kind == "" || r.cfg.Excluded(remote.Kind) {
		return nil, syncerr.NothingFound("%s movie %d (%s): kind %q is not created", source, remote.ID, remote.Title, remote.Kind)
	}
	movie := NewMovieFromRef(*remote, source)
	if err := tx.CreateMovie(ctx, movie); err != nil {
		return nil, fmt.Errorf("create movie: %w", err)
	}
	return &Match{LocalID: movie.ID, ExternalID: remote.ID, Created: true, Strategy: StrategyCreate}, nil
}

// completeMovieRef 用详情补齐作品表缺少的年份和类型，返回副本
func completeMovieRef(ctx context.Context, p provider.Provider, ref *provider.MovieRef) (*provider.MovieRef, error) {
	full, err := p.GetMovie(ctx, ref.ID)
	if syncerr.IsSkippable(err) {
		return ref, nil
	}
	if err != nil {
		return nil, err
	}
	out := *ref
	if out.Year == 0 {
		out.Year = full.Year
	}
	if out.Kind == "" {
		out.Kind = full.Kind
	}
	if out.Title == "" {
		out.Title = full.Title
	}
	if out.TitleOriginal == "" {
		out.TitleOriginal = full.TitleOriginal
	}
	return &out, nil
}

// ReconcilePerson 匹配人物并绑定身份
func (r *Reconciler) ReconcilePerson(ctx context.Context, tx repository.Store, req PersonRequest) (*Match, error) {
	p, err := r.validatePerson(req)
	if err != nil {
		return nil, err
	}

	var localID uint
	var remoteID int64
	if req.Local != nil {
		localID = req.Local.ID
	}
	if req.Remote != nil {
		remoteID = req.Remote.ID
	}

	match, err := byExternalID(ctx, tx, req.Source, model.KindPerson, localID, remoteID)
	if err != nil {
		return nil, err
	}
	if match != nil {
		return r.finish(ctx, tx, req.Source, model.KindPerson, match)
	}

	if req.Local != nil {
		match, err = r.discoverPerson(ctx, tx, p, req)
	} else {
		match, err = r.resolvePerson(ctx, tx, req)
	}
	if err != nil {
		return nil, err
	}
	return r.finish(ctx, tx, req.Source, model.KindPerson, match)
}

func (r *Reconciler) validatePerson(req PersonRequest) (provider.Provider, error) {
	if _, err := model.IdentityTable(req.Source, model.KindPerson); err != nil {
		return nil, syncerr.WrongValue("%s has no person identities", req.Source)
	}
	switch {
	case req.Local == nil && req.Remote == nil:
		return nil, syncerr.WrongValue("person request without local or remote record")
	case req.Local != nil && req.Local.ID == 0:
		return nil, syncerr.WrongValue("local person is not persisted")
	case req.Remote != nil:
		if err := provider.Validate(req.Remote); err != nil {
			return nil, err
		}
		if req.Local == nil && len(req.Remote.Names()) == 0 {
			return nil, syncerr.WrongValue("remote person %d has no name", req.Remote.ID)
		}
	case len(req.Local.Names()) == 0:
		return nil, syncerr.WrongValue("person %d has no name to search with", req.Local.ID)
	}
	return r.Provider(req.Source)
}

// discoverPerson 已知本地人物，寻找外部 ID
func (r *Reconciler) discoverPerson(ctx context.Context, tx repository.Store, p provider.Provider, req PersonRequest) (*Match, error) {
	local := req.Local
	keys := nameKeys(local.Names())

	cast, err := tx.PersonCast(ctx, local.ID)
	if err != nil {
		return nil, err
	}
	movieIDs := make([]uint, 0, len(cast))
	for _, c := range cast {
		movieIDs = append(movieIDs, c.MovieID)
	}
	anchors, err := r.boundAnchors(ctx, tx, req.Source, model.KindMovie, movieIDs)
	if err != nil {
		return nil, err
	}
	if len(anchors) > 0 {
		externalID, err := r.scanAnchors(ctx, anchors, func(ctx context.Context, anchor int64) ([]int64, error) {
			credits, err := p.MovieCredits(ctx, anchor)
			if err != nil {
				return nil, err
			}
			var ids []int64
			for _, c := range credits {
				if c.Person != nil && keys.matchesName(c.Person.Names()) {
					ids = append(ids, c.Person.ID)
				}
			}
			return ids, nil
		})
		if err != nil {
			return nil, err
		}
		if externalID != 0 {
			return &Match{LocalID: local.ID, ExternalID: externalID, Strategy: StrategyRelation}, nil
		}
	}

	// 搜索结果按数据源排序，取第一个未被其他人物占用的同名候选
	for _, query := range local.Names() {
		refs, err := p.SearchPersons(ctx, query)
		if syncerr.IsSkippable(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, ref := range refs {
			if !keys.matchesName(ref.Names()) {
				continue
			}
			owner, found, err := tx.FindLocal(ctx, req.Source, model.KindPerson, ref.ID)
			if err != nil {
				return nil, err
			}
			if found && owner != local.ID {
				continue
			}
			return &Match{LocalID: local.ID, ExternalID: ref.ID, Strategy: StrategySearch}, nil
		}
	}
	return nil, syncerr.NothingFound("person %d (%s) not found in %s", local.ID, local.DisplayName(), req.Source)
}

// resolvePerson 已知外部记录，寻找或创建本地人物
func (r *Reconciler) resolvePerson(ctx context.Context, tx repository.Store, req PersonRequest) (*Match, error) {
	remote := req.Remote
	keys := nameKeys(remote.Names())

	if req.Anchor != nil && req.Anchor.Kind() == model.KindMovie {
		cast, err := tx.MovieCast(ctx, req.Anchor.LocalID())
		if err != nil {
			return nil, err
		}
		var candidates []uint
		for _, c := range cast {
			if c.Person != nil && keys.matchesName(c.Person.Names()) {
				candidates = append(candidates, c.PersonID)
			}
		}
		if candidates = distinct(candidates); len(candidates) == 1 {
			return &Match{LocalID: candidates[0], ExternalID: remote.ID, Strategy: StrategyRelation}, nil
		}
	}

	persons, err := tx.FindPersonsByName(ctx, remote.Names())
	if err != nil {
		return nil, err
	}
	var candidates []uint
	for _, person := range persons {
		_, bound, err := tx.FindExternal(ctx, req.Source, model.KindPerson, person.ID)
		if err != nil {
			return nil, err
		}
		if !bound {
			candidates = append(candidates, person.ID)
		}
	}
	switch len(candidates) {
	case 1:
		return &Match{LocalID: candidates[0], ExternalID: remote.ID, Strategy: StrategySearch}, nil
	case 0:
		if req.AllowCreate {
			person := NewPersonFromRef(*remote)
			if err := tx.CreatePerson(ctx, person); err != nil {
				return nil, fmt.Errorf("create person: %w", err)
			}
			return &Match{LocalID: person.ID, ExternalID: remote.ID, Created: true, Strategy: StrategyCreate}, nil
		}
		return nil, syncerr.NothingFound("%s person %d (%s) has no local counterpart", req.Source, remote.ID, remote.Names())
	}
	return nil, syncerr.NothingFound("%s person %d: %d local candidates", req.Source, remote.ID, len(candidates))
}

// ApplyMovie 合并电影详情：字段、分类并集、外部身份评分
func (r *Reconciler) ApplyMovie(ctx context.Context, tx repository.Store, localID uint, remote *provider.Movie, source model.Source) ([]string, error) {
	if err := provider.Validate(remote); err != nil {
		return nil, err
	}
	local, err := tx.GetMovie(ctx, localID)
	if err != nil {
		return nil, err
	}
	if local == nil {
		return nil, syncerr.NothingFound("movie %d", localID)
	}

	changed := MergeMovie(local, remote, source, &r.cfg)
	if len(changed) > 0 {
		if err := tx.SaveMovie(ctx, local); err != nil {
			return nil, fmt.Errorf("save movie: %w", err)
		}
	}

	for ptype, names := range map[model.PropertyType][]string{
		model.PropertyGenre:    remote.Genres,
		model.PropertyCountry:  remote.Countries,
		model.PropertyLanguage: remote.Languages,
	} {
		ids, err := r.mapper.MapPropertyNames(ctx, tx, source, ptype, names)
		if err != nil {
			return nil, err
		}
		if err := tx.AddMovieProperties(ctx, localID, ptype, ids); err != nil {
			return nil, fmt.Errorf("add %s: %w", ptype, err)
		}
	}

	if err := tx.SaveIdentity(ctx, source, model.KindMovie, MovieIdentity(remote, r.now())); err != nil {
		return nil, err
	}
	return changed, nil
}

// ApplyPerson 合并人物详情
func (r *Reconciler) ApplyPerson(ctx context.Context, tx repository.Store, localID uint, remote *provider.Person, source model.Source) ([]string, error) {
	if err := provider.Validate(remote); err != nil {
		return nil, err
	}
	local, err := tx.GetPerson(ctx, localID)
	if err != nil {
		return nil, err
	}
	if local == nil {
		return nil, syncerr.NothingFound("person %d", localID)
	}

	changed := MergePerson(local, remote, source, &r.cfg)
	if len(changed) > 0 {
		if err := tx.SavePerson(ctx, local); err != nil {
			return nil, fmt.Errorf("save person: %w", err)
		}
	}
	if err := tx.SaveIdentity(ctx, source, model.KindPerson, PersonIdentity(remote, r.now())); err != nil {
		return nil, err
	}
	return changed, nil
}
