package reconcile

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/user/kinomerge/internal/metrics"
	"github.com/user/kinomerge/internal/model"
	"github.com/user/kinomerge/internal/provider"
	"github.com/user/kinomerge/internal/repository"
	"github.com/user/kinomerge/internal/syncerr"
)

// Mode 关联模式
type Mode string

const (
	// ModeExisting 只关联本地已有的对应实体
	ModeExisting Mode = "existing"
	// ModeAll 缺少对应实体时建档，排除类型除外
	ModeAll Mode = "all"
)

// ParseMode 解析关联模式，空值视为 existing
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeExisting:
		return ModeExisting, nil
	case ModeAll:
		return ModeAll, nil
	}
	return "", fmt.Errorf("unknown cast mode: %q", s)
}

// LinkRequest 一条演职员记录的关联请求
type LinkRequest struct {
	Source model.Source
	Local  model.ContentRef
	Credit provider.Credit
	Mode   Mode
}

// LinkResult 关联结果
type LinkResult struct {
	Cast        *model.Cast
	Created     bool // 新增了 cast 行
	Counterpart *Match
}

// CastLinker 把远端演职员表关联到本地
type CastLinker struct {
	rec *Reconciler
	log *zap.Logger
}

// NewCastLinker 创建关联器
func NewCastLinker(rec *Reconciler, log *zap.Logger) *CastLinker {
	return &CastLinker{rec: rec, log: log}
}

// roleID 翻译职务，编剧备注命中原著规则时改判为 author
func (l *CastLinker) roleID(ctx context.Context, tx repository.Store, source model.Source, credit provider.Credit) (uint, string, error) {
	cfg := l.rec.Config()
	code, ok := cfg.RoleCode(source, credit.Role)
	if !ok {
		return 0, "", syncerr.WrongValue("%s role %q is not mapped", source, credit.Role)
	}
	if code == model.RoleScenarist && cfg.AuthorNote != nil && cfg.AuthorNote.MatchString(credit.Note) {
		code = model.RoleAuthor
	}
	if id, ok := cfg.RoleIDs[code]; ok {
		return id, code, nil
	}
	role, err := tx.RoleByCode(ctx, code)
	if err != nil {
		return 0, "", err
	}
	if role == nil {
		return 0, "", fmt.Errorf("role %s is missing", code)
	}
	return role.ID, code, nil
}

// LinkCast 关联一条演职员记录：翻译职务、匹配对应实体、写入 cast 行
func (l *CastLinker) LinkCast(ctx context.Context, tx repository.Store, req LinkRequest) (*LinkResult, error) {
	roleID, code, err := l.roleID(ctx, tx, req.Source, req.Credit)
	if err != nil {
		return nil, err
	}

	cast := &model.Cast{RoleID: roleID}
	var counterpart *Match
	switch req.Local.Kind() {
	case model.KindMovie:
		if req.Credit.Person == nil {
			return nil, syncerr.WrongValue("movie credit without person")
		}
		counterpart, err = l.rec.ReconcilePerson(ctx, tx, PersonRequest{
			Source:      req.Source,
			Remote:      req.Credit.Person,
			Anchor:      req.Local,
			AllowCreate: req.Mode == ModeAll,
		})
		if err != nil {
			return nil, err
		}
		cast.MovieID, cast.PersonID = req.Local.LocalID(), counterpart.LocalID
	case model.KindPerson:
		if req.Credit.Movie == nil {
			return nil, syncerr.WrongValue("person credit without movie")
		}
		counterpart, err = l.rec.ReconcileMovie(ctx, tx, MovieRequest{
			Source:      req.Source,
			Remote:      req.Credit.Movie,
			Anchor:      req.Local,
			AllowCreate: req.Mode == ModeAll,
		})
		if err != nil {
			return nil, err
		}
		cast.MovieID, cast.PersonID = counterpart.LocalID, req.Local.LocalID()
	default:
		return nil, syncerr.WrongValue("unsupported content %s", req.Local)
	}

	// 只有演员的备注是角色名
	if code == model.RoleActor && req.Credit.Note != "" {
		cast.SetRoleName(req.Source.Lang(), req.Credit.Note)
	}

	created, err := tx.UpsertCast(ctx, cast)
	if err != nil {
		return nil, fmt.Errorf("upsert cast: %w", err)
	}

	result := "existing"
	if created {
		result = "created"
	}
	metrics.CastRows.WithLabelValues(string(req.Source), result).Inc()
	l.log.Debug("[Cast] 关联演职员",
		zap.String("source", string(req.Source)),
		zap.Stringer("local", req.Local),
		zap.String("role", code),
		zap.Uint("movie_id", cast.MovieID),
		zap.Uint("person_id", cast.PersonID),
		zap.String("result", result))
	return &LinkResult{Cast: cast, Created: created, Counterpart: counterpart}, nil
}
