package repository

import (
	"context"
	"time"

	"github.com/user/kinomerge/internal/model"
)

// Store 同步引擎使用的持久化操作
// 查询类方法在记录不存在时返回 nil, nil 或 found=false
type Store interface {
	IdentityIndex

	GetMovie(ctx context.Context, id uint) (*model.Movie, error)
	GetPerson(ctx context.Context, id uint) (*model.Person, error)
	FindMoviesByTitle(ctx context.Context, titles []string, year int) ([]model.Movie, error)
	FindPersonsByName(ctx context.Context, names []string) ([]model.Person, error)
	CreateMovie(ctx context.Context, m *model.Movie) error
	CreatePerson(ctx context.Context, p *model.Person) error
	SaveMovie(ctx context.Context, m *model.Movie) error
	SavePerson(ctx context.Context, p *model.Person) error

	MovieCast(ctx context.Context, movieID uint) ([]model.Cast, error)
	PersonCast(ctx context.Context, personID uint) ([]model.Cast, error)
	// UpsertCast 按 (person, movie, role) 插入，已存在时只补全空的角色名
	UpsertCast(ctx context.Context, c *model.Cast) (created bool, err error)
	RoleByCode(ctx context.Context, code string) (*model.Role, error)

	FindPropertyIDs(ctx context.Context, source model.Source, ptype model.PropertyType, names []string) (map[string]uint, error)
	// AddMovieProperties 只增不删
	AddMovieProperties(ctx context.Context, movieID uint, ptype model.PropertyType, ids []uint) error
	MoviePropertyIDs(ctx context.Context, movieID uint, ptype model.PropertyType) ([]uint, error)

	FindPage(ctx context.Context, lang, title string) (*model.WikipediaPage, error)
	PagesFor(ctx context.Context, ref model.ContentRef) ([]model.WikipediaPage, error)
	UpsertPage(ctx context.Context, page *model.WikipediaPage) error

	// AddImages 按 (source, source_key) 去重，返回新增数量
	AddImages(ctx context.Context, images []model.Image) (int, error)

	GetSyncState(ctx context.Context, ref model.ContentRef, source model.Source) (*model.SyncState, error)
	ListSyncStates(ctx context.Context, ref model.ContentRef) ([]model.SyncState, error)
	SaveSyncState(ctx context.Context, state *model.SyncState) error

	// Transaction 在事务中执行 fn，fn 返回错误时回滚
	Transaction(ctx context.Context, fn func(tx Store) error) error
	// LockEntity 获取事务级咨询锁，事务结束时释放
	LockEntity(ctx context.Context, key string) error
}

// IdentityIndex 外部身份与本地实体的双向映射
type IdentityIndex interface {
	FindLocal(ctx context.Context, source model.Source, kind model.Kind, externalID int64) (uint, bool, error)
	FindExternal(ctx context.Context, source model.Source, kind model.Kind, localID uint) (int64, bool, error)
	GetIdentity(ctx context.Context, source model.Source, kind model.Kind, externalID int64) (*model.ExternalIdentity, error)
	// BindIdentity 幂等；任一侧已绑定到其他对象时返回 PossibleDuplicate
	BindIdentity(ctx context.Context, source model.Source, kind model.Kind, localID uint, externalID int64) error
	// SaveIdentity 更新已绑定身份的评分、票数、简介和同步时间
	SaveIdentity(ctx context.Context, source model.Source, kind model.Kind, identity *model.ExternalIdentity) error
	ListStaleIdentities(ctx context.Context, source model.Source, kind model.Kind, before time.Time, limit int) ([]model.ExternalIdentity, error)
}

// LockKey 同一实体在同一数据源上的写入锁键
func LockKey(ref model.ContentRef, source model.Source) string {
	return ref.String() + "@" + string(source)
}
