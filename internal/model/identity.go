package model

import (
	"fmt"
	"time"
)

// ExternalIdentity 本地实体在某个外部数据源中的身份
// 存放在 imdb_movies / imdb_persons / kinopoisk_movies / kinopoisk_persons 四张表中
type ExternalIdentity struct {
	ID       int64      `json:"id" gorm:"column:id;primaryKey;autoIncrement:false"` // 外部数字 ID
	LocalID  uint       `json:"local_id" gorm:"column:local_id;not null"`
	Rating   float64    `json:"rating" gorm:"column:rating"`
	Votes    int        `json:"votes" gorm:"column:votes"`
	Info     string     `json:"info" gorm:"column:info;type:text"` // 简介
	SyncedAt *time.Time `json:"synced_at" gorm:"column:synced_at"`
}

// IdentityTable 返回某个数据源、某类实体的身份表名
func IdentityTable(source Source, kind Kind) (string, error) {
	switch source {
	case SourceIMDb, SourceKinopoisk:
	default:
		return "", fmt.Errorf("source %s has no numeric identities", source)
	}
	switch kind {
	case KindMovie:
		return string(source) + "_movies", nil
	case KindPerson:
		return string(source) + "_persons", nil
	}
	return "", fmt.Errorf("unknown kind: %q", kind)
}

// ContentRef 指向一部电影或一个人物
type ContentRef interface {
	Kind() Kind
	LocalID() uint
	String() string
	isContentRef()
}

// MovieRef 电影引用
type MovieRef uint

func (r MovieRef) Kind() Kind     { return KindMovie }
func (r MovieRef) LocalID() uint  { return uint(r) }
func (r MovieRef) String() string { return fmt.Sprintf("movie:%d", uint(r)) }
func (MovieRef) isContentRef()    {}

// PersonRef 人物引用
type PersonRef uint

func (r PersonRef) Kind() Kind     { return KindPerson }
func (r PersonRef) LocalID() uint  { return uint(r) }
func (r PersonRef) String() string { return fmt.Sprintf("person:%d", uint(r)) }
func (PersonRef) isContentRef()    {}

// NewRef 由类型和 ID 构造引用，仅用于数据库列和请求参数的边界转换
func NewRef(kind Kind, id uint) (ContentRef, error) {
	switch kind {
	case KindMovie:
		return MovieRef(id), nil
	case KindPerson:
		return PersonRef(id), nil
	}
	return nil, fmt.Errorf("unknown kind: %q", kind)
}

// Content 可被 ContentRef 解析出的本地实体
type Content interface {
	Ref() ContentRef
	DisplayName() string
}

// WikipediaPage 维基百科页面，(lang, title) 唯一，每个实体每种语言至多一页
type WikipediaPage struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	Lang        string     `json:"lang" gorm:"not null;uniqueIndex:idx_wikipedia_pages_title,priority:1;uniqueIndex:idx_wikipedia_pages_content,priority:3"`
	Title       string     `json:"title" gorm:"not null;uniqueIndex:idx_wikipedia_pages_title,priority:2"`
	ContentKind Kind       `json:"content_kind" gorm:"column:content_kind;type:text;not null;uniqueIndex:idx_wikipedia_pages_content,priority:1"`
	ObjectID    uint       `json:"object_id" gorm:"not null;uniqueIndex:idx_wikipedia_pages_content,priority:2"`
	Content     string     `json:"content" gorm:"type:text"`
	SyncedAt    *time.Time `json:"synced_at"`
}

// NewWikipediaPage 创建挂在 ref 上的页面
func NewWikipediaPage(ref ContentRef, lang, title string) *WikipediaPage {
	return &WikipediaPage{Lang: lang, Title: title, ContentKind: ref.Kind(), ObjectID: ref.LocalID()}
}

// Ref 页面所属实体
func (p *WikipediaPage) Ref() ContentRef {
	ref, err := NewRef(p.ContentKind, p.ObjectID)
	if err != nil {
		return nil
	}
	return ref
}

// SyncState 某实体在某数据源上的分阶段同步记录
type SyncState struct {
	ID              uint       `json:"id" gorm:"primaryKey"`
	ContentKind     Kind       `json:"content_kind" gorm:"column:content_kind;type:text;not null;uniqueIndex:idx_sync_states_key,priority:1"`
	ObjectID        uint       `json:"object_id" gorm:"not null;uniqueIndex:idx_sync_states_key,priority:2"`
	Source          Source     `json:"source" gorm:"type:text;not null;uniqueIndex:idx_sync_states_key,priority:3"`
	DetailsSyncedAt *time.Time `json:"details_synced_at"`
	CastSyncedAt    *time.Time `json:"cast_synced_at"`
	ImagesSyncedAt  *time.Time `json:"images_synced_at"`
	LinksSyncedAt   *time.Time `json:"links_synced_at"`
	LastError       string     `json:"last_error" gorm:"type:text"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// 同步状态
const (
	StateUnsynced      = "UNSYNCED"
	StateDetailsSynced = "DETAILS_SYNCED"
	StateCastSynced    = "CAST_SYNCED"
	StateImagesSynced  = "IMAGES_SYNCED"
)

// State 根据各阶段时间戳推导状态机位置
func (s *SyncState) State() string {
	switch {
	case s == nil || s.DetailsSyncedAt == nil:
		return StateUnsynced
	case s.CastSyncedAt == nil:
		return StateDetailsSynced
	case s.ImagesSyncedAt == nil:
		return StateCastSynced
	default:
		return StateImagesSynced
	}
}

// Mark 记录某阶段完成时间
func (s *SyncState) Mark(stage Stage, at time.Time) {
	t := at
	switch stage {
	case StageDetails:
		s.DetailsSyncedAt = &t
	case StageCast:
		s.CastSyncedAt = &t
	case StageImages:
		s.ImagesSyncedAt = &t
	case StageLinks:
		s.LinksSyncedAt = &t
	}
}

// Image 待下载的外部图片，按 (source, source_key) 去重
type Image struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	ContentKind Kind      `json:"content_kind" gorm:"column:content_kind;type:text;not null;index:idx_images_content,priority:1"`
	ObjectID    uint      `json:"object_id" gorm:"not null;index:idx_images_content,priority:2"`
	Source      Source    `json:"source" gorm:"type:text;not null;uniqueIndex:idx_images_source_key,priority:1"`
	SourceKey   string    `json:"source_key" gorm:"not null;uniqueIndex:idx_images_source_key,priority:2"`
	URL         string    `json:"url" gorm:"type:text;not null"`
	CreatedAt   time.Time `json:"created_at"`
}
