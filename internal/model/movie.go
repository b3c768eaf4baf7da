package model

import (
	"strings"
	"time"

	"github.com/lib/pq"
)

// Movie 电影
type Movie struct {
	ID            uint           `json:"id" gorm:"primaryKey"`
	Title         string         `json:"title" gorm:"index"`
	TitleEn       string         `json:"title_en" gorm:"index"`
	TitleOriginal string         `json:"title_original"`
	Akas          pq.StringArray `json:"akas" gorm:"type:text[]"` // 其他译名
	Year          int            `json:"year" gorm:"index"`
	Runtime       int            `json:"runtime"`
	Genres        []Genre        `json:"genres,omitempty" gorm:"many2many:movie_genres"`
	Countries     []Country      `json:"countries,omitempty" gorm:"many2many:movie_countries"`
	Languages     []Language     `json:"languages,omitempty" gorm:"many2many:movie_languages"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Ref 返回电影的内容引用
func (m *Movie) Ref() ContentRef { return MovieRef(m.ID) }

// DisplayName 展示名称
func (m *Movie) DisplayName() string {
	for _, t := range []string{m.Title, m.TitleEn, m.TitleOriginal} {
		if t != "" {
			return t
		}
	}
	return ""
}

// Titles 返回所有非空且去重的标题，顺序: 原名、英文名、本地名、译名
func (m *Movie) Titles() []string {
	return uniqueNonEmpty(append([]string{m.TitleOriginal, m.TitleEn, m.Title}, m.Akas...))
}

// Person 人物
type Person struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name" gorm:"index"`
	FirstNameEn string     `json:"first_name_en"`
	LastNameEn  string     `json:"last_name_en" gorm:"index"`
	Gender      string     `json:"gender"`
	DateBirth   *time.Time `json:"date_birth"`
	DateDeath   *time.Time `json:"date_death"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Ref 返回人物的内容引用
func (p *Person) Ref() ContentRef { return PersonRef(p.ID) }

// FullName 本地语言全名
func (p *Person) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// FullNameEn 英文全名
func (p *Person) FullNameEn() string {
	return strings.TrimSpace(p.FirstNameEn + " " + p.LastNameEn)
}

// DisplayName 展示名称
func (p *Person) DisplayName() string {
	if n := p.FullName(); n != "" {
		return n
	}
	return p.FullNameEn()
}

// Names 所有非空且去重的全名
func (p *Person) Names() []string {
	return uniqueNonEmpty([]string{p.FullNameEn(), p.FullName()})
}

// Role 职务（演员、导演等）
type Role struct {
	ID   uint   `json:"id" gorm:"primaryKey"`
	Code string `json:"code" gorm:"uniqueIndex"`
	Name string `json:"name"`
}

// 职务代码
const (
	RoleActor     = "actor"
	RoleDirector  = "director"
	RoleScenarist = "scenarist"
	RoleAuthor    = "author"
	RoleProducer  = "producer"
	RoleOperator  = "operator"
	RoleEditor    = "editor"
	RoleComposer  = "composer"
	RoleDesigner  = "designer"
)

// RoleCodes 所有职务代码
var RoleCodes = []string{
	RoleActor, RoleDirector, RoleScenarist, RoleAuthor, RoleProducer,
	RoleOperator, RoleEditor, RoleComposer, RoleDesigner,
}

// Cast 人物在电影中的职务，(person, movie, role) 唯一
type Cast struct {
	ID       uint    `json:"id" gorm:"primaryKey"`
	MovieID  uint    `json:"movie_id" gorm:"not null;uniqueIndex:idx_cast_person_movie_role,priority:2"`
	PersonID uint    `json:"person_id" gorm:"not null;uniqueIndex:idx_cast_person_movie_role,priority:1"`
	RoleID   uint    `json:"role_id" gorm:"not null;uniqueIndex:idx_cast_person_movie_role,priority:3"`
	Name     string  `json:"name"`    // 角色名（本地语言）
	NameEn   string  `json:"name_en"` // 角色名（英文）
	Movie    *Movie  `json:"movie,omitempty" gorm:"constraint:OnDelete:CASCADE"`
	Person   *Person `json:"person,omitempty" gorm:"constraint:OnDelete:CASCADE"`
}

// TableName 表名
func (Cast) TableName() string { return "cast" }

// RoleName 按语言取角色名
func (c *Cast) RoleName(lang string) string {
	if lang == "en" {
		return c.NameEn
	}
	return c.Name
}

// SetRoleName 按语言写入角色名
func (c *Cast) SetRoleName(lang, name string) {
	if lang == "en" {
		c.NameEn = name
		return
	}
	c.Name = name
}

// Genre 类型
type Genre struct {
	ID   uint   `json:"id" gorm:"primaryKey"`
	Name string `json:"name" gorm:"uniqueIndex"`
}

// Country 国家
type Country struct {
	ID   uint   `json:"id" gorm:"primaryKey"`
	Name string `json:"name" gorm:"uniqueIndex"`
}

// Language 语言
type Language struct {
	ID   uint   `json:"id" gorm:"primaryKey"`
	Name string `json:"name" gorm:"uniqueIndex"`
}

// PropertyName 外部数据源对某个本地分类属性的叫法，(source, type, name) 与 (source, type, property_id) 均唯一
type PropertyName struct {
	ID         uint         `json:"id" gorm:"primaryKey"`
	Source     Source       `json:"source" gorm:"type:text;not null;uniqueIndex:idx_property_names_name,priority:1;uniqueIndex:idx_property_names_property,priority:1"`
	Type       PropertyType `json:"type" gorm:"type:text;not null;uniqueIndex:idx_property_names_name,priority:2;uniqueIndex:idx_property_names_property,priority:2"`
	Name       string       `json:"name" gorm:"not null;uniqueIndex:idx_property_names_name,priority:3"`
	PropertyID uint         `json:"property_id" gorm:"not null;uniqueIndex:idx_property_names_property,priority:3"`
}

func uniqueNonEmpty(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
