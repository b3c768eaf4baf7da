// Package provider 外部元数据源客户端
package provider

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/user/kinomerge/internal/model"
	"github.com/user/kinomerge/internal/syncerr"
	"github.com/user/kinomerge/internal/utils"
)

// Provider 单个外部数据源
// 不做并发，只负责单次请求，并发和限流由调用方或 Resilient 控制
type Provider interface {
	Source() model.Source

	GetMovie(ctx context.Context, id int64) (*Movie, error)
	SearchMovies(ctx context.Context, query string) ([]MovieRef, error)
	GetPerson(ctx context.Context, id int64) (*Person, error)
	SearchPersons(ctx context.Context, query string) ([]PersonRef, error)

	// MovieCredits 电影的演职员表，Credit.Person 有值
	MovieCredits(ctx context.Context, id int64) ([]Credit, error)
	// PersonCredits 人物的作品表，Credit.Movie 有值
	PersonCredits(ctx context.Context, id int64) ([]Credit, error)

	MovieImages(ctx context.Context, id int64) ([]Image, error)
	PersonImages(ctx context.Context, id int64) ([]Image, error)
}

// Encyclopedia 维基百科类数据源
type Encyclopedia interface {
	Search(ctx context.Context, lang, query string) ([]string, error)
	GetPage(ctx context.Context, lang, title string) (*Page, error)
}

// Movie 外部电影详情
type Movie struct {
	ID            int64    `json:"id" validate:"required,gt=0"`
	Title         string   `json:"title" validate:"required"` // 数据源语言的标题
	TitleOriginal string   `json:"title_original"`
	Akas          []string `json:"akas"`
	Year          int      `json:"year" validate:"omitempty,gte=1870,lte=2100"`
	Runtime       int      `json:"runtime" validate:"gte=0"` // 分钟
	Genres        []string `json:"genres"`
	Countries     []string `json:"countries"`
	Languages     []string `json:"languages"`
	Rating        float64  `json:"rating" validate:"gte=0,lte=10"`
	Votes         int      `json:"votes" validate:"gte=0"`
	Synopsis      string   `json:"synopsis"`
	Kind          string   `json:"kind"`
	IMDbID        int64    `json:"imdb_id"` // Kinopoisk 提供的交叉 ID
	Poster        string   `json:"poster"`
}

// Ref 转为引用
func (m *Movie) Ref() MovieRef {
	return MovieRef{ID: m.ID, Title: m.Title, TitleOriginal: m.TitleOriginal, Year: m.Year, Kind: m.Kind}
}

// Person 外部人物详情
type Person struct {
	ID        int64      `json:"id" validate:"required,gt=0"`
	Name      string     `json:"name" validate:"required_without=NameEn"` // 数据源语言的全名
	NameEn    string     `json:"name_en"`
	Gender    string     `json:"gender" validate:"omitempty,oneof=male female"`
	DateBirth *time.Time `json:"date_birth"`
	DateDeath *time.Time `json:"date_death"`
	Info      string     `json:"info"`
	Photo     string     `json:"photo"`
}

// Ref 转为引用
func (p *Person) Ref() PersonRef {
	return PersonRef{ID: p.ID, Name: p.Name, NameEn: p.NameEn}
}

// MovieRef 列表中的电影
type MovieRef struct {
	ID            int64  `json:"id" validate:"required,gt=0"`
	Title         string `json:"title"`
	TitleOriginal string `json:"title_original"`
	Year          int    `json:"year"` // 0 表示未知
	Kind          string `json:"kind"`
}

// Titles 非空标题
func (r MovieRef) Titles() []string {
	var titles []string
	for _, t := range []string{r.Title, r.TitleOriginal} {
		if t != "" {
			titles = append(titles, t)
		}
	}
	return titles
}

// PersonRef 列表中的人物
type PersonRef struct {
	ID     int64  `json:"id" validate:"required,gt=0"`
	Name   string `json:"name"`
	NameEn string `json:"name_en"`
}

// Names 非空名字
func (r PersonRef) Names() []string {
	var names []string
	for _, n := range []string{r.Name, r.NameEn} {
		if n != "" {
			names = append(names, n)
		}
	}
	return names
}

// Credit 一条演职员记录
// Role 为数据源自己的职务词汇，Note 为角色名或编剧备注（如 "novel"）
type Credit struct {
	Role   string     `json:"role"`
	Note   string     `json:"note"`
	Movie  *MovieRef  `json:"movie,omitempty"`
	Person *PersonRef `json:"person,omitempty"`
}

// Image 外部图片
type Image struct {
	URL string `json:"url"`
	Key string `json:"key"` // 去重标识
}

// Page 维基百科页面
type Page struct {
	Lang      string            `json:"lang"`
	Title     string            `json:"title"`
	Extract   string            `json:"extract"`
	LangLinks map[string]string `json:"lang_links"` // 语言 -> 标题
}

var validate = validator.New()

// Validate 校验外部记录，不合法时返回 WrongValue
func Validate(record any) error {
	if err := validate.Struct(record); err != nil {
		return syncerr.WrongValue("invalid remote record").WithCause(err)
	}
	return nil
}

// Classify 把传输层错误归入同步错误分类
func Classify(source model.Source, err error) error {
	if err == nil || syncerr.Code(err) != "" {
		return err
	}

	var statusErr *utils.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusNotFound:
			return syncerr.NothingFound("%s: %s", source, statusErr.URL)
		case statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500:
			return syncerr.Transient(err, "%s", source)
		case statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden:
			return err
		}
		return syncerr.WrongValue("%s", source).WithCause(err)
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests),
		errors.As(err, &netErr):
		return syncerr.Transient(err, "%s", source)
	}
	return err
}
