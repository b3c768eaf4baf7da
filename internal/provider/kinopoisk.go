package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/user/kinomerge/internal/model"
	"github.com/user/kinomerge/internal/utils"
)

var kinopoiskKinds = map[string]string{
	"FILM":        "movie",
	"TV_SERIES":   "tv series",
	"MINI_SERIES": "tv mini series",
	"TV_SHOW":     "tv show",
	"VIDEO":       "video",
}

// Kinopoisk kinopoiskapiunofficial.tech 客户端
type Kinopoisk struct {
	baseURL string
	client  *utils.HTTPClient
}

// NewKinopoisk 创建 Kinopoisk 客户端
func NewKinopoisk(baseURL, apiKey string, timeout time.Duration) *Kinopoisk {
	return &Kinopoisk{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: utils.NewHTTPClient(timeout).
			WithHeader("X-API-KEY", apiKey).
			WithHeader("Accept", "application/json"),
	}
}

func (p *Kinopoisk) Source() model.Source { return model.SourceKinopoisk }

func (p *Kinopoisk) getJSON(ctx context.Context, path string, target any) error {
	if err := p.client.GetJSON(ctx, p.baseURL+path, target); err != nil {
		return Classify(model.SourceKinopoisk, err)
	}
	return nil
}

type kpFilm struct {
	KinopoiskID  int64    `json:"kinopoiskId"`
	IMDbID       string   `json:"imdbId"`
	NameRu       string   `json:"nameRu"`
	NameEn       string   `json:"nameEn"`
	NameOriginal string   `json:"nameOriginal"`
	Year         int      `json:"year"`
	FilmLength   int      `json:"filmLength"`
	Rating       *float64 `json:"ratingKinopoisk"`
	Votes        int      `json:"ratingKinopoiskVoteCount"`
	Description  string   `json:"description"`
	Type         string   `json:"type"`
	PosterURL    string   `json:"posterUrl"`
	Genres       []struct {
		Genre string `json:"genre"`
	} `json:"genres"`
	Countries []struct {
		Country string `json:"country"`
	} `json:"countries"`
}

// GetMovie 电影详情
func (p *Kinopoisk) GetMovie(ctx context.Context, id int64) (*Movie, error) {
	var film kpFilm
	if err := p.getJSON(ctx, fmt.Sprintf("/api/v2.2/films/%d", id), &film); err != nil {
		return nil, err
	}

	movie := &Movie{
		ID:            film.KinopoiskID,
		Title:         film.NameRu,
		TitleOriginal: film.NameOriginal,
		Year:          film.Year,
		Runtime:       film.FilmLength,
		Votes:         film.Votes,
		Synopsis:      film.Description,
		Kind:          kinopoiskKinds[film.Type],
		Poster:        film.PosterURL,
	}
	if movie.ID == 0 {
		movie.ID = id
	}
	if movie.Title == "" {
		movie.Title = firstNonEmpty(film.NameEn, film.NameOriginal)
	}
	if movie.TitleOriginal == "" {
		movie.TitleOriginal = film.NameEn
	}
	if film.NameEn != "" && film.NameEn != movie.Title && film.NameEn != movie.TitleOriginal {
		movie.Akas = append(movie.Akas, film.NameEn)
	}
	if film.Rating != nil {
		movie.Rating = *film.Rating
	}
	if film.IMDbID != "" {
		if _, imdbID, err := utils.ParseIMDbID(film.IMDbID); err == nil {
			movie.IMDbID = imdbID
		}
	}
	for _, g := range film.Genres {
		movie.Genres = append(movie.Genres, g.Genre)
	}
	for _, c := range film.Countries {
		movie.Countries = append(movie.Countries, c.Country)
	}
	return movie, nil
}

type kpSearchResult struct {
	Films []struct {
		FilmID int64  `json:"filmId"`
		NameRu string `json:"nameRu"`
		NameEn string `json:"nameEn"`
		Type   string `json:"type"`
		Year   string `json:"year"`
	} `json:"films"`
}

// SearchMovies 按关键字搜索
func (p *Kinopoisk) SearchMovies(ctx context.Context, query string) ([]MovieRef, error) {
	var result kpSearchResult
	if err := p.getJSON(ctx, "/api/v2.1/films/search-by-keyword?keyword="+url.QueryEscape(query), &result); err != nil {
		return nil, err
	}
	refs := make([]MovieRef, 0, len(result.Films))
	for _, f := range result.Films {
		refs = append(refs, MovieRef{
			ID:            f.FilmID,
			Title:         f.NameRu,
			TitleOriginal: f.NameEn,
			Year:          utils.ParseYear(f.Year),
			Kind:          kinopoiskKinds[f.Type],
		})
	}
	return refs, nil
}

type kpPerson struct {
	PersonID  int64    `json:"personId"`
	NameRu    string   `json:"nameRu"`
	NameEn    string   `json:"nameEn"`
	Sex       string   `json:"sex"`
	Birthday  string   `json:"birthday"`
	Death     string   `json:"death"`
	PosterURL string   `json:"posterUrl"`
	Facts     []string `json:"facts"`
	Films     []struct {
		FilmID        int64  `json:"filmId"`
		NameRu        string `json:"nameRu"`
		NameEn        string `json:"nameEn"`
		Description   string `json:"description"`
		ProfessionKey string `json:"professionKey"`
	} `json:"films"`
}

func (p *Kinopoisk) person(ctx context.Context, id int64) (*kpPerson, error) {
	var person kpPerson
	if err := p.getJSON(ctx, fmt.Sprintf("/api/v1/staff/%d", id), &person); err != nil {
		return nil, err
	}
	if person.PersonID == 0 {
		person.PersonID = id
	}
	return &person, nil
}

// GetPerson 人物详情
func (p *Kinopoisk) GetPerson(ctx context.Context, id int64) (*Person, error) {
	kp, err := p.person(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Person{
		ID:        kp.PersonID,
		Name:      kp.NameRu,
		NameEn:    kp.NameEn,
		Gender:    strings.ToLower(kp.Sex),
		DateBirth: parseDate(kp.Birthday),
		DateDeath: parseDate(kp.Death),
		Info:      strings.Join(kp.Facts, "\n"),
		Photo:     kp.PosterURL,
	}, nil
}

// SearchPersons 按名字搜索人物
func (p *Kinopoisk) SearchPersons(ctx context.Context, query string) ([]PersonRef, error) {
	var result struct {
		Items []struct {
			KinopoiskID int64  `json:"kinopoiskId"`
			NameRu      string `json:"nameRu"`
			NameEn      string `json:"nameEn"`
		} `json:"items"`
	}
	if err := p.getJSON(ctx, "/api/v1/persons?name="+url.QueryEscape(query), &result); err != nil {
		return nil, err
	}
	refs := make([]PersonRef, 0, len(result.Items))
	for _, item := range result.Items {
		refs = append(refs, PersonRef{ID: item.KinopoiskID, Name: item.NameRu, NameEn: item.NameEn})
	}
	return refs, nil
}

// MovieCredits 电影演职员
func (p *Kinopoisk) MovieCredits(ctx context.Context, id int64) ([]Credit, error) {
	var staff []struct {
		StaffID       int64  `json:"staffId"`
		NameRu        string `json:"nameRu"`
		NameEn        string `json:"nameEn"`
		Description   string `json:"description"`
		ProfessionKey string `json:"professionKey"`
	}
	if err := p.getJSON(ctx, fmt.Sprintf("/api/v1/staff?filmId=%d", id), &staff); err != nil {
		return nil, err
	}
	credits := make([]Credit, 0, len(staff))
	for _, s := range staff {
		credits = append(credits, Credit{
			Role:   s.ProfessionKey,
			Note:   strings.TrimSpace(s.Description),
			Person: &PersonRef{ID: s.StaffID, Name: s.NameRu, NameEn: s.NameEn},
		})
	}
	return credits, nil
}

// PersonCredits 人物作品表，接口不返回年份和类型
func (p *Kinopoisk) PersonCredits(ctx context.Context, id int64) ([]Credit, error) {
	kp, err := p.person(ctx, id)
	if err != nil {
		return nil, err
	}
	credits := make([]Credit, 0, len(kp.Films))
	for _, f := range kp.Films {
		credits = append(credits, Credit{
			Role:  f.ProfessionKey,
			Note:  strings.TrimSpace(f.Description),
			Movie: &MovieRef{ID: f.FilmID, Title: f.NameRu, TitleOriginal: f.NameEn},
		})
	}
	return credits, nil
}

// MovieImages 剧照
func (p *Kinopoisk) MovieImages(ctx context.Context, id int64) ([]Image, error) {
	var result struct {
		Items []struct {
			ImageURL string `json:"imageUrl"`
		} `json:"items"`
	}
	if err := p.getJSON(ctx, fmt.Sprintf("/api/v2.2/films/%d/images?type=STILL", id), &result); err != nil {
		return nil, err
	}
	images := make([]Image, 0, len(result.Items))
	for _, item := range result.Items {
		if key := utils.FileImageKey(item.ImageURL); key != "" {
			images = append(images, Image{URL: item.ImageURL, Key: key})
		}
	}
	return images, nil
}

// PersonImages 人物只有一张头像
func (p *Kinopoisk) PersonImages(ctx context.Context, id int64) ([]Image, error) {
	kp, err := p.person(ctx, id)
	if err != nil {
		return nil, err
	}
	if kp.PosterURL == "" {
		return nil, nil
	}
	return []Image{{URL: kp.PosterURL, Key: utils.FileImageKey(kp.PosterURL)}}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
