package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/user/kinomerge/internal/model"
	"github.com/user/kinomerge/internal/syncerr"
	"github.com/user/kinomerge/internal/utils"
)

var (
	reISODuration = regexp.MustCompile(`PT(?:(\d+)H)?(?:(\d+)M)?`)
	reKindParens  = regexp.MustCompile(`\((TV Series|TV Mini Series|TV Movie|TV Short|TV Special|Video Game|Video|Short|Podcast Series)\)`)
)

// imdbKinds JSON-LD @type 到作品类型
var imdbKinds = map[string]string{
	"Movie":        "movie",
	"TVSeries":     "tv series",
	"TVMiniSeries": "tv mini series",
	"TVEpisode":    "tv episode",
	"VideoGame":    "video game",
	"VideoObject":  "video",
}

// IMDb 抓取 imdb.com 页面
type IMDb struct {
	baseURL string
	client  *utils.HTTPClient
}

// NewIMDb 创建 IMDb 客户端
func NewIMDb(baseURL string, timeout time.Duration) *IMDb {
	return &IMDb{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  utils.NewHTTPClient(timeout),
	}
}

func (p *IMDb) Source() model.Source { return model.SourceIMDb }

// imdbLD 页面中的 JSON-LD
type imdbLD struct {
	Type            string          `json:"@type"`
	Name            string          `json:"name"`
	AlternateName   string          `json:"alternateName"`
	Description     string          `json:"description"`
	Image           string          `json:"image"`
	Genre           json.RawMessage `json:"genre"`
	DatePublished   string          `json:"datePublished"`
	Duration        string          `json:"duration"`
	BirthDate       string          `json:"birthDate"`
	DeathDate       string          `json:"deathDate"`
	AggregateRating struct {
		RatingValue float64 `json:"ratingValue"`
		RatingCount int     `json:"ratingCount"`
	} `json:"aggregateRating"`
}

func (ld *imdbLD) genres() []string {
	if len(ld.Genre) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(ld.Genre, &list); err == nil {
		return list
	}
	var single string
	if err := json.Unmarshal(ld.Genre, &single); err == nil && single != "" {
		return []string{single}
	}
	return nil
}

func (p *IMDb) document(ctx context.Context, path string) (*goquery.Document, error) {
	doc, err := p.client.GetDocument(ctx, p.baseURL+path)
	if err != nil {
		return nil, Classify(model.SourceIMDb, err)
	}
	return doc, nil
}

// parseLD 读取第一个可以解析的 JSON-LD
func parseLD(doc *goquery.Document) (*imdbLD, bool) {
	var ld imdbLD
	found := false
	doc.Find("script[type='application/ld+json']").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &ld); err == nil && ld.Name != "" {
			found = true
			return false
		}
		return true
	})
	return &ld, found
}

// GetMovie 抓取电影详情页
func (p *IMDb) GetMovie(ctx context.Context, id int64) (*Movie, error) {
	doc, err := p.document(ctx, fmt.Sprintf("/title/%s/", utils.FormatIMDbID("tt", id)))
	if err != nil {
		return nil, err
	}
	ld, ok := parseLD(doc)
	if !ok {
		return nil, syncerr.WrongValue("imdb title %d: no structured data", id)
	}

	movie := &Movie{
		ID:       id,
		Title:    strings.TrimSpace(ld.Name),
		Year:     utils.ParseYear(ld.DatePublished),
		Runtime:  parseISODuration(ld.Duration),
		Genres:   ld.genres(),
		Rating:   ld.AggregateRating.RatingValue,
		Votes:    ld.AggregateRating.RatingCount,
		Synopsis: strings.TrimSpace(ld.Description),
		Kind:     imdbKinds[ld.Type],
		Poster:   ld.Image,
	}

	original := strings.TrimSpace(doc.Find("[data-testid='hero-title-block__original-title']").First().Text())
	movie.TitleOriginal = strings.TrimSpace(strings.TrimPrefix(original, "Original title:"))
	if movie.TitleOriginal == "" {
		movie.TitleOriginal = movie.Title
	}
	if ld.AlternateName != "" && ld.AlternateName != movie.Title {
		movie.Akas = append(movie.Akas, ld.AlternateName)
	}
	if movie.Year == 0 {
		movie.Year = utils.ParseYear(doc.Find("[data-testid='hero__pageTitle']").Parent().Text())
	}
	movie.Countries = texts(doc.Find("li[data-testid='title-details-origin'] a"))
	movie.Languages = texts(doc.Find("li[data-testid='title-details-languages'] a"))

	return movie, nil
}

// SearchMovies IMDb 搜索页
func (p *IMDb) SearchMovies(ctx context.Context, query string) ([]MovieRef, error) {
	doc, err := p.document(ctx, "/find/?s=tt&q="+url.QueryEscape(query))
	if err != nil {
		return nil, err
	}
	var refs []MovieRef
	doc.Find("li.find-result-item").Each(func(i int, s *goquery.Selection) {
		link := s.Find("a[href*='/title/tt']").First()
		href, _ := link.Attr("href")
		_, id, err := utils.ParseIMDbID(href)
		if err != nil {
			return
		}
		ref := MovieRef{ID: id, Title: strings.TrimSpace(link.Text())}
		s.Find(".ipc-metadata-list-summary-item__tl li").Each(func(j int, meta *goquery.Selection) {
			text := strings.TrimSpace(meta.Text())
			if year := utils.ParseYear(text); year > 0 && ref.Year == 0 {
				ref.Year = year
			} else if text != "" && ref.Kind == "" {
				ref.Kind = strings.ToLower(text)
			}
		})
		if ref.Kind == "" {
			ref.Kind = "movie"
		}
		refs = append(refs, ref)
	})
	return refs, nil
}

// GetPerson 抓取人物页
func (p *IMDb) GetPerson(ctx context.Context, id int64) (*Person, error) {
	doc, err := p.document(ctx, fmt.Sprintf("/name/%s/", utils.FormatIMDbID("nm", id)))
	if err != nil {
		return nil, err
	}
	ld, ok := parseLD(doc)
	if !ok {
		return nil, syncerr.WrongValue("imdb name %d: no structured data", id)
	}
	// 英文站点，名字写入英文字段
	return &Person{
		ID:        id,
		NameEn:    strings.TrimSpace(ld.Name),
		DateBirth: parseDate(ld.BirthDate),
		DateDeath: parseDate(ld.DeathDate),
		Info:      strings.TrimSpace(ld.Description),
		Photo:     ld.Image,
	}, nil
}

// SearchPersons IMDb 人物搜索
func (p *IMDb) SearchPersons(ctx context.Context, query string) ([]PersonRef, error) {
	doc, err := p.document(ctx, "/find/?s=nm&q="+url.QueryEscape(query))
	if err != nil {
		return nil, err
	}
	var refs []PersonRef
	doc.Find("li.find-result-item").Each(func(i int, s *goquery.Selection) {
		link := s.Find("a[href*='/name/nm']").First()
		href, _ := link.Attr("href")
		_, id, err := utils.ParseIMDbID(href)
		if err != nil {
			return
		}
		refs = append(refs, PersonRef{ID: id, NameEn: strings.TrimSpace(link.Text())})
	})
	return refs, nil
}

// MovieCredits 解析 fullcredits 页面
func (p *IMDb) MovieCredits(ctx context.Context, id int64) ([]Credit, error) {
	doc, err := p.document(ctx, fmt.Sprintf("/title/%s/fullcredits", utils.FormatIMDbID("tt", id)))
	if err != nil {
		return nil, err
	}

	var credits []Credit
	doc.Find("h4.dataHeaderWithBorder").Each(func(i int, header *goquery.Selection) {
		role, _ := header.Attr("id")
		if role == "" {
			return
		}
		if role == "cast" {
			role = "actor"
		}
		table := header.NextFiltered("table")
		table.Find("tr").Each(func(j int, row *goquery.Selection) {
			link := row.Find("a[href*='/name/nm']").FilterFunction(func(_ int, a *goquery.Selection) bool {
				return strings.TrimSpace(a.Text()) != ""
			}).First()
			href, ok := link.Attr("href")
			if !ok {
				return
			}
			_, personID, err := utils.ParseIMDbID(href)
			if err != nil {
				return
			}
			note := row.Find("td.character").Text()
			if note == "" {
				note = row.Find("td.credit").Text()
			}
			credits = append(credits, Credit{
				Role:   role,
				Note:   cleanNote(note),
				Person: &PersonRef{ID: personID, NameEn: strings.TrimSpace(link.Text())},
			})
		})
	})
	return credits, nil
}

// PersonCredits 解析人物页的作品表
func (p *IMDb) PersonCredits(ctx context.Context, id int64) ([]Credit, error) {
	doc, err := p.document(ctx, fmt.Sprintf("/name/%s/", utils.FormatIMDbID("nm", id)))
	if err != nil {
		return nil, err
	}

	var credits []Credit
	doc.Find("#filmography div.head").Each(func(i int, head *goquery.Selection) {
		role, _ := head.Attr("data-category")
		if role == "" {
			return
		}
		head.NextFiltered("div.filmo-category-section").Find("div.filmo-row").Each(func(j int, row *goquery.Selection) {
			link := row.Find("b a[href*='/title/tt']").First()
			href, _ := link.Attr("href")
			_, movieID, err := utils.ParseIMDbID(href)
			if err != nil {
				return
			}

			rest := row.Clone()
			rest.Find("b, span.year_column, div.filmo-episodes").Remove()
			text := rest.Text()

			kind := "movie"
			if match := reKindParens.FindStringSubmatch(text); len(match) > 1 {
				kind = strings.ToLower(match[1])
				text = strings.Replace(text, match[0], "", 1)
			}

			credits = append(credits, Credit{
				Role: role,
				Note: cleanNote(text),
				Movie: &MovieRef{
					ID:    movieID,
					Title: strings.TrimSpace(link.Text()),
					Year:  utils.ParseYear(row.Find("span.year_column").Text()),
					Kind:  kind,
				},
			})
		})
	})
	return credits, nil
}

// MovieImages 剧照和海报
func (p *IMDb) MovieImages(ctx context.Context, id int64) ([]Image, error) {
	return p.images(ctx, fmt.Sprintf("/title/%s/mediaindex", utils.FormatIMDbID("tt", id)))
}

// PersonImages 人物照片
func (p *IMDb) PersonImages(ctx context.Context, id int64) ([]Image, error) {
	return p.images(ctx, fmt.Sprintf("/name/%s/mediaindex", utils.FormatIMDbID("nm", id)))
}

func (p *IMDb) images(ctx context.Context, path string) ([]Image, error) {
	doc, err := p.document(ctx, path)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var images []Image
	doc.Find("img[src*='MV5B']").Each(func(i int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		key := utils.IMDbImageKey(src)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		images = append(images, Image{URL: src, Key: key})
	})
	return images, nil
}

func texts(s *goquery.Selection) []string {
	var out []string
	s.Each(func(i int, item *goquery.Selection) {
		if t := strings.TrimSpace(item.Text()); t != "" {
			out = append(out, t)
		}
	})
	return out
}

// cleanNote 合并空白并去掉外层括号，例如 "(novel)" -> "novel"
func cleanNote(note string) string {
	note = strings.Join(strings.Fields(note), " ")
	note = strings.TrimPrefix(note, "...")
	note = strings.TrimSpace(note)
	if strings.HasPrefix(note, "(") && strings.HasSuffix(note, ")") {
		note = strings.TrimSuffix(strings.TrimPrefix(note, "("), ")")
	}
	return strings.TrimSpace(note)
}

// parseISODuration PT1H35M -> 95
func parseISODuration(s string) int {
	match := reISODuration.FindStringSubmatch(s)
	if match == nil {
		return 0
	}
	hours, _ := strconv.Atoi(match[1])
	minutes, _ := strconv.Atoi(match[2])
	return hours*60 + minutes
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}
