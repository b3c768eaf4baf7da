package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/user/kinomerge/internal/model"
	"github.com/user/kinomerge/internal/syncerr"
	"github.com/user/kinomerge/internal/utils"
)

// Wikipedia MediaWiki API 客户端
type Wikipedia struct {
	baseURL string // 含 %s 占位符，替换为语言
	client  *utils.HTTPClient
}

// NewWikipedia 创建维基百科客户端
func NewWikipedia(baseURL string, timeout time.Duration) *Wikipedia {
	return &Wikipedia{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  utils.NewHTTPClient(timeout),
	}
}

func (w *Wikipedia) endpoint(lang string, params url.Values) string {
	params.Set("action", "query")
	params.Set("format", "json")
	params.Set("formatversion", "2")
	return fmt.Sprintf(w.baseURL, lang) + "/w/api.php?" + params.Encode()
}

// Search 全文搜索，返回标题
func (w *Wikipedia) Search(ctx context.Context, lang, query string) ([]string, error) {
	var result struct {
		Query struct {
			Search []struct {
				Title string `json:"title"`
			} `json:"search"`
		} `json:"query"`
	}
	params := url.Values{}
	params.Set("list", "search")
	params.Set("srsearch", query)
	params.Set("srlimit", "10")
	if err := w.client.GetJSON(ctx, w.endpoint(lang, params), &result); err != nil {
		return nil, Classify(model.SourceWikipedia, err)
	}

	titles := make([]string, 0, len(result.Query.Search))
	for _, item := range result.Query.Search {
		titles = append(titles, item.Title)
	}
	return titles, nil
}

// GetPage 页面摘要和语言链接，跟随重定向
func (w *Wikipedia) GetPage(ctx context.Context, lang, title string) (*Page, error) {
	var result struct {
		Query struct {
			Pages []struct {
				Title     string `json:"title"`
				Missing   bool   `json:"missing"`
				Extract   string `json:"extract"`
				LangLinks []struct {
					Lang  string `json:"lang"`
					Title string `json:"title"`
				} `json:"langlinks"`
			} `json:"pages"`
		} `json:"query"`
	}
	params := url.Values{}
	params.Set("prop", "extracts|langlinks")
	params.Set("exintro", "1")
	params.Set("titles", title)
	params.Set("lllimit", "max")
	params.Set("redirects", "1")
	if err := w.client.GetJSON(ctx, w.endpoint(lang, params), &result); err != nil {
		return nil, Classify(model.SourceWikipedia, err)
	}

	if len(result.Query.Pages) == 0 || result.Query.Pages[0].Missing {
		return nil, syncerr.NothingFound("wikipedia %s: page %q", lang, title)
	}
	raw := result.Query.Pages[0]
	page := &Page{
		Lang:      lang,
		Title:     raw.Title,
		Extract:   plainText(raw.Extract),
		LangLinks: make(map[string]string, len(raw.LangLinks)),
	}
	for _, link := range raw.LangLinks {
		page.LangLinks[link.Lang] = link.Title
	}
	return page, nil
}

// plainText 把摘要 HTML 压平为段落文本
func plainText(html string) string {
	if html == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	var parts []string
	doc.Find("p").Each(func(i int, s *goquery.Selection) {
		if text := strings.Join(strings.Fields(s.Text()), " "); text != "" {
			parts = append(parts, text)
		}
	})
	if len(parts) == 0 {
		return strings.Join(strings.Fields(doc.Text()), " ")
	}
	return strings.Join(parts, "\n\n")
}
