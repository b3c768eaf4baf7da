package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/user/kinomerge/internal/model"
	"github.com/user/kinomerge/internal/provider"
	"github.com/user/kinomerge/internal/reconcile"
	"github.com/user/kinomerge/internal/repository"
	"github.com/user/kinomerge/internal/syncerr"
	"github.com/user/kinomerge/internal/utils"
)

var (
	reDisambiguation = regexp.MustCompile(`\s*\(([^)]*)\)$`)
	reFilmNote       = regexp.MustCompile(`(?i)film|movie|фильм`)
)

// syncLinks 交叉身份和维基百科页面，返回新增的链接数
func (s *SyncService) syncLinks(ctx context.Context, req SyncRequest, externalID int64) (int, error) {
	added := 0
	if req.Source == model.SourceKinopoisk && req.Ref.Kind() == model.KindMovie {
		linked, err := s.linkIMDb(ctx, req.Ref, externalID)
		if err != nil {
			return 0, err
		}
		if linked {
			added++
		}
	}
	if s.wiki != nil && len(s.langs) > 0 {
		n, err := s.linkWikipedia(ctx, req.Ref)
		if err != nil {
			return added, err
		}
		added += n
	}
	return added, nil
}

// linkIMDb Kinopoisk 电影自带 IMDb ID，直接绑定
func (s *SyncService) linkIMDb(ctx context.Context, ref model.ContentRef, kinopoiskID int64) (bool, error) {
	if _, err := s.rec.Provider(model.SourceIMDb); err != nil {
		return false, nil
	}
	kp, err := s.rec.Provider(model.SourceKinopoisk)
	if err != nil {
		return false, err
	}
	remote, err := kp.GetMovie(ctx, kinopoiskID)
	if err != nil {
		return false, err
	}
	if remote.IMDbID == 0 {
		return false, nil
	}

	var match *reconcile.Match
	err = s.locked(ctx, ref, model.SourceIMDb, func(tx repository.Store) error {
		movie, err := tx.GetMovie(ctx, ref.LocalID())
		if err != nil {
			return err
		}
		if movie == nil {
			return syncerr.NothingFound("%s does not exist", ref)
		}
		match, err = s.rec.ReconcileMovie(ctx, tx, reconcile.MovieRequest{
			Source: model.SourceIMDb,
			Local:  movie,
			Remote: &provider.MovieRef{ID: remote.IMDbID, Title: remote.TitleOriginal, Year: remote.Year},
		})
		return err
	})
	if syncerr.IsSkippable(err) {
		s.log.Debug("[Sync] 无法绑定 IMDb 身份", zap.Stringer("ref", ref), zap.Error(err))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.log.Info("[Sync] 通过 Kinopoisk 绑定 IMDb 身份",
		zap.Stringer("ref", ref),
		zap.Int64("kinopoisk_id", kinopoiskID),
		zap.Int64("imdb_id", match.ExternalID))
	return true, nil
}

// wikiSubject 在维基百科上查找的对象
type wikiSubject struct {
	byLang func(lang string) []string
	keys   map[string]bool
	year   int
	movie  bool
}

func (w *wikiSubject) queries(lang string) []string {
	names := w.byLang(lang)
	var out []string
	if w.movie && w.year > 0 && lang == "en" && len(names) > 0 {
		out = append(out, fmt.Sprintf("%s (%d film)", names[0], w.year))
	}
	return append(out, names...)
}

// matches 页面标题去掉消歧义括号后与对象名称一致
// 电影的括号必须注明是电影或年份，年份必须一致
func (w *wikiSubject) matches(title string) bool {
	base := title
	if m := reDisambiguation.FindStringSubmatch(title); m != nil {
		base = strings.TrimSuffix(title, m[0])
		if w.movie {
			year := utils.ParseYear(m[1])
			if year == 0 && !reFilmNote.MatchString(m[1]) {
				return false
			}
			if year > 0 && w.year > 0 && year != w.year {
				return false
			}
		}
	}
	normalize := utils.NormalizeTitle
	if !w.movie {
		normalize = utils.NormalizeName
	}
	return w.keys[normalize(base)]
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if v != "" && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func (s *SyncService) wikiSubject(ctx context.Context, ref model.ContentRef) (*wikiSubject, error) {
	switch ref.Kind() {
	case model.KindMovie:
		movie, err := s.store.GetMovie(ctx, ref.LocalID())
		if err != nil {
			return nil, err
		}
		if movie == nil {
			return nil, syncerr.NothingFound("%s does not exist", ref)
		}
		subject := &wikiSubject{year: movie.Year, movie: true, keys: make(map[string]bool)}
		for _, t := range movie.Titles() {
			subject.keys[utils.NormalizeTitle(t)] = true
		}
		subject.byLang = func(lang string) []string {
			if lang == "en" {
				return nonEmpty(movie.TitleEn, movie.TitleOriginal)
			}
			return nonEmpty(movie.Title, movie.TitleOriginal)
		}
		return subject, nil
	case model.KindPerson:
		person, err := s.store.GetPerson(ctx, ref.LocalID())
		if err != nil {
			return nil, err
		}
		if person == nil {
			return nil, syncerr.NothingFound("%s does not exist", ref)
		}
		subject := &wikiSubject{keys: make(map[string]bool)}
		for _, n := range person.Names() {
			subject.keys[utils.NormalizeName(n)] = true
		}
		subject.byLang = func(lang string) []string {
			if lang == "en" {
				return nonEmpty(person.FullNameEn())
			}
			return nonEmpty(person.FullName())
		}
		return subject, nil
	}
	return nil, syncerr.WrongValue("unsupported content %s", ref)
}

// findPage 按名称搜索，取第一个标题吻合的页面
func (s *SyncService) findPage(ctx context.Context, lang string, subject *wikiSubject) (*provider.Page, error) {
	for _, query := range subject.queries(lang) {
		titles, err := s.wiki.Search(ctx, lang, query)
		if syncerr.IsSkippable(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, title := range titles {
			if !subject.matches(title) {
				continue
			}
			page, err := s.wiki.GetPage(ctx, lang, title)
			if syncerr.IsSkippable(err) {
				continue
			}
			return page, err
		}
	}
	return nil, nil
}

// linkWikipedia 找到一个语言的页面后，沿语言链接补齐其他配置的语言
func (s *SyncService) linkWikipedia(ctx context.Context, ref model.ContentRef) (int, error) {
	existing, err := s.store.PagesFor(ctx, ref)
	if err != nil {
		return 0, err
	}
	have := make(map[string]model.WikipediaPage, len(existing))
	for _, page := range existing {
		have[page.Lang] = page
	}
	var missing []string
	for _, lang := range s.langs {
		if _, ok := have[lang]; !ok {
			missing = append(missing, lang)
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}

	var seed *provider.Page
	for _, lang := range s.langs {
		page, ok := have[lang]
		if !ok {
			continue
		}
		seed, err = s.wiki.GetPage(ctx, lang, page.Title)
		if syncerr.IsSkippable(err) {
			seed = nil
			continue
		}
		if err != nil {
			return 0, err
		}
		break
	}
	if seed == nil {
		subject, err := s.wikiSubject(ctx, ref)
		if err != nil {
			return 0, err
		}
		for _, lang := range missing {
			if seed, err = s.findPage(ctx, lang, subject); err != nil {
				return 0, err
			}
			if seed != nil {
				break
			}
		}
	}
	if seed == nil {
		s.log.Debug("[Sync] 没有找到维基百科页面", zap.Stringer("ref", ref))
		return 0, nil
	}

	pages := []*provider.Page{seed}
	for _, lang := range missing {
		title, ok := seed.LangLinks[lang]
		if lang == seed.Lang || !ok {
			continue
		}
		page, err := s.wiki.GetPage(ctx, lang, title)
		if syncerr.IsSkippable(err) {
			continue
		}
		if err != nil {
			return 0, err
		}
		pages = append(pages, page)
	}

	added := 0
	err = s.locked(ctx, ref, model.SourceWikipedia, func(tx repository.Store) error {
		added = 0
		for _, page := range pages {
			row := model.NewWikipediaPage(ref, page.Lang, page.Title)
			row.Content = page.Extract
			now := s.now()
			row.SyncedAt = &now
			if err := tx.UpsertPage(ctx, row); err != nil {
				return err
			}
			if _, ok := have[page.Lang]; !ok {
				added++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("[Sync] 维基百科页面已关联", zap.Stringer("ref", ref), zap.Int("added", added))
	return added, nil
}
