// Package repotest 内存版 Store，唯一性语义与 PGStore 相同，供测试使用
package repotest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/kinomerge/internal/model"
	"github.com/user/kinomerge/internal/repository"
	"github.com/user/kinomerge/internal/syncerr"
)

type identityKey struct {
	source model.Source
	kind   model.Kind
}

type castKey struct {
	person, movie, role uint
}

type propertyKey struct {
	source model.Source
	ptype  model.PropertyType
	name   string
}

type state struct {
	nextID     uint
	movies     map[uint]model.Movie
	persons    map[uint]model.Person
	identities map[identityKey]map[int64]model.ExternalIdentity
	cast       map[castKey]model.Cast
	roles      map[string]model.Role
	properties map[propertyKey]uint
	movieProps map[uint]map[model.PropertyType]map[uint]struct{}
	pages      map[uint]model.WikipediaPage
	images     map[string]model.Image
	syncStates map[string]model.SyncState
	locks      []string
}

func newState() *state {
	return &state{
		movies:     make(map[uint]model.Movie),
		persons:    make(map[uint]model.Person),
		identities: make(map[identityKey]map[int64]model.ExternalIdentity),
		cast:       make(map[castKey]model.Cast),
		roles:      make(map[string]model.Role),
		properties: make(map[propertyKey]uint),
		movieProps: make(map[uint]map[model.PropertyType]map[uint]struct{}),
		pages:      make(map[uint]model.WikipediaPage),
		images:     make(map[string]model.Image),
		syncStates: make(map[string]model.SyncState),
	}
}

func (st *state) clone() *state {
	c := newState()
	c.nextID = st.nextID
	c.locks = append([]string(nil), st.locks...)
	for k, v := range st.movies {
		v.Akas = append([]string(nil), v.Akas...)
		c.movies[k] = v
	}
	for k, v := range st.persons {
		c.persons[k] = v
	}
	for k, m := range st.identities {
		inner := make(map[int64]model.ExternalIdentity, len(m))
		for id, v := range m {
			inner[id] = v
		}
		c.identities[k] = inner
	}
	for k, v := range st.cast {
		c.cast[k] = v
	}
	for k, v := range st.roles {
		c.roles[k] = v
	}
	for k, v := range st.properties {
		c.properties[k] = v
	}
	for movieID, byType := range st.movieProps {
		c.movieProps[movieID] = make(map[model.PropertyType]map[uint]struct{})
		for ptype, ids := range byType {
			set := make(map[uint]struct{}, len(ids))
			for id := range ids {
				set[id] = struct{}{}
			}
			c.movieProps[movieID][ptype] = set
		}
	}
	for k, v := range st.pages {
		c.pages[k] = v
	}
	for k, v := range st.images {
		c.images[k] = v
	}
	for k, v := range st.syncStates {
		c.syncStates[k] = v
	}
	return c
}

func (st *state) id() uint {
	st.nextID++
	return st.nextID
}

// Store 内存 Store
type Store struct {
	mu   *sync.Mutex
	txMu *sync.Mutex
	data *state
	inTx bool
}

var _ repository.Store = (*Store)(nil)

// New 创建空 Store，并写入全部职务
func New() *Store {
	s := &Store{mu: &sync.Mutex{}, txMu: &sync.Mutex{}, data: newState()}
	for _, code := range model.RoleCodes {
		s.data.roles[code] = model.Role{ID: s.data.id(), Code: code, Name: code}
	}
	return s
}

func (s *Store) lock() func() {
	s.mu.Lock()
	return s.mu.Unlock
}

// ---- 测试辅助 ----

// AddMovie 直接写入电影
func (s *Store) AddMovie(m model.Movie) *model.Movie {
	defer s.lock()()
	m.ID = s.data.id()
	s.data.movies[m.ID] = m
	return &m
}

// AddPerson 直接写入人物
func (s *Store) AddPerson(p model.Person) *model.Person {
	defer s.lock()()
	p.ID = s.data.id()
	s.data.persons[p.ID] = p
	return &p
}

// Bind 直接写入身份，不做冲突检查
func (s *Store) Bind(source model.Source, kind model.Kind, localID uint, externalID int64) {
	defer s.lock()()
	s.identitiesFor(source, kind)[externalID] = model.ExternalIdentity{ID: externalID, LocalID: localID}
}

// Link 直接写入演职员
func (s *Store) Link(movieID, personID uint, roleCode string) {
	defer s.lock()()
	role := s.data.roles[roleCode]
	k := castKey{personID, movieID, role.ID}
	s.data.cast[k] = model.Cast{ID: s.data.id(), MovieID: movieID, PersonID: personID, RoleID: role.ID}
}

// AddProperty 登记本地分类及其外部名称，返回分类 ID
func (s *Store) AddProperty(source model.Source, ptype model.PropertyType, name string) uint {
	defer s.lock()()
	id := s.data.id()
	s.data.properties[propertyKey{source, ptype, name}] = id
	return id
}

// AddPropertyName 为已有分类增加一个外部名称
func (s *Store) AddPropertyName(source model.Source, ptype model.PropertyType, name string, id uint) {
	defer s.lock()()
	s.data.properties[propertyKey{source, ptype, name}] = id
}

// Movies 全部电影，按 ID 排序
func (s *Store) Movies() []model.Movie {
	defer s.lock()()
	out := make([]model.Movie, 0, len(s.data.movies))
	for _, m := range s.data.movies {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Persons 全部人物，按 ID 排序
func (s *Store) Persons() []model.Person {
	defer s.lock()()
	out := make([]model.Person, 0, len(s.data.persons))
	for _, p := range s.data.persons {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Cast 全部演职员，按 ID 排序
func (s *Store) Cast() []model.Cast {
	defer s.lock()()
	out := make([]model.Cast, 0, len(s.data.cast))
	for _, c := range s.data.cast {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Images 全部图片
func (s *Store) Images() []model.Image {
	defer s.lock()()
	out := make([]model.Image, 0, len(s.data.images))
	for _, img := range s.data.images {
		out = append(out, img)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Locks 已获取过的咨询锁键
func (s *Store) Locks() []string {
	defer s.lock()()
	return append([]string(nil), s.data.locks...)
}

// ---- IdentityIndex ----

func (s *Store) identitiesFor(source model.Source, kind model.Kind) map[int64]model.ExternalIdentity {
	k := identityKey{source, kind}
	m, ok := s.data.identities[k]
	if !ok {
		m = make(map[int64]model.ExternalIdentity)
		s.data.identities[k] = m
	}
	return m
}

func (s *Store) findExternal(source model.Source, kind model.Kind, localID uint) (model.ExternalIdentity, bool) {
	for _, identity := range s.identitiesFor(source, kind) {
		if identity.LocalID == localID {
			return identity, true
		}
	}
	return model.ExternalIdentity{}, false
}

func (s *Store) FindLocal(_ context.Context, source model.Source, kind model.Kind, externalID int64) (uint, bool, error) {
	if _, err := model.IdentityTable(source, kind); err != nil {
		return 0, false, err
	}
	defer s.lock()()
	identity, ok := s.identitiesFor(source, kind)[externalID]
	return identity.LocalID, ok, nil
}

func (s *Store) FindExternal(_ context.Context, source model.Source, kind model.Kind, localID uint) (int64, bool, error) {
	if _, err := model.IdentityTable(source, kind); err != nil {
		return 0, false, err
	}
	defer s.lock()()
	identity, ok := s.findExternal(source, kind, localID)
	return identity.ID, ok, nil
}

func (s *Store) GetIdentity(_ context.Context, source model.Source, kind model.Kind, externalID int64) (*model.ExternalIdentity, error) {
	if _, err := model.IdentityTable(source, kind); err != nil {
		return nil, err
	}
	defer s.lock()()
	identity, ok := s.identitiesFor(source, kind)[externalID]
	if !ok {
		return nil, nil
	}
	return &identity, nil
}

func (s *Store) BindIdentity(_ context.Context, source model.Source, kind model.Kind, localID uint, externalID int64) error {
	if _, err := model.IdentityTable(source, kind); err != nil {
		return err
	}
	defer s.lock()()
	ids := s.identitiesFor(source, kind)
	if existing, ok := ids[externalID]; ok {
		if existing.LocalID == localID {
			return nil
		}
		return syncerr.PossibleDuplicate(string(source), string(kind), externalID, existing.LocalID, localID)
	}
	if bound, ok := s.findExternal(source, kind, localID); ok {
		return syncerr.AlreadyBound(string(source), string(kind), localID, bound.ID, externalID)
	}
	ids[externalID] = model.ExternalIdentity{ID: externalID, LocalID: localID}
	return nil
}

func (s *Store) SaveIdentity(_ context.Context, source model.Source, kind model.Kind, identity *model.ExternalIdentity) error {
	if _, err := model.IdentityTable(source, kind); err != nil {
		return err
	}
	defer s.lock()()
	ids := s.identitiesFor(source, kind)
	existing, ok := ids[identity.ID]
	if !ok {
		return syncerr.NothingFound("%s %s %d is not bound", source, kind, identity.ID)
	}
	existing.Rating = identity.Rating
	existing.Votes = identity.Votes
	existing.Info = identity.Info
	existing.SyncedAt = identity.SyncedAt
	ids[identity.ID] = existing
	return nil
}

func (s *Store) ListStaleIdentities(_ context.Context, source model.Source, kind model.Kind, before time.Time, limit int) ([]model.ExternalIdentity, error) {
	if _, err := model.IdentityTable(source, kind); err != nil {
		return nil, err
	}
	defer s.lock()()
	var out []model.ExternalIdentity
	for _, identity := range s.identitiesFor(source, kind) {
		if identity.SyncedAt == nil || identity.SyncedAt.Before(before) {
			out = append(out, identity)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].SyncedAt, out[j].SyncedAt
		switch {
		case a == nil && b == nil:
			return out[i].ID < out[j].ID
		case a == nil:
			return true
		case b == nil:
			return false
		}
		return a.Before(*b)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- 实体 ----

func (s *Store) movieWithProps(m model.Movie) *model.Movie {
	m.Akas = append([]string(nil), m.Akas...)
	m.Genres, m.Countries, m.Languages = nil, nil, nil
	for ptype, ids := range s.data.movieProps[m.ID] {
		for id := range ids {
			switch ptype {
			case model.PropertyGenre:
				m.Genres = append(m.Genres, model.Genre{ID: id})
			case model.PropertyCountry:
				m.Countries = append(m.Countries, model.Country{ID: id})
			case model.PropertyLanguage:
				m.Languages = append(m.Languages, model.Language{ID: id})
			}
		}
	}
	return &m
}

func (s *Store) GetMovie(_ context.Context, id uint) (*model.Movie, error) {
	defer s.lock()()
	m, ok := s.data.movies[id]
	if !ok {
		return nil, nil
	}
	return s.movieWithProps(m), nil
}

func (s *Store) GetPerson(_ context.Context, id uint) (*model.Person, error) {
	defer s.lock()()
	p, ok := s.data.persons[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func lowerSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(strings.TrimSpace(v))] = struct{}{}
	}
	return set
}

func (s *Store) FindMoviesByTitle(_ context.Context, titles []string, year int) ([]model.Movie, error) {
	if len(titles) == 0 {
		return nil, nil
	}
	wanted := lowerSet(titles)
	exact := make(map[string]struct{}, len(titles))
	for _, t := range titles {
		exact[t] = struct{}{}
	}
	defer s.lock()()
	var out []model.Movie
	for _, m := range s.data.movies {
		if year > 0 && m.Year != year {
			continue
		}
		match := false
		for _, t := range []string{m.Title, m.TitleEn, m.TitleOriginal} {
			if _, ok := wanted[strings.ToLower(t)]; ok && t != "" {
				match = true
			}
		}
		for _, aka := range m.Akas {
			if _, ok := exact[aka]; ok {
				match = true
			}
		}
		if match {
			out = append(out, *s.movieWithProps(m))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) FindPersonsByName(_ context.Context, names []string) ([]model.Person, error) {
	if len(names) == 0 {
		return nil, nil
	}
	wanted := lowerSet(names)
	defer s.lock()()
	var out []model.Person
	for _, p := range s.data.persons {
		for _, n := range []string{p.FullName(), p.FullNameEn()} {
			if _, ok := wanted[strings.ToLower(n)]; ok && n != "" {
				out = append(out, p)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) CreateMovie(_ context.Context, m *model.Movie) error {
	defer s.lock()()
	m.ID = s.data.id()
	stored := *m
	stored.Akas = append([]string(nil), m.Akas...)
	s.data.movies[m.ID] = stored
	return nil
}

func (s *Store) CreatePerson(_ context.Context, p *model.Person) error {
	defer s.lock()()
	p.ID = s.data.id()
	s.data.persons[p.ID] = *p
	return nil
}

func (s *Store) SaveMovie(_ context.Context, m *model.Movie) error {
	defer s.lock()()
	if _, ok := s.data.movies[m.ID]; !ok {
		return syncerr.NothingFound("movie %d", m.ID)
	}
	stored := *m
	stored.Akas = append([]string(nil), m.Akas...)
	stored.Genres, stored.Countries, stored.Languages = nil, nil, nil
	s.data.movies[m.ID] = stored
	return nil
}

func (s *Store) SavePerson(_ context.Context, p *model.Person) error {
	defer s.lock()()
	if _, ok := s.data.persons[p.ID]; !ok {
		return syncerr.NothingFound("person %d", p.ID)
	}
	s.data.persons[p.ID] = *p
	return nil
}

// ---- 演职员 ----

func (s *Store) MovieCast(_ context.Context, movieID uint) ([]model.Cast, error) {
	defer s.lock()()
	var out []model.Cast
	for _, c := range s.data.cast {
		if c.MovieID != movieID {
			continue
		}
		if p, ok := s.data.persons[c.PersonID]; ok {
			c.Person = &p
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) PersonCast(_ context.Context, personID uint) ([]model.Cast, error) {
	defer s.lock()()
	var out []model.Cast
	for _, c := range s.data.cast {
		if c.PersonID != personID {
			continue
		}
		if m, ok := s.data.movies[c.MovieID]; ok {
			c.Movie = &m
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) UpsertCast(_ context.Context, c *model.Cast) (bool, error) {
	defer s.lock()()
	k := castKey{c.PersonID, c.MovieID, c.RoleID}
	existing, ok := s.data.cast[k]
	if !ok {
		c.ID = s.data.id()
		stored := *c
		stored.Movie, stored.Person = nil, nil
		s.data.cast[k] = stored
		return true, nil
	}
	if existing.Name == "" {
		existing.Name = c.Name
	}
	if existing.NameEn == "" {
		existing.NameEn = c.NameEn
	}
	s.data.cast[k] = existing
	*c = existing
	return false, nil
}

func (s *Store) RoleByCode(_ context.Context, code string) (*model.Role, error) {
	defer s.lock()()
	role, ok := s.data.roles[code]
	if !ok {
		return nil, nil
	}
	return &role, nil
}

// ---- 分类 ----

func (s *Store) FindPropertyIDs(_ context.Context, source model.Source, ptype model.PropertyType, names []string) (map[string]uint, error) {
	defer s.lock()()
	out := make(map[string]uint, len(names))
	for _, name := range names {
		if id, ok := s.data.properties[propertyKey{source, ptype, name}]; ok {
			out[name] = id
		}
	}
	return out, nil
}

func (s *Store) AddMovieProperties(_ context.Context, movieID uint, ptype model.PropertyType, ids []uint) error {
	defer s.lock()()
	byType, ok := s.data.movieProps[movieID]
	if !ok {
		byType = make(map[model.PropertyType]map[uint]struct{})
		s.data.movieProps[movieID] = byType
	}
	set, ok := byType[ptype]
	if !ok {
		set = make(map[uint]struct{})
		byType[ptype] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return nil
}

func (s *Store) MoviePropertyIDs(_ context.Context, movieID uint, ptype model.PropertyType) ([]uint, error) {
	defer s.lock()()
	var ids []uint
	for id := range s.data.movieProps[movieID][ptype] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// ---- 维基百科 ----

func (s *Store) FindPage(_ context.Context, lang, title string) (*model.WikipediaPage, error) {
	defer s.lock()()
	for _, p := range s.data.pages {
		if p.Lang == lang && p.Title == title {
			return &p, nil
		}
	}
	return nil, nil
}

func (s *Store) PagesFor(_ context.Context, ref model.ContentRef) ([]model.WikipediaPage, error) {
	defer s.lock()()
	var out []model.WikipediaPage
	for _, p := range s.data.pages {
		if p.ContentKind == ref.Kind() && p.ObjectID == ref.LocalID() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Lang < out[j].Lang })
	return out, nil
}

func (s *Store) UpsertPage(_ context.Context, page *model.WikipediaPage) error {
	if page.Ref() == nil {
		return syncerr.WrongValue("wikipedia page %s:%s has no owner", page.Lang, page.Title)
	}
	defer s.lock()()
	for id, p := range s.data.pages {
		if p.Lang == page.Lang && p.Title == page.Title &&
			(p.ContentKind != page.ContentKind || p.ObjectID != page.ObjectID) {
			return syncerr.PageTaken(page.Lang, page.Title, string(p.ContentKind), p.ObjectID, page.ObjectID)
		}
		if p.Lang == page.Lang && p.ContentKind == page.ContentKind && p.ObjectID == page.ObjectID {
			page.ID = id
		}
	}
	if page.ID == 0 {
		page.ID = s.data.id()
	}
	s.data.pages[page.ID] = *page
	return nil
}

// ---- 图片与同步状态 ----

func (s *Store) AddImages(_ context.Context, images []model.Image) (int, error) {
	defer s.lock()()
	added := 0
	for _, img := range images {
		k := string(img.Source) + "|" + img.SourceKey
		if _, ok := s.data.images[k]; ok {
			continue
		}
		img.ID = s.data.id()
		s.data.images[k] = img
		added++
	}
	return added, nil
}

func syncKey(ref model.ContentRef, source model.Source) string {
	return repository.LockKey(ref, source)
}

func (s *Store) GetSyncState(_ context.Context, ref model.ContentRef, source model.Source) (*model.SyncState, error) {
	defer s.lock()()
	st, ok := s.data.syncStates[syncKey(ref, source)]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *Store) ListSyncStates(_ context.Context, ref model.ContentRef) ([]model.SyncState, error) {
	defer s.lock()()
	var out []model.SyncState
	for _, st := range s.data.syncStates {
		if st.ContentKind == ref.Kind() && st.ObjectID == ref.LocalID() {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}

func (s *Store) SaveSyncState(_ context.Context, st *model.SyncState) error {
	ref, err := model.NewRef(st.ContentKind, st.ObjectID)
	if err != nil {
		return err
	}
	defer s.lock()()
	k := syncKey(ref, st.Source)
	if existing, ok := s.data.syncStates[k]; ok {
		st.ID = existing.ID
	} else if st.ID == 0 {
		st.ID = s.data.id()
	}
	st.UpdatedAt = time.Now()
	s.data.syncStates[k] = *st
	return nil
}

// ---- 事务 ----

// Transaction 串行执行事务，出错时恢复快照；嵌套调用复用外层事务
func (s *Store) Transaction(_ context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	tx := &Store{mu: s.mu, txMu: s.txMu, data: s.data, inTx: true}
	if err := fn(tx); err != nil {
		s.mu.Lock()
		*s.data = *snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) LockEntity(_ context.Context, key string) error {
	defer s.lock()()
	s.data.locks = append(s.data.locks, key)
	return nil
}
