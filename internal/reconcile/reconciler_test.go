package reconcile_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/kinomerge/internal/model"
	"github.com/user/kinomerge/internal/provider"
	"github.com/user/kinomerge/internal/provider/mocks"
	"github.com/user/kinomerge/internal/reconcile"
	"github.com/user/kinomerge/internal/repository/repotest"
	"github.com/user/kinomerge/internal/syncerr"
)

type engine struct {
	store *repotest.Store
	imdb  *mocks.Provider
	kp    *mocks.Provider
	rec   *reconcile.Reconciler
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	store := repotest.New()
	imdb := &mocks.Provider{ID: model.SourceIMDb}
	kp := &mocks.Provider{ID: model.SourceKinopoisk}

	cfg := reconcile.DefaultConfig()
	require.NoError(t, cfg.LoadRoles(context.Background(), store))

	return &engine{
		store: store,
		imdb:  imdb,
		kp:    kp,
		rec:   reconcile.New([]provider.Provider{imdb, kp}, cfg, zap.NewNop()),
	}
}

func (e *engine) externalID(t *testing.T, source model.Source, kind model.Kind, localID uint) int64 {
	t.Helper()
	id, found, err := e.store.FindExternal(context.Background(), source, kind, localID)
	require.NoError(t, err)
	require.True(t, found, "%s %s %d is not bound", source, kind, localID)
	return id
}

func TestReconcileByExternalIDSkipsSearch(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	movie := e.store.AddMovie(model.Movie{TitleEn: "Easy Rider", Year: 1969})
	e.store.Bind(model.SourceIMDb, model.KindMovie, movie.ID, 64276)

	match, err := e.rec.ReconcileMovie(ctx, e.store, reconcile.MovieRequest{
		Source: model.SourceIMDb,
		Remote: &provider.MovieRef{ID: 64276, Title: "Easy Rider", Year: 1969},
	})
	require.NoError(t, err)
	assert.Equal(t, movie.ID, match.LocalID)
	assert.Equal(t, reconcile.StrategyExternalID, match.Strategy)

	match, err = e.rec.ReconcileMovie(ctx, e.store, reconcile.MovieRequest{Source: model.SourceIMDb, Local: movie})
	require.NoError(t, err)
	assert.Equal(t, int64(64276), match.ExternalID)

	e.imdb.AssertNotCalled(t, "SearchMovies", mock.Anything, mock.Anything)
	e.imdb.AssertNotCalled(t, "PersonCredits", mock.Anything, mock.Anything)
}

func TestReconcilePersonByRelation(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	hopper := e.store.AddPerson(model.Person{FirstNameEn: "Dennis", LastNameEn: "Hopper"})
	movie := e.store.AddMovie(model.Movie{TitleEn: "Easy Rider", Year: 1969})
	e.store.Bind(model.SourceIMDb, model.KindMovie, movie.ID, 64276)
	e.store.Link(movie.ID, hopper.ID, model.RoleDirector)

	e.imdb.On("MovieCredits", mock.Anything, int64(64276)).Return([]provider.Credit{
		{Role: "actor", Note: "Wyatt", Person: &provider.PersonRef{ID: 1, NameEn: "Peter Fonda"}},
		{Role: "director", Person: &provider.PersonRef{ID: 454, NameEn: "Dennis Hopper"}},
		{Role: "actor", Note: "Billy", Person: &provider.PersonRef{ID: 454, NameEn: "Dennis Hopper"}},
	}, nil).Once()

	match, err := e.rec.ReconcilePerson(ctx, e.store, reconcile.PersonRequest{Source: model.SourceIMDb, Local: hopper})
	require.NoError(t, err)
	assert.Equal(t, int64(454), match.ExternalID)
	assert.Equal(t, reconcile.StrategyRelation, match.Strategy)
	assert.Equal(t, int64(454), e.externalID(t, model.SourceIMDb, model.KindPerson, hopper.ID))

	e.imdb.AssertExpectations(t)
	e.imdb.AssertNotCalled(t, "SearchPersons", mock.Anything, mock.Anything)
}

func TestReconcileSameTitleMoviesByDifferentAnchors(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	first := e.store.AddMovie(model.Movie{TitleEn: "The Prince", Year: 2014})
	second := e.store.AddMovie(model.Movie{TitleEn: "The Prince", Year: 2014})
	willis := e.store.AddPerson(model.Person{FirstNameEn: "Bruce", LastNameEn: "Willis"})
	other := e.store.AddPerson(model.Person{FirstNameEn: "Ahmed", LastNameEn: "Ahmed"})
	e.store.Bind(model.SourceIMDb, model.KindPerson, willis.ID, 62)
	e.store.Bind(model.SourceIMDb, model.KindPerson, other.ID, 1403)
	e.store.Link(first.ID, willis.ID, model.RoleActor)
	e.store.Link(second.ID, other.ID, model.RoleDirector)

	e.imdb.On("PersonCredits", mock.Anything, int64(62)).Return([]provider.Credit{
		{Role: "actor", Movie: &provider.MovieRef{ID: 95016, Title: "Die Hard", Year: 1988}},
		{Role: "actor", Movie: &provider.MovieRef{ID: 1085492, Title: "The Prince", Year: 2014}},
	}, nil)
	e.imdb.On("PersonCredits", mock.Anything, int64(1403)).Return([]provider.Credit{
		{Role: "director", Movie: &provider.MovieRef{ID: 3505782, Title: "The Prince", Year: 2014, Kind: "movie"}},
	}, nil)

	match, err := e.rec.ReconcileMovie(ctx, e.store, reconcile.MovieRequest{Source: model.SourceIMDb, Local: first})
	require.NoError(t, err)
	assert.Equal(t, int64(1085492), match.ExternalID)

	match, err = e.rec.ReconcileMovie(ctx, e.store, reconcile.MovieRequest{Source: model.SourceIMDb, Local: second})
	require.NoError(t, err)
	assert.Equal(t, int64(3505782), match.ExternalID)

	assert.Equal(t, int64(1085492), e.externalID(t, model.SourceIMDb, model.KindMovie, first.ID))
	assert.Equal(t, int64(3505782), e.externalID(t, model.SourceIMDb, model.KindMovie, second.ID))
	e.imdb.AssertNotCalled(t, "SearchMovies", mock.Anything, mock.Anything)
}

func TestReconcileRelationAnchorsMustAgree(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	movie := e.store.AddMovie(model.Movie{TitleEn: "The Prince", Year: 2014})
	a := e.store.AddPerson(model.Person{FirstNameEn: "A", LastNameEn: "One"})
	b := e.store.AddPerson(model.Person{FirstNameEn: "B", LastNameEn: "Two"})
	e.store.Bind(model.SourceIMDb, model.KindPerson, a.ID, 1)
	e.store.Bind(model.SourceIMDb, model.KindPerson, b.ID, 2)
	e.store.Link(movie.ID, a.ID, model.RoleActor)
	e.store.Link(movie.ID, b.ID, model.RoleActor)

	e.imdb.On("PersonCredits", mock.Anything, int64(1)).Return([]provider.Credit{
		{Role: "actor", Movie: &provider.MovieRef{ID: 10, Title: "The Prince", Year: 2014}},
	}, nil)
	e.imdb.On("PersonCredits", mock.Anything, int64(2)).Return([]provider.Credit{
		{Role: "actor", Movie: &provider.MovieRef{ID: 11, Title: "The Prince", Year: 2014}},
	}, nil)

	_, err := e.rec.ReconcileMovie(ctx, e.store, reconcile.MovieRequest{Source: model.SourceIMDb, Local: movie})
	assert.ErrorIs(t, err, syncerr.ErrAmbiguous)
	e.imdb.AssertNotCalled(t, "SearchMovies", mock.Anything, mock.Anything)

	_, found, err := e.store.FindExternal(ctx, model.SourceIMDb, model.KindMovie, movie.ID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReconcileRelationIgnoresMissingAnchor(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	movie := e.store.AddMovie(model.Movie{TitleEn: "The Prince", Year: 2014})
	a := e.store.AddPerson(model.Person{FirstNameEn: "A", LastNameEn: "One"})
	b := e.store.AddPerson(model.Person{FirstNameEn: "B", LastNameEn: "Two"})
	e.store.Bind(model.SourceIMDb, model.KindPerson, a.ID, 1)
	e.store.Bind(model.SourceIMDb, model.KindPerson, b.ID, 2)
	e.store.Link(movie.ID, a.ID, model.RoleActor)
	e.store.Link(movie.ID, b.ID, model.RoleActor)

	e.imdb.On("PersonCredits", mock.Anything, int64(1)).Return(nil, syncerr.NothingFound("gone"))
	e.imdb.On("PersonCredits", mock.Anything, int64(2)).Return([]provider.Credit{
		{Role: "actor", Movie: &provider.MovieRef{ID: 11, Title: "The Prince"}},
	}, nil)

	match, err := e.rec.ReconcileMovie(ctx, e.store, reconcile.MovieRequest{Source: model.SourceIMDb, Local: movie})
	require.NoError(t, err)
	assert.Equal(t, int64(11), match.ExternalID)
	assert.Equal(t, reconcile.StrategyRelation, match.Strategy)
}

func TestReconcileTransientAnchorErrorAborts(t *testing.T) {
	e := newEngine(t)
	movie := e.store.AddMovie(model.Movie{TitleEn: "The Prince", Year: 2014})
	a := e.store.AddPerson(model.Person{FirstNameEn: "A", LastNameEn: "One"})
	e.store.Bind(model.SourceIMDb, model.KindPerson, a.ID, 1)
	e.store.Link(movie.ID, a.ID, model.RoleActor)

	e.imdb.On("PersonCredits", mock.Anything, int64(1)).Return(nil, syncerr.Transient(errors.New("timeout"), "imdb"))

	_, err := e.rec.ReconcileMovie(context.Background(), e.store, reconcile.MovieRequest{Source: model.SourceIMDb, Local: movie})
	assert.ErrorIs(t, err, syncerr.ErrTransient)
	e.imdb.AssertNotCalled(t, "SearchMovies", mock.Anything, mock.Anything)
}

func TestReconcileMovieBySearch(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	movie := e.store.AddMovie(model.Movie{TitleEn: "The Prince", Year: 2014})

	e.imdb.On("SearchMovies", mock.Anything, "The Prince").Return([]provider.MovieRef{
		{ID: 1, Title: "The Prince", Year: 2013},
		{ID: 1085492, Title: "The Prince", Year: 2014},
		{ID: 2, Title: "The Little Prince", Year: 2014},
	}, nil).Once()

	match, err := e.rec.ReconcileMovie(ctx, e.store, reconcile.MovieRequest{Source: model.SourceIMDb, Local: movie})
	require.NoError(t, err)
	assert.Equal(t, int64(1085492), match.ExternalID)
	assert.Equal(t, reconcile.StrategySearch, match.Strategy)
	e.imdb.AssertExpectations(t)
}

func TestReconcileMovieSearchSeveralYearMatches(t *testing.T) {
	e := newEngine(t)
	movie := e.store.AddMovie(model.Movie{TitleEn: "The Prince", Year: 2014})

	e.imdb.On("SearchMovies", mock.Anything, "The Prince").Return([]provider.MovieRef{
		{ID: 1085492, Title: "The Prince", Year: 2014},
		{ID: 3505782, Title: "The Prince", Year: 2014},
	}, nil)

	_, err := e.rec.ReconcileMovie(context.Background(), e.store, reconcile.MovieRequest{Source: model.SourceIMDb, Local: movie})
	assert.ErrorIs(t, err, syncerr.ErrNothingFound)
}

func TestReconcileMovieWithoutYearNeverSearches(t *testing.T) {
	e := newEngine(t)
	movie := e.store.AddMovie(model.Movie{TitleEn: "The Prince"})

	_, err := e.rec.ReconcileMovie(context.Background(), e.store, reconcile.MovieRequest{Source: model.SourceIMDb, Local: movie})
	assert.ErrorIs(t, err, syncerr.ErrNothingFound)
	e.imdb.AssertNotCalled(t, "SearchMovies", mock.Anything, mock.Anything)
}

func TestReconcilePersonSearchSkipsClaimedCandidates(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	namesake := e.store.AddPerson(model.Person{FirstNameEn: "John", LastNameEn: "Smith"})
	e.store.Bind(model.SourceKinopoisk, model.KindPerson, namesake.ID, 100)
	person := e.store.AddPerson(model.Person{FirstName: "Джон", LastName: "Смит", FirstNameEn: "John", LastNameEn: "Smith"})

	e.kp.On("SearchPersons", mock.Anything, "John Smith").Return([]provider.PersonRef{
		{ID: 100, Name: "Джон Смит", NameEn: "John Smith"},
		{ID: 5, NameEn: "Johnny Smithers"},
		{ID: 200, Name: "Джон Смит", NameEn: "John Smith"},
	}, nil).Once()

	match, err := e.rec.ReconcilePerson(ctx, e.store, reconcile.PersonRequest{Source: model.SourceKinopoisk, Local: person})
	require.NoError(t, err)
	assert.Equal(t, int64(200), match.ExternalID)
	e.kp.AssertExpectations(t)
}

func TestReconcileDuplicateClaim(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	a := e.store.AddMovie(model.Movie{TitleEn: "Easy Rider", Year: 1969})
	b := e.store.AddMovie(model.Movie{TitleEn: "Easy Rider", Year: 1969})

	_, err := e.rec.ReconcileMovie(ctx, e.store, reconcile.MovieRequest{
		Source: model.SourceIMDb, Local: a, Remote: &provider.MovieRef{ID: 64276},
	})
	require.NoError(t, err)

	_, err = e.rec.ReconcileMovie(ctx, e.store, reconcile.MovieRequest{
		Source: model.SourceIMDb, Local: b, Remote: &provider.MovieRef{ID: 64276},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, syncerr.ErrPossibleDuplicate)

	var dup *syncerr.DuplicateError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, a.ID, dup.ClaimedBy)
	assert.Equal(t, b.ID, dup.Wanted)

	assert.Equal(t, int64(64276), e.externalID(t, model.SourceIMDb, model.KindMovie, a.ID))
	_, found, err := e.store.FindExternal(ctx, model.SourceIMDb, model.KindMovie, b.ID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReconcileLocalBoundElsewhere(t *testing.T) {
	e := newEngine(t)
	movie := e.store.AddMovie(model.Movie{TitleEn: "Easy Rider", Year: 1969})
	e.store.Bind(model.SourceIMDb, model.KindMovie, movie.ID, 1)

	_, err := e.rec.ReconcileMovie(context.Background(), e.store, reconcile.MovieRequest{
		Source: model.SourceIMDb, Local: movie, Remote: &provider.MovieRef{ID: 2},
	})
	assert.ErrorIs(t, err, syncerr.ErrPossibleDuplicate)
}

func TestReconcileValidation(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	untitled := e.store.AddMovie(model.Movie{Year: 1999})
	nameless := e.store.AddPerson(model.Person{})

	tests := []struct {
		name string
		run  func() error
	}{
		{"没有任何输入", func() error {
			_, err := e.rec.ReconcileMovie(ctx, e.store, reconcile.MovieRequest{Source: model.SourceIMDb})
			return err
		}},
		{"电影没有标题", func() error {
			_, err := e.rec.ReconcileMovie(ctx, e.store, reconcile.MovieRequest{Source: model.SourceIMDb, Local: untitled})
			return err
		}},
		{"未保存的电影", func() error {
			_, err := e.rec.ReconcileMovie(ctx, e.store, reconcile.MovieRequest{Source: model.SourceIMDb, Local: &model.Movie{Title: "x"}})
			return err
		}},
		{"远端 ID 非法", func() error {
			_, err := e.rec.ReconcileMovie(ctx, e.store, reconcile.MovieRequest{Source: model.SourceIMDb, Remote: &provider.MovieRef{Title: "x"}})
			return err
		}},
		{"维基百科没有身份表", func() error {
			_, err := e.rec.ReconcileMovie(ctx, e.store, reconcile.MovieRequest{Source: model.SourceWikipedia, Local: untitled})
			return err
		}},
		{"人物没有名字", func() error {
			_, err := e.rec.ReconcilePerson(ctx, e.store, reconcile.PersonRequest{Source: model.SourceIMDb, Local: nameless})
			return err
		}},
		{"远端人物没有名字", func() error {
			_, err := e.rec.ReconcilePerson(ctx, e.store, reconcile.PersonRequest{Source: model.SourceIMDb, Remote: &provider.PersonRef{ID: 3}})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.run(), syncerr.ErrWrongValue)
		})
	}
	assert.Empty(t, e.imdb.Calls)
}

func TestResolveMovie(t *testing.T) {
	ctx := context.Background()
	remote := &provider.MovieRef{ID: 64276, Title: "Easy Rider", Year: 1969, Kind: "movie"}

	t.Run("唯一本地候选", func(t *testing.T) {
		e := newEngine(t)
		movie := e.store.AddMovie(model.Movie{TitleEn: "easy rider", Year: 1969})
		match, err := e.rec.ReconcileMovie(ctx, e.store, reconcile.MovieRequest{Source: model.SourceIMDb, Remote: remote})
		require.NoError(t, err)
		assert.Equal(t, movie.ID, match.LocalID)
		assert.Equal(t, reconcile.StrategySearch, match.Strategy)
	})

	t.Run("多个候选不建档", func(t *testing.T) {
		e := newEngine(t)
		e.store.AddMovie(model.Movie{TitleEn: "Easy Rider", Year: 1969})
		e.store.AddMovie(model.Movie{TitleEn: "Easy Rider", Year: 1969})
		_, err := e.rec.ReconcileMovie(ctx, e.store, reconcile.MovieRequest{Source: model.SourceIMDb, Remote: remote, AllowCreate: true})
		assert.ErrorIs(t, err, syncerr.ErrNothingFound)
		assert.Len(t, e.store.Movies(), 2)
	})

	t.Run("已绑定的候选不参与", func(t *testing.T) {
		e := newEngine(t)
		bound := e.store.AddMovie(model.Movie{TitleEn: "Easy Rider", Year: 1969})
		e.store.Bind(model.SourceIMDb, model.KindMovie, bound.ID, 1)
		_, err := e.rec.ReconcileMovie(ctx, e.store, reconcile.MovieRequest{Source: model.SourceIMDb, Remote: remote})
		assert.ErrorIs(t, err, syncerr.ErrNothingFound)
	})

	t.Run("允许时建档", func(t *testing.T) {
		e := newEngine(t)
		match, err := e.rec.ReconcileMovie(ctx, e.store, reconcile.MovieRequest{Source: model.SourceIMDb, Remote: remote, AllowCreate: true})
		require.NoError(t, err)
		assert.True(t, match.Created)
		assert.Equal(t, reconcile.StrategyCreate, match.Strategy)

		movies := e.store.Movies()
		require.Len(t, movies, 1)
		assert.Equal(t, "Easy Rider", movies[0].TitleEn)
		assert.Equal(t, 1969, movies[0].Year)
		assert.Equal(t, int64(64276), e.externalID(t, model.SourceIMDb, model.KindMovie, movies[0].ID))
	})
}

func TestResolvePersonByAnchor(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	movie := e.store.AddMovie(model.Movie{Title: "Принц", Year: 2014})
	// 同名人物有两个，只有一个出现在这部电影里
	e.store.AddPerson(model.Person{FirstName: "Брюс", LastName: "Уиллис"})
	willis := e.store.AddPerson(model.Person{FirstName: "Брюс", LastName: "Уиллис"})
	e.store.Link(movie.ID, willis.ID, model.RoleActor)

	match, err := e.rec.ReconcilePerson(ctx, e.store, reconcile.PersonRequest{
		Source: model.SourceKinopoisk,
		Remote: &provider.PersonRef{ID: 24262, Name: "Брюс Уиллис", NameEn: "Bruce Willis"},
		Anchor: movie.Ref(),
	})
	require.NoError(t, err)
	assert.Equal(t, willis.ID, match.LocalID)
	assert.Equal(t, reconcile.StrategyRelation, match.Strategy)
}

func TestResolveMovieWithoutYear(t *testing.T) {
	ctx := context.Background()
	remote := &provider.MovieRef{ID: 41519, Title: "Гамлет"}

	t.Run("详情年份不同不绑定同名电影", func(t *testing.T) {
		e := newEngine(t)
		hamlet := e.store.AddMovie(model.Movie{Title: "Гамлет", TitleEn: "Hamlet", Year: 1948})
		e.kp.On("GetMovie", mock.Anything, int64(41519)).
			Return(&provider.Movie{ID: 41519, Title: "Гамлет", Year: 1964, Kind: "movie"}, nil).Once()

		_, err := e.rec.ReconcileMovie(ctx, e.store, reconcile.MovieRequest{Source: model.SourceKinopoisk, Remote: remote})
		assert.ErrorIs(t, err, syncerr.ErrNothingFound)
		_, found, err := e.store.FindExternal(ctx, model.SourceKinopoisk, model.KindMovie, hamlet.ID)
		require.NoError(t, err)
		assert.False(t, found)
		e.kp.AssertExpectations(t)
	})

	t.Run("详情年份一致时绑定", func(t *testing.T) {
		e := newEngine(t)
		hamlet := e.store.AddMovie(model.Movie{Title: "Гамлет", Year: 1964})
		e.kp.On("GetMovie", mock.Anything, int64(41519)).
			Return(&provider.Movie{ID: 41519, Title: "Гамлет", Year: 1964, Kind: "movie"}, nil).Once()

		match, err := e.rec.ReconcileMovie(ctx, e.store, reconcile.MovieRequest{Source: model.SourceKinopoisk, Remote: remote})
		require.NoError(t, err)
		assert.Equal(t, hamlet.ID, match.LocalID)
		assert.Equal(t, reconcile.StrategySearch, match.Strategy)
	})

	t.Run("读不到详情时放弃", func(t *testing.T) {
		e := newEngine(t)
		e.store.AddMovie(model.Movie{Title: "Гамлет", Year: 1948})
		e.kp.On("GetMovie", mock.Anything, int64(41519)).Return(nil, syncerr.NothingFound("gone")).Once()

		_, err := e.rec.ReconcileMovie(ctx, e.store, reconcile.MovieRequest{
			Source: model.SourceKinopoisk, Remote: remote, AllowCreate: true,
		})
		assert.ErrorIs(t, err, syncerr.ErrNothingFound)
		assert.Len(t, e.store.Movies(), 1)
	})

	t.Run("瞬时错误向上传递", func(t *testing.T) {
		e := newEngine(t)
		e.kp.On("GetMovie", mock.Anything, int64(41519)).
			Return(nil, syncerr.Transient(errors.New("timeout"), "kinopoisk")).Once()

		_, err := e.rec.ReconcileMovie(ctx, e.store, reconcile.MovieRequest{Source: model.SourceKinopoisk, Remote: remote})
		assert.ErrorIs(t, err, syncerr.ErrTransient)
	})
}
