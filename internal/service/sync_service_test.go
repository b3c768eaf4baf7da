package service_test

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
	"github.com/user/kinomerge/internal/repository"
	"github.com/user/kinomerge/internal/repository/repotest"
	"github.com/user/kinomerge/internal/service"
	"github.com/user/kinomerge/internal/syncerr"
)

type harness struct {
	store *repotest.Store
	imdb  *mocks.Provider
	kp    *mocks.Provider
	wiki  *mocks.Encyclopedia
	svc   *service.SyncService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store: repotest.New(),
		imdb:  &mocks.Provider{ID: model.SourceIMDb},
		kp:    &mocks.Provider{ID: model.SourceKinopoisk},
		wiki:  &mocks.Encyclopedia{},
	}
	cfg := reconcile.DefaultConfig()
	require.NoError(t, cfg.LoadRoles(context.Background(), h.store))
	rec := reconcile.New([]provider.Provider{h.imdb, h.kp}, cfg, zap.NewNop())
	h.svc = service.NewSyncService(h.store, rec, zap.NewNop(),
		service.WithEncyclopedia(h.wiki, []string{"en", "ru"}))
	return h
}

func (h *harness) externalID(t *testing.T, source model.Source, ref model.ContentRef) int64 {
	t.Helper()
	id, found, err := h.store.FindExternal(context.Background(), source, ref.Kind(), ref.LocalID())
	require.NoError(t, err)
	require.True(t, found)
	return id
}

func TestSyncMovieAllStages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	movie := h.store.AddMovie(model.Movie{Title: "Беспечный ездок", Year: 1969})
	h.store.Bind(model.SourceIMDb, model.KindMovie, movie.ID, 64276)
	hopper := h.store.AddPerson(model.Person{FirstNameEn: "Dennis", LastNameEn: "Hopper"})
	h.store.Bind(model.SourceIMDb, model.KindPerson, hopper.ID, 454)

	h.imdb.On("GetMovie", mock.Anything, int64(64276)).Return(&provider.Movie{
		ID: 64276, Title: "Easy Rider", Year: 1969, Runtime: 95, Rating: 7.3, Votes: 110000,
	}, nil)
	h.imdb.On("MovieCredits", mock.Anything, int64(64276)).Return([]provider.Credit{
		{Role: "actor", Note: "Billy", Person: &provider.PersonRef{ID: 454, NameEn: "Dennis Hopper"}},
		{Role: "actor", Note: "Wyatt", Person: &provider.PersonRef{ID: 1, NameEn: "Peter Fonda"}},
		{Role: "stunts", Person: &provider.PersonRef{ID: 2, NameEn: "Some Stuntman"}},
	}, nil)
	h.imdb.On("MovieImages", mock.Anything, int64(64276)).Return([]provider.Image{
		{URL: "https://m.media-amazon.com/images/M/MV5BA1.jpg", Key: "MV5BA1"},
		{URL: "https://m.media-amazon.com/images/M/MV5BA1._V1_UX100.jpg", Key: "MV5BA1"},
		{URL: "https://m.media-amazon.com/images/M/MV5BB2.jpg", Key: "MV5BB2"},
	}, nil)
	h.wiki.On("Search", mock.Anything, mock.Anything, mock.Anything).Return([]string{}, nil)

	req := service.SyncRequest{Ref: movie.Ref(), Source: model.SourceIMDb, Mode: reconcile.ModeAll}
	result, err := h.svc.Sync(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, model.StateImagesSynced, result.State)
	assert.Equal(t, int64(64276), result.ExternalID)
	require.Len(t, result.Stages, 4)
	assert.Equal(t, []string{reconcile.FieldTitleEn, reconcile.FieldRuntime}, result.Stages[0].Changed)
	assert.Equal(t, 2, result.Stages[1].Linked)
	assert.Equal(t, 1, result.Stages[1].Created)
	assert.Equal(t, 1, result.Stages[1].Skipped)
	assert.Equal(t, 2, result.Stages[2].Added)

	assert.Len(t, h.store.Cast(), 2)
	assert.Len(t, h.store.Persons(), 2)
	assert.Len(t, h.store.Images(), 2)
	assert.Contains(t, h.store.Locks(), repository.LockKey(movie.Ref(), model.SourceIMDb))

	state, err := h.store.GetSyncState(ctx, movie.Ref(), model.SourceIMDb)
	require.NoError(t, err)
	require.NotNil(t, state.LinksSyncedAt)
	assert.Empty(t, state.LastError)

	identity, err := h.store.GetIdentity(ctx, model.SourceIMDb, model.KindMovie, 64276)
	require.NoError(t, err)
	assert.NotNil(t, identity.SyncedAt)

	// 再次同步不产生新数据
	result, err = h.svc.Sync(ctx, req)
	require.NoError(t, err)
	assert.Empty(t, result.Stages[0].Changed)
	assert.Equal(t, 0, result.Stages[1].Created)
	assert.Equal(t, 0, result.Stages[2].Added)
	assert.Len(t, h.store.Cast(), 2)
	assert.Len(t, h.store.Persons(), 2)
}

func TestSyncStageFailureKeepsEarlierStages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	movie := h.store.AddMovie(model.Movie{TitleEn: "Easy Rider", Year: 1969})
	h.store.Bind(model.SourceIMDb, model.KindMovie, movie.ID, 64276)
	h.imdb.On("GetMovie", mock.Anything, int64(64276)).Return(&provider.Movie{ID: 64276, Title: "Easy Rider", Year: 1969}, nil)
	h.imdb.On("MovieCredits", mock.Anything, int64(64276)).
		Return(nil, syncerr.Transient(errors.New("i/o timeout"), "imdb")).Once()
	h.imdb.On("MovieCredits", mock.Anything, int64(64276)).Return([]provider.Credit{}, nil)

	result, err := h.svc.Sync(ctx, service.SyncRequest{Ref: movie.Ref(), Source: model.SourceIMDb})
	require.Error(t, err)
	assert.True(t, syncerr.IsTransient(err))
	assert.Equal(t, model.StateDetailsSynced, result.State)
	require.Len(t, result.Stages, 2)
	assert.NotEmpty(t, result.Stages[1].Error)

	state, err := h.store.GetSyncState(ctx, movie.Ref(), model.SourceIMDb)
	require.NoError(t, err)
	assert.NotNil(t, state.DetailsSyncedAt)
	assert.Nil(t, state.CastSyncedAt)
	assert.Nil(t, state.ImagesSyncedAt)
	assert.Contains(t, state.LastError, "cast")
	h.imdb.AssertNotCalled(t, "MovieImages", mock.Anything, mock.Anything)

	// 只重跑失败的阶段
	result, err = h.svc.Sync(ctx, service.SyncRequest{Ref: movie.Ref(), Source: model.SourceIMDb, Stages: []model.Stage{model.StageCast}})
	require.NoError(t, err)
	assert.Equal(t, model.StateCastSynced, result.State)
	h.imdb.AssertNumberOfCalls(t, "GetMovie", 1)
}

func TestSyncCastAbortsOnDuplicate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	movie := h.store.AddMovie(model.Movie{TitleEn: "The Prince", Year: 2014})
	h.store.Bind(model.SourceIMDb, model.KindMovie, movie.ID, 1085492)
	willis := h.store.AddPerson(model.Person{FirstNameEn: "Bruce", LastNameEn: "Willis"})
	h.store.Link(movie.ID, willis.ID, model.RoleActor)
	h.store.Bind(model.SourceIMDb, model.KindPerson, willis.ID, 999)

	h.imdb.On("MovieCredits", mock.Anything, int64(1085492)).Return([]provider.Credit{
		{Role: "actor", Person: &provider.PersonRef{ID: 62, NameEn: "Bruce Willis"}},
		{Role: "actor", Person: &provider.PersonRef{ID: 1, NameEn: "Jason Patric"}},
	}, nil)

	_, err := h.svc.Sync(ctx, service.SyncRequest{
		Ref: movie.Ref(), Source: model.SourceIMDb, Stages: []model.Stage{model.StageCast}, Mode: reconcile.ModeAll,
	})
	assert.ErrorIs(t, err, syncerr.ErrPossibleDuplicate)
	assert.Len(t, h.store.Cast(), 1)
	assert.Len(t, h.store.Persons(), 1)
}

func TestSyncPersonCastCreateMissing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	hopper := h.store.AddPerson(model.Person{LastNameEn: "Hopper"})
	h.store.Bind(model.SourceIMDb, model.KindPerson, hopper.ID, 454)
	h.imdb.On("GetPerson", mock.Anything, int64(454)).Return(&provider.Person{ID: 454, NameEn: "Dennis Hopper"}, nil)
	h.imdb.On("PersonCredits", mock.Anything, int64(454)).Return([]provider.Credit{
		{Role: "actor", Note: "Billy", Movie: &provider.MovieRef{ID: 64276, Title: "Easy Rider", Year: 1969, Kind: "movie"}},
		{Role: "actor", Movie: &provider.MovieRef{ID: 1167638, Title: "Crash", Year: 2008, Kind: "tv series"}},
		{Role: "actor", Note: "Frank Booth", Movie: &provider.MovieRef{ID: 90756, Title: "Blue Velvet", Year: 1986, Kind: "movie"}},
		{Role: "actor", Movie: &provider.MovieRef{ID: 52520, Title: "The Twilight Zone", Year: 1961, Kind: "tv series"}},
		{Role: "director", Movie: &provider.MovieRef{ID: 64276, Title: "Easy Rider", Year: 1969, Kind: "movie"}},
	}, nil)

	result, err := h.svc.Sync(ctx, service.SyncRequest{
		Ref: hopper.Ref(), Source: model.SourceIMDb, Mode: reconcile.ModeAll,
		Stages: []model.Stage{model.StageCast, model.StageDetails},
	})
	require.NoError(t, err)
	require.Len(t, result.Stages, 2)
	assert.Equal(t, model.StageDetails, result.Stages[0].Stage)
	assert.Equal(t, []string{reconcile.FieldNameEn}, result.Stages[0].Changed)

	cast := result.Stages[1]
	assert.Equal(t, 3, cast.Linked)
	assert.Equal(t, 2, cast.Created)
	assert.Equal(t, 2, cast.Skipped)
	assert.Len(t, h.store.Cast(), 3)
	assert.Len(t, h.store.Movies(), 2)
	assert.Len(t, h.store.Persons(), 1)

	person, err := h.store.GetPerson(ctx, hopper.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dennis", person.FirstNameEn)
}

func TestSyncDiscoversIdentity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	movie := h.store.AddMovie(model.Movie{TitleEn: "Easy Rider", Year: 1969})
	h.imdb.On("SearchMovies", mock.Anything, "Easy Rider").Return([]provider.MovieRef{
		{ID: 1, Title: "Easy Rider", Year: 2012},
		{ID: 64276, Title: "Easy Rider", Year: 1969},
	}, nil)
	h.imdb.On("GetMovie", mock.Anything, int64(64276)).Return(&provider.Movie{ID: 64276, Title: "Easy Rider", Year: 1969}, nil)

	result, err := h.svc.Sync(ctx, service.SyncRequest{
		Ref: movie.Ref(), Source: model.SourceIMDb, Stages: []model.Stage{model.StageDetails},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(64276), result.ExternalID)
	assert.Equal(t, int64(64276), h.externalID(t, model.SourceIMDb, movie.Ref()))
	assert.Equal(t, model.StateDetailsSynced, result.State)
}

func TestSyncKinopoiskLinks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	movie := h.store.AddMovie(model.Movie{Title: "Беспечный ездок", TitleEn: "Easy Rider", Year: 1969})
	h.store.Bind(model.SourceKinopoisk, model.KindMovie, movie.ID, 4736)

	h.kp.On("GetMovie", mock.Anything, int64(4736)).Return(&provider.Movie{
		ID: 4736, Title: "Беспечный ездок", TitleOriginal: "Easy Rider", Year: 1969, IMDbID: 64276,
	}, nil)
	h.wiki.On("Search", mock.Anything, "en", "Easy Rider (1969 film)").
		Return([]string{"Easy Rider (soundtrack)", "Easy Rider"}, nil)
	h.wiki.On("GetPage", mock.Anything, "en", "Easy Rider").Return(&provider.Page{
		Lang: "en", Title: "Easy Rider", Extract: "Easy Rider is a 1969 American road film.",
		LangLinks: map[string]string{"ru": "Беспечный ездок", "de": "Easy Rider"},
	}, nil)
	h.wiki.On("GetPage", mock.Anything, "ru", "Беспечный ездок").Return(&provider.Page{
		Lang: "ru", Title: "Беспечный ездок", Extract: "Роуд-муви 1969 года.",
	}, nil)

	result, err := h.svc.Sync(ctx, service.SyncRequest{
		Ref: movie.Ref(), Source: model.SourceKinopoisk, Stages: []model.Stage{model.StageLinks},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Stages[0].Added)
	assert.Equal(t, int64(64276), h.externalID(t, model.SourceIMDb, movie.Ref()))

	pages, err := h.store.PagesFor(ctx, movie.Ref())
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "Easy Rider", pages[0].Title)
	assert.Equal(t, "Беспечный ездок", pages[1].Title)
	assert.NotNil(t, pages[0].SyncedAt)

	h.wiki.AssertNotCalled(t, "GetPage", mock.Anything, "en", "Easy Rider (soundtrack)")
	h.wiki.AssertNotCalled(t, "GetPage", mock.Anything, "de", mock.Anything)
	h.imdb.AssertNotCalled(t, "SearchMovies", mock.Anything, mock.Anything)

	// 所有语言都已关联时不再访问维基百科
	result, err = h.svc.Sync(ctx, service.SyncRequest{
		Ref: movie.Ref(), Source: model.SourceKinopoisk, Stages: []model.Stage{model.StageLinks},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Stages[0].Added)
	h.wiki.AssertNumberOfCalls(t, "Search", 1)
}

func TestSyncRejectsInvalidRequests(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	movie := h.store.AddMovie(model.Movie{TitleEn: "Easy Rider", Year: 1969})

	_, err := h.svc.Sync(ctx, service.SyncRequest{Ref: movie.Ref(), Source: model.SourceWikipedia})
	assert.ErrorIs(t, err, syncerr.ErrWrongValue)

	_, err = h.svc.Sync(ctx, service.SyncRequest{Source: model.SourceIMDb})
	assert.ErrorIs(t, err, syncerr.ErrWrongValue)

	_, err = h.svc.Sync(ctx, service.SyncRequest{Ref: movie.Ref(), Source: model.SourceIMDb, Stages: []model.Stage{"posters"}})
	assert.ErrorIs(t, err, syncerr.ErrWrongValue)

	_, err = h.svc.Sync(ctx, service.SyncRequest{Ref: model.MovieRef(404), Source: model.SourceIMDb})
	assert.ErrorIs(t, err, syncerr.ErrNothingFound)
}

func TestSyncStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	movie := h.store.AddMovie(model.Movie{TitleEn: "Easy Rider", Year: 1969})
	h.store.Bind(model.SourceIMDb, model.KindMovie, movie.ID, 64276)
	h.imdb.On("GetMovie", mock.Anything, int64(64276)).Return(&provider.Movie{ID: 64276, Title: "Easy Rider", Year: 1969}, nil)

	_, err := h.svc.Sync(ctx, service.SyncRequest{Ref: movie.Ref(), Source: model.SourceIMDb, Stages: []model.Stage{model.StageDetails}})
	require.NoError(t, err)

	statuses, err := h.svc.Status(ctx, movie.Ref())
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, model.SourceIMDb, statuses[0].Source)
	assert.Equal(t, int64(64276), statuses[0].ExternalID)
	assert.Equal(t, model.StateDetailsSynced, statuses[0].State)
	assert.Equal(t, model.SourceKinopoisk, statuses[1].Source)
	assert.Zero(t, statuses[1].ExternalID)
	assert.Equal(t, model.StateUnsynced, statuses[1].State)
	assert.Nil(t, statuses[1].Sync)
}
