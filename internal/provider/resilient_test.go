package provider_test

import (
	"context"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/kinomerge/internal/config"
	"github.com/user/kinomerge/internal/model"
	"github.com/user/kinomerge/internal/provider"
	"github.com/user/kinomerge/internal/provider/mocks"
	"github.com/user/kinomerge/internal/syncerr"
)

func testClientConfig() config.ClientConfig {
	return config.ClientConfig{
		CacheSize:       10,
		CacheTTL:        time.Minute,
		BreakerFailures: 2,
		BreakerTimeout:  time.Minute,
	}
}

func TestResilientCachesSuccess(t *testing.T) {
	next := &mocks.Provider{ID: model.SourceIMDb}
	next.On("GetMovie", mock.Anything, int64(1)).
		Return(&provider.Movie{ID: 1, Title: "Easy Rider"}, nil).Once()

	r := provider.NewResilient(next, testClientConfig(), zap.NewNop())
	for i := 0; i < 3; i++ {
		movie, err := r.GetMovie(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, "Easy Rider", movie.Title)
	}
	next.AssertNumberOfCalls(t, "GetMovie", 1)
}

func TestResilientDoesNotCacheErrors(t *testing.T) {
	next := &mocks.Provider{ID: model.SourceKinopoisk}
	next.On("SearchPersons", mock.Anything, "Hopper").
		Return(nil, syncerr.NothingFound("nobody")).Times(3)

	r := provider.NewResilient(next, testClientConfig(), zap.NewNop())
	for i := 0; i < 3; i++ {
		_, err := r.SearchPersons(context.Background(), "Hopper")
		assert.ErrorIs(t, err, syncerr.ErrNothingFound)
	}
	// 数据错误不会触发熔断
	next.AssertNumberOfCalls(t, "SearchPersons", 3)
}

func TestResilientBreakerOpens(t *testing.T) {
	next := &mocks.Provider{ID: model.SourceKinopoisk}
	next.On("MovieCredits", mock.Anything, int64(7)).
		Return(nil, syncerr.Transient(nil, "rate limited"))

	r := provider.NewResilient(next, testClientConfig(), zap.NewNop())
	for i := 0; i < 2; i++ {
		_, err := r.MovieCredits(context.Background(), 7)
		assert.ErrorIs(t, err, syncerr.ErrTransient)
	}

	_, err := r.MovieCredits(context.Background(), 7)
	assert.ErrorIs(t, err, syncerr.ErrTransient)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	next.AssertNumberOfCalls(t, "MovieCredits", 2)
}

func TestResilientEncyclopedia(t *testing.T) {
	next := &mocks.Encyclopedia{}
	next.On("GetPage", mock.Anything, "en", "Easy Rider").
		Return(&provider.Page{Lang: "en", Title: "Easy Rider"}, nil).Once()

	r := provider.NewResilientEncyclopedia(next, testClientConfig(), zap.NewNop())
	for i := 0; i < 2; i++ {
		page, err := r.GetPage(context.Background(), "en", "Easy Rider")
		require.NoError(t, err)
		assert.Equal(t, "Easy Rider", page.Title)
	}
	next.AssertExpectations(t)
}

func TestResilientRateLimitWaitIsTransient(t *testing.T) {
	next := &mocks.Provider{ID: model.SourceKinopoisk}
	next.On("GetMovie", mock.Anything, int64(41519)).
		Return(&provider.Movie{ID: 41519, Title: "Гамлет"}, nil).Once()

	cfg := testClientConfig()
	cfg.RatePerSecond = 0.1
	cfg.Burst = 1
	cfg.CacheSize = 0
	r := provider.NewResilient(next, cfg, zap.NewNop())

	_, err := r.GetMovie(context.Background(), 41519)
	require.NoError(t, err)

	// 令牌用完后短超时的调用都应可重试，且不会打开熔断
	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_, err = r.GetMovie(ctx, 41519)
		cancel()
		assert.ErrorIs(t, err, syncerr.ErrTransient)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}
	next.AssertNumberOfCalls(t, "GetMovie", 1)
}
