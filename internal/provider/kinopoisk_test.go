package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/kinomerge/internal/syncerr"
)

func newKinopoiskServer(t *testing.T) *Kinopoisk {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2.2/films/535341", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-API-KEY"))
		w.Write([]byte(`{"kinopoiskId":535341,"imdbId":"tt1085492","nameRu":"Принц","nameEn":null,"nameOriginal":"The Prince",
			"year":2014,"filmLength":93,"ratingKinopoisk":5.4,"ratingKinopoiskVoteCount":9800,"type":"FILM",
			"genres":[{"genre":"боевик"},{"genre":"триллер"}],"countries":[{"country":"США"}]}`))
	})
	mux.HandleFunc("/api/v1/staff", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "535341", r.URL.Query().Get("filmId"))
		w.Write([]byte(`[{"staffId":1,"nameRu":"Брайан А. Миллер","nameEn":"Brian A. Miller","description":null,"professionKey":"DIRECTOR"},
			{"staffId":24262,"nameRu":"Брюс Уиллис","nameEn":"Bruce Willis","description":"Omar","professionKey":"ACTOR"}]`))
	})
	mux.HandleFunc("/api/v1/staff/24262", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"personId":24262,"nameRu":"Брюс Уиллис","nameEn":"Bruce Willis","sex":"MALE","birthday":"1955-03-19",
			"posterUrl":"https://kinopoiskapiunofficial.tech/images/actor_posters/kp/24262.jpg",
			"films":[{"filmId":535341,"nameRu":"Принц","nameEn":"The Prince","description":"Omar","professionKey":"ACTOR"}]}`))
	})
	mux.HandleFunc("/api/v2.1/films/search-by-keyword", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"films":[{"filmId":535341,"nameRu":"Принц","nameEn":"The Prince","type":"FILM","year":"2014"},
			{"filmId":900,"nameRu":"Принц","type":"MINI_SERIES","year":"null"}]}`))
	})
	mux.HandleFunc("/api/v2.2/films/1/images", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewKinopoisk(srv.URL, "test-key", 5*time.Second)
}

func TestKinopoiskGetMovie(t *testing.T) {
	p := newKinopoiskServer(t)
	movie, err := p.GetMovie(context.Background(), 535341)
	require.NoError(t, err)

	assert.Equal(t, "Принц", movie.Title)
	assert.Equal(t, "The Prince", movie.TitleOriginal)
	assert.Empty(t, movie.Akas)
	assert.Equal(t, int64(1085492), movie.IMDbID)
	assert.Equal(t, 93, movie.Runtime)
	assert.Equal(t, 5.4, movie.Rating)
	assert.Equal(t, []string{"боевик", "триллер"}, movie.Genres)
	assert.Equal(t, []string{"США"}, movie.Countries)
	assert.Equal(t, "movie", movie.Kind)
}

func TestKinopoiskMovieCredits(t *testing.T) {
	p := newKinopoiskServer(t)
	credits, err := p.MovieCredits(context.Background(), 535341)
	require.NoError(t, err)
	require.Len(t, credits, 2)
	assert.Equal(t, "DIRECTOR", credits[0].Role)
	assert.Equal(t, "", credits[0].Note)
	assert.Equal(t, "Omar", credits[1].Note)
	assert.Equal(t, PersonRef{ID: 24262, Name: "Брюс Уиллис", NameEn: "Bruce Willis"}, *credits[1].Person)
}

func TestKinopoiskPerson(t *testing.T) {
	p := newKinopoiskServer(t)
	person, err := p.GetPerson(context.Background(), 24262)
	require.NoError(t, err)
	assert.Equal(t, "male", person.Gender)
	assert.Equal(t, "Брюс Уиллис", person.Name)
	assert.NoError(t, Validate(person))

	credits, err := p.PersonCredits(context.Background(), 24262)
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, int64(535341), credits[0].Movie.ID)
	assert.Equal(t, 0, credits[0].Movie.Year)

	images, err := p.PersonImages(context.Background(), 24262)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, "24262", images[0].Key)
}

func TestKinopoiskSearchMovies(t *testing.T) {
	p := newKinopoiskServer(t)
	refs, err := p.SearchMovies(context.Background(), "Принц")
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, 2014, refs[0].Year)
	assert.Equal(t, 0, refs[1].Year)
	assert.Equal(t, "tv mini series", refs[1].Kind)
}

func TestKinopoiskErrorsClassified(t *testing.T) {
	p := newKinopoiskServer(t)

	_, err := p.MovieImages(context.Background(), 1)
	assert.ErrorIs(t, err, syncerr.ErrTransient)

	_, err = p.GetMovie(context.Background(), 2)
	assert.ErrorIs(t, err, syncerr.ErrNothingFound)
}
