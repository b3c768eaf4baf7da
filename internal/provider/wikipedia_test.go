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

func newWikipediaServer(t *testing.T) *Wikipedia {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/en/w/api.php", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "query", q.Get("action"))
		assert.Equal(t, "2", q.Get("formatversion"))

		if q.Get("list") == "search" {
			w.Write([]byte(`{"query":{"search":[{"title":"Easy Rider"},{"title":"Easy Rider (soundtrack)"}]}}`))
			return
		}
		switch q.Get("titles") {
		case "Easy Rider":
			assert.Equal(t, "extracts|langlinks", q.Get("prop"))
			w.Write([]byte(`{"query":{"pages":[{"title":"Easy Rider","extract":"<p><b>Easy Rider</b> is a 1969\n film.</p><p>Second.</p>",
				"langlinks":[{"lang":"ru","title":"Беспечный ездок"}]}]}}`))
		default:
			w.Write([]byte(`{"query":{"pages":[{"title":"` + q.Get("titles") + `","missing":true}]}}`))
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return NewWikipedia(srv.URL+"/%s", 5*time.Second)
}

func TestWikipediaSearch(t *testing.T) {
	w := newWikipediaServer(t)
	titles, err := w.Search(context.Background(), "en", "Easy Rider 1969")
	require.NoError(t, err)
	assert.Equal(t, []string{"Easy Rider", "Easy Rider (soundtrack)"}, titles)
}

func TestWikipediaGetPage(t *testing.T) {
	w := newWikipediaServer(t)
	page, err := w.GetPage(context.Background(), "en", "Easy Rider")
	require.NoError(t, err)
	assert.Equal(t, "en", page.Lang)
	assert.Equal(t, "Easy Rider is a 1969 film.\n\nSecond.", page.Extract)
	assert.Equal(t, map[string]string{"ru": "Беспечный ездок"}, page.LangLinks)
}

func TestWikipediaMissingPage(t *testing.T) {
	w := newWikipediaServer(t)
	_, err := w.GetPage(context.Background(), "en", "Nope")
	assert.ErrorIs(t, err, syncerr.ErrNothingFound)

	_, err = w.GetPage(context.Background(), "de", "Easy Rider")
	assert.ErrorIs(t, err, syncerr.ErrNothingFound)
}
