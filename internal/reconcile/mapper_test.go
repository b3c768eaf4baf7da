package reconcile_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/user/kinomerge/internal/config"
	"github.com/user/kinomerge/internal/model"
	"github.com/user/kinomerge/internal/reconcile"
	"github.com/user/kinomerge/internal/repository/repotest"
)

func TestMapPropertyNames(t *testing.T) {
	ctx := context.Background()
	store := repotest.New()
	drama := store.AddProperty(model.SourceIMDb, model.PropertyGenre, "Drama")
	store.AddPropertyName(model.SourceIMDb, model.PropertyGenre, "Dramatic", drama)
	crime := store.AddProperty(model.SourceIMDb, model.PropertyGenre, "Crime")

	core, logs := observer.New(zapcore.WarnLevel)
	mapper := reconcile.NewPropertyMapper(zap.New(core))

	ids, err := mapper.MapPropertyNames(ctx, store, model.SourceIMDb, model.PropertyGenre,
		[]string{"Crime", "Drama", "Crime", "Dramatic", "drama", "Western"})
	require.NoError(t, err)
	assert.Equal(t, []uint{crime, drama}, ids)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "drama, Western", entry.ContextMap()["names"])
	assert.Equal(t, "genre", entry.ContextMap()["type"])

	// 其他数据源的同名分类互不影响
	ids, err = mapper.MapPropertyNames(ctx, store, model.SourceKinopoisk, model.PropertyGenre, []string{"Drama"})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestMapPropertyNamesCachesOnlyHits(t *testing.T) {
	ctx := context.Background()
	store := repotest.New()
	drama := store.AddProperty(model.SourceKinopoisk, model.PropertyGenre, "драма")
	mapper := reconcile.NewPropertyMapper(zap.NewNop())

	ids, err := mapper.MapPropertyNames(ctx, store, model.SourceKinopoisk, model.PropertyGenre, []string{"драма", "вестерн"})
	require.NoError(t, err)
	assert.Equal(t, []uint{drama}, ids)

	// 补充映射后立即生效，已命中的仍走缓存
	western := store.AddProperty(model.SourceKinopoisk, model.PropertyGenre, "вестерн")
	store.AddPropertyName(model.SourceKinopoisk, model.PropertyGenre, "драма", western)

	ids, err = mapper.MapPropertyNames(ctx, store, model.SourceKinopoisk, model.PropertyGenre, []string{"драма", "вестерн"})
	require.NoError(t, err)
	assert.Equal(t, []uint{drama, western}, ids)
}

func TestMapPropertyNamesEmpty(t *testing.T) {
	mapper := reconcile.NewPropertyMapper(zap.NewNop())
	ids, err := mapper.MapPropertyNames(context.Background(), repotest.New(), model.SourceIMDb, model.PropertyCountry, []string{"", ""})
	require.NoError(t, err)
	assert.Nil(t, ids)
}

func TestNewConfig(t *testing.T) {
	cfg, err := reconcile.NewConfig(config.ReconcileConfig{
		MaxRelationAnchors: 2,
		ExcludedKinds:      []string{" TV Series ", "VIDEO"},
		AuthorNotePattern:  `(?i)comic`,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MaxRelationAnchors)
	assert.Equal(t, 3, cfg.AnchorConcurrency)
	assert.True(t, cfg.Excluded("tv series"))
	assert.True(t, cfg.Excluded("Video"))
	assert.False(t, cfg.Excluded("tv mini series"))
	assert.True(t, cfg.AuthorNote.MatchString("based on the Comic"))
	assert.False(t, cfg.AuthorNote.MatchString("novel"))

	code, ok := cfg.RoleCode(model.SourceKinopoisk, "WRITER")
	assert.True(t, ok)
	assert.Equal(t, model.RoleScenarist, code)
	_, ok = cfg.RoleCode(model.SourceWikipedia, "actor")
	assert.False(t, ok)

	_, err = reconcile.NewConfig(config.ReconcileConfig{AuthorNotePattern: "("})
	assert.Error(t, err)
}
