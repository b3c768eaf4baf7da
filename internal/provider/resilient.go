package provider

import (
	"context"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/user/kinomerge/internal/config"
	"github.com/user/kinomerge/internal/metrics"
	"github.com/user/kinomerge/internal/model"
	"github.com/user/kinomerge/internal/syncerr"
	"github.com/user/kinomerge/internal/utils"
)

// guard 限流、熔断、缓存
type guard struct {
	source  model.Source
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[any]
	cache   *utils.SearchCache[any]
}

func newGuard(source model.Source, cfg config.ClientConfig, log *zap.Logger) *guard {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	settings := gobreaker.Settings{
		Name:        string(source),
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return cfg.BreakerFailures > 0 && counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("[Provider] 熔断状态变化",
				zap.String("source", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
		// 数据本身的问题不算数据源故障
		IsSuccessful: func(err error) bool {
			return err == nil || syncerr.IsSkippable(err)
		},
	}

	g := &guard{
		source:  source,
		limiter: rate.NewLimiter(limit, burst),
		breaker: gobreaker.NewCircuitBreaker[any](settings),
	}
	if cfg.CacheSize > 0 && cfg.CacheTTL > 0 {
		g.cache = utils.NewSearchCache[any](cfg.CacheSize, cfg.CacheTTL)
	}
	return g
}

// run 执行一次受保护的调用，只缓存成功结果
func run[T any](ctx context.Context, g *guard, op string, key string, call func(context.Context) (T, error)) (T, error) {
	var zero T
	cacheKey := op + ":" + key
	if g.cache != nil {
		if cached, ok := g.cache.Get(cacheKey); ok {
			metrics.ProviderCacheHits.WithLabelValues(string(g.source)).Inc()
			return cached.(T), nil
		}
	}

	start := time.Now()
	// 等不到令牌不是数据源故障，不计入熔断
	if err := g.limiter.Wait(ctx); err != nil {
		err = syncerr.Transient(err, "%s: rate limit wait", g.source)
		metrics.RecordProviderRequest(string(g.source), op, time.Since(start), err)
		return zero, err
	}
	result, err := g.breaker.Execute(func() (any, error) {
		return call(ctx)
	})
	err = Classify(g.source, err)
	metrics.RecordProviderRequest(string(g.source), op, time.Since(start), err)
	if err != nil {
		return zero, err
	}

	value := result.(T)
	if g.cache != nil {
		g.cache.Set(cacheKey, value)
	}
	return value, nil
}

// Resilient 为 Provider 增加限流、熔断和响应缓存
type Resilient struct {
	next  Provider
	guard *guard
}

// NewResilient 包装数据源
func NewResilient(next Provider, cfg config.ClientConfig, log *zap.Logger) *Resilient {
	return &Resilient{next: next, guard: newGuard(next.Source(), cfg, log)}
}

func (r *Resilient) Source() model.Source { return r.next.Source() }

func (r *Resilient) GetMovie(ctx context.Context, id int64) (*Movie, error) {
	return run(ctx, r.guard, "get_movie", fmt.Sprint(id), func(ctx context.Context) (*Movie, error) {
		return r.next.GetMovie(ctx, id)
	})
}

func (r *Resilient) SearchMovies(ctx context.Context, query string) ([]MovieRef, error) {
	return run(ctx, r.guard, "search_movies", query, func(ctx context.Context) ([]MovieRef, error) {
		return r.next.SearchMovies(ctx, query)
	})
}

func (r *Resilient) GetPerson(ctx context.Context, id int64) (*Person, error) {
	return run(ctx, r.guard, "get_person", fmt.Sprint(id), func(ctx context.Context) (*Person, error) {
		return r.next.GetPerson(ctx, id)
	})
}

func (r *Resilient) SearchPersons(ctx context.Context, query string) ([]PersonRef, error) {
	return run(ctx, r.guard, "search_persons", query, func(ctx context.Context) ([]PersonRef, error) {
		return r.next.SearchPersons(ctx, query)
	})
}

func (r *Resilient) MovieCredits(ctx context.Context, id int64) ([]Credit, error) {
	return run(ctx, r.guard, "movie_credits", fmt.Sprint(id), func(ctx context.Context) ([]Credit, error) {
		return r.next.MovieCredits(ctx, id)
	})
}

func (r *Resilient) PersonCredits(ctx context.Context, id int64) ([]Credit, error) {
	return run(ctx, r.guard, "person_credits", fmt.Sprint(id), func(ctx context.Context) ([]Credit, error) {
		return r.next.PersonCredits(ctx, id)
	})
}

func (r *Resilient) MovieImages(ctx context.Context, id int64) ([]Image, error) {
	return run(ctx, r.guard, "movie_images", fmt.Sprint(id), func(ctx context.Context) ([]Image, error) {
		return r.next.MovieImages(ctx, id)
	})
}

func (r *Resilient) PersonImages(ctx context.Context, id int64) ([]Image, error) {
	return run(ctx, r.guard, "person_images", fmt.Sprint(id), func(ctx context.Context) ([]Image, error) {
		return r.next.PersonImages(ctx, id)
	})
}

// ResilientEncyclopedia 维基百科的同款包装
type ResilientEncyclopedia struct {
	next  Encyclopedia
	guard *guard
}

// NewResilientEncyclopedia 包装百科数据源
func NewResilientEncyclopedia(next Encyclopedia, cfg config.ClientConfig, log *zap.Logger) *ResilientEncyclopedia {
	return &ResilientEncyclopedia{next: next, guard: newGuard(model.SourceWikipedia, cfg, log)}
}

func (r *ResilientEncyclopedia) Search(ctx context.Context, lang, query string) ([]string, error) {
	return run(ctx, r.guard, "search", lang+"/"+query, func(ctx context.Context) ([]string, error) {
		return r.next.Search(ctx, lang, query)
	})
}

func (r *ResilientEncyclopedia) GetPage(ctx context.Context, lang, title string) (*Page, error) {
	return run(ctx, r.guard, "get_page", lang+"/"+title, func(ctx context.Context) (*Page, error) {
		return r.next.GetPage(ctx, lang, title)
	})
}
