// Package app 组装数据库、数据源和同步服务，供 server 和 syncctl 共用
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/user/kinomerge/internal/config"
	"github.com/user/kinomerge/internal/provider"
	"github.com/user/kinomerge/internal/reconcile"
	"github.com/user/kinomerge/internal/repository"
	"github.com/user/kinomerge/internal/service"
)

// App 运行期依赖
type App struct {
	DB        *gorm.DB
	Store     *repository.PGStore
	Relations *repository.MovieRelationRepository
	Sync      *service.SyncService
}

// Providers 按配置创建数据源，每个数据源都带限流、熔断和缓存
// 没有 Kinopoisk API key 时跳过 Kinopoisk
func Providers(cfg *config.Config, log *zap.Logger) []provider.Provider {
	providers := []provider.Provider{
		provider.NewResilient(provider.NewIMDb(cfg.IMDb.BaseURL, cfg.IMDb.Client.Timeout), cfg.IMDb.Client, log),
	}
	if cfg.Kinopoisk.APIKey == "" {
		log.Warn("[App] 未配置 KINOPOISK_API_KEY，Kinopoisk 数据源不可用")
		return providers
	}
	kp := provider.NewKinopoisk(cfg.Kinopoisk.BaseURL, cfg.Kinopoisk.APIKey, cfg.Kinopoisk.Client.Timeout)
	return append(providers, provider.NewResilient(kp, cfg.Kinopoisk.Client, log))
}

// SyncOptions 由配置生成同步服务参数
func SyncOptions(cfg *config.Config, log *zap.Logger) ([]service.SyncOption, error) {
	mode, err := reconcile.ParseMode(cfg.Reconcile.CastMode)
	if err != nil {
		return nil, err
	}
	opts := []service.SyncOption{
		service.WithDefaultMode(mode),
		service.WithStageTimeout(cfg.Queue.StageTimeout),
	}
	if len(cfg.Wikipedia.Langs) > 0 {
		wiki := provider.NewWikipedia(cfg.Wikipedia.BaseURL, cfg.Wikipedia.Client.Timeout)
		opts = append(opts, service.WithEncyclopedia(
			provider.NewResilientEncyclopedia(wiki, cfg.Wikipedia.Client, log),
			cfg.Wikipedia.Langs,
		))
	}
	return opts, nil
}

// New 连接数据库、执行迁移并创建同步服务
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	db, err := repository.InitDB(cfg.DB)
	if err != nil {
		return nil, err
	}
	if err := repository.Migrate(ctx, db); err != nil {
		return nil, err
	}
	store := repository.NewPGStore(db)

	rcfg, err := reconcile.NewConfig(cfg.Reconcile)
	if err != nil {
		return nil, err
	}
	if err := rcfg.LoadRoles(ctx, store); err != nil {
		return nil, err
	}
	opts, err := SyncOptions(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("invalid reconcile settings: %w", err)
	}

	rec := reconcile.New(Providers(cfg, log), rcfg, log)
	return &App{
		DB:        db,
		Store:     store,
		Relations: repository.NewMovieRelationRepository(db),
		Sync:      service.NewSyncService(store, rec, log, opts...),
	}, nil
}

// Close 关闭数据库连接
func (a *App) Close() error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
