package repository

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/user/kinomerge/internal/config"
	"github.com/user/kinomerge/internal/model"
)

// InitDB 初始化数据库连接
func InitDB(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("无法连接数据库: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取连接池失败: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("数据库 ping 失败: %w", err)
	}

	// 设置连接池
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return db, nil
}

// identityDDL 四张身份表结构相同，外键随本地实体级联删除
const identityDDL = `CREATE TABLE IF NOT EXISTS %s (
	id bigint PRIMARY KEY,
	local_id bigint NOT NULL UNIQUE REFERENCES %s(id) ON DELETE CASCADE,
	rating double precision NOT NULL DEFAULT 0,
	votes integer NOT NULL DEFAULT 0,
	info text NOT NULL DEFAULT '',
	synced_at timestamptz
)`

// Migrate 建表并写入职务字典
func Migrate(ctx context.Context, db *gorm.DB) error {
	db = db.WithContext(ctx)
	if err := db.AutoMigrate(
		&model.Genre{}, &model.Country{}, &model.Language{},
		&model.Movie{}, &model.Person{}, &model.Role{}, &model.Cast{},
		&model.PropertyName{}, &model.WikipediaPage{}, &model.Image{},
		&model.SyncState{}, &model.MovieRelation{},
	); err != nil {
		return fmt.Errorf("自动迁移失败: %w", err)
	}

	for _, source := range []model.Source{model.SourceIMDb, model.SourceKinopoisk} {
		for kind, parent := range map[model.Kind]string{model.KindMovie: "movies", model.KindPerson: "people"} {
			table, err := model.IdentityTable(source, kind)
			if err != nil {
				return err
			}
			if err := db.Exec(fmt.Sprintf(identityDDL, table, parent)).Error; err != nil {
				return fmt.Errorf("创建 %s 失败: %w", table, err)
			}
		}
	}

	roles := make([]model.Role, 0, len(model.RoleCodes))
	for _, code := range model.RoleCodes {
		roles = append(roles, model.Role{Code: code, Name: code})
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoNothing: true,
	}).Create(&roles).Error
}
