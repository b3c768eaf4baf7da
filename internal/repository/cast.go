package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/user/kinomerge/internal/model"
)

// MovieCast 电影的全部演职员，包含人物
func (s *PGStore) MovieCast(ctx context.Context, movieID uint) ([]model.Cast, error) {
	var cast []model.Cast
	err := s.conn(ctx).Preload("Person").Where("movie_id = ?", movieID).Order("id").Find(&cast).Error
	return cast, err
}

// PersonCast 人物参与的全部电影
func (s *PGStore) PersonCast(ctx context.Context, personID uint) ([]model.Cast, error) {
	var cast []model.Cast
	err := s.conn(ctx).Preload("Movie").Where("person_id = ?", personID).Order("id").Find(&cast).Error
	return cast, err
}

// UpsertCast 插入演职员记录，已存在时只补全空的角色名
func (s *PGStore) UpsertCast(ctx context.Context, c *model.Cast) (bool, error) {
	db := s.conn(ctx)
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "person_id"}, {Name: "movie_id"}, {Name: "role_id"}},
		DoNothing: true,
	}).Omit(clause.Associations).Create(c)
	if result.Error != nil {
		return false, fmt.Errorf("写入演职员失败: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	var existing model.Cast
	if err := db.Where("person_id = ? AND movie_id = ? AND role_id = ?", c.PersonID, c.MovieID, c.RoleID).
		Take(&existing).Error; err != nil {
		return false, err
	}

	updates := map[string]any{}
	if existing.Name == "" && c.Name != "" {
		updates["name"] = c.Name
		existing.Name = c.Name
	}
	if existing.NameEn == "" && c.NameEn != "" {
		updates["name_en"] = c.NameEn
		existing.NameEn = c.NameEn
	}
	if len(updates) > 0 {
		if err := db.Model(&model.Cast{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
			return false, err
		}
	}
	*c = existing
	return false, nil
}

// RoleByCode 按代码获取职务
func (s *PGStore) RoleByCode(ctx context.Context, code string) (*model.Role, error) {
	var role model.Role
	err := s.conn(ctx).Where("code = ?", code).Take(&role).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &role, nil
}
