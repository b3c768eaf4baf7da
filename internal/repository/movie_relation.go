package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/user/kinomerge/internal/model"
)

// MovieRelationRepository 用户与电影的关系
type MovieRelationRepository struct {
	db *gorm.DB
}

func NewMovieRelationRepository(db *gorm.DB) *MovieRelationRepository {
	return &MovieRelationRepository{db: db}
}

// Get 获取关系，不存在时返回 nil
func (r *MovieRelationRepository) Get(ctx context.Context, userID, movieID uint) (*model.MovieRelation, error) {
	var rec model.MovieRelation
	err := r.db.WithContext(ctx).Where("user_id = ? AND movie_id = ?", userID, movieID).Take(&rec).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Upsert 按 (user_id, movie_id) 写入态度
func (r *MovieRelationRepository) Upsert(ctx context.Context, m *model.MovieRelation) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "movie_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"favorite", "liked", "disliked", "seen", "ignored", "updated_at"}),
	}).Omit(clause.Associations).Create(m).Error
}

// ListByUser 用户有某种态度的电影，按更新时间倒序
func (r *MovieRelationRepository) ListByUser(ctx context.Context, userID uint, field model.AttitudeField, limit int) ([]*model.MovieRelation, error) {
	var records []*model.MovieRelation
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where(clause.Eq{Column: clause.Column{Name: string(field)}, Value: true}).
		Order("updated_at DESC").
		Limit(limit).
		Find(&records).Error
	return records, err
}
