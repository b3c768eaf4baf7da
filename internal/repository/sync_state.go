package repository

import (
	"context"

	"gorm.io/gorm/clause"

	"github.com/user/kinomerge/internal/model"
)

// GetSyncState 实体在某数据源上的同步记录
func (s *PGStore) GetSyncState(ctx context.Context, ref model.ContentRef, source model.Source) (*model.SyncState, error) {
	var state model.SyncState
	err := s.conn(ctx).
		Where("content_kind = ? AND object_id = ? AND source = ?", ref.Kind(), ref.LocalID(), source).
		Take(&state).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// ListSyncStates 实体在所有数据源上的同步记录
func (s *PGStore) ListSyncStates(ctx context.Context, ref model.ContentRef) ([]model.SyncState, error) {
	var states []model.SyncState
	err := s.conn(ctx).
		Where("content_kind = ? AND object_id = ?", ref.Kind(), ref.LocalID()).
		Order("source").
		Find(&states).Error
	return states, err
}

// SaveSyncState 按 (kind, object, source) 写入
func (s *PGStore) SaveSyncState(ctx context.Context, state *model.SyncState) error {
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "content_kind"}, {Name: "object_id"}, {Name: "source"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"details_synced_at", "cast_synced_at", "images_synced_at", "links_synced_at", "last_error", "updated_at",
		}),
	}).Create(state).Error
}

// AddImages 记录待下载图片，重复的 source_key 忽略
func (s *PGStore) AddImages(ctx context.Context, images []model.Image) (int, error) {
	if len(images) == 0 {
		return 0, nil
	}
	result := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source"}, {Name: "source_key"}},
		DoNothing: true,
	}).Create(&images)
	return int(result.RowsAffected), result.Error
}
