package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"

	"github.com/user/kinomerge/internal/model"
	"github.com/user/kinomerge/internal/syncerr"
)

// FindLocal 根据外部 ID 查找本地实体 ID
func (s *PGStore) FindLocal(ctx context.Context, source model.Source, kind model.Kind, externalID int64) (uint, bool, error) {
	identity, err := s.GetIdentity(ctx, source, kind, externalID)
	if err != nil || identity == nil {
		return 0, false, err
	}
	return identity.LocalID, true, nil
}

// FindExternal 根据本地实体 ID 查找外部 ID
func (s *PGStore) FindExternal(ctx context.Context, source model.Source, kind model.Kind, localID uint) (int64, bool, error) {
	table, err := model.IdentityTable(source, kind)
	if err != nil {
		return 0, false, err
	}
	var identity model.ExternalIdentity
	err = s.conn(ctx).Table(table).Where("local_id = ?", localID).Take(&identity).Error
	if notFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return identity.ID, true, nil
}

// GetIdentity 读取外部身份记录
func (s *PGStore) GetIdentity(ctx context.Context, source model.Source, kind model.Kind, externalID int64) (*model.ExternalIdentity, error) {
	table, err := model.IdentityTable(source, kind)
	if err != nil {
		return nil, err
	}
	var identity model.ExternalIdentity
	err = s.conn(ctx).Table(table).Where("id = ?", externalID).Take(&identity).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

// BindIdentity 绑定外部 ID 与本地实体
func (s *PGStore) BindIdentity(ctx context.Context, source model.Source, kind model.Kind, localID uint, externalID int64) error {
	table, err := model.IdentityTable(source, kind)
	if err != nil {
		return err
	}

	if claimedBy, found, err := s.FindLocal(ctx, source, kind, externalID); err != nil {
		return err
	} else if found {
		if claimedBy == localID {
			return nil
		}
		return syncerr.PossibleDuplicate(string(source), string(kind), externalID, claimedBy, localID)
	}

	if boundTo, found, err := s.FindExternal(ctx, source, kind, localID); err != nil {
		return err
	} else if found {
		return syncerr.AlreadyBound(string(source), string(kind), localID, boundTo, externalID)
	}

	// 并发写入时由唯一约束兜底，DO NOTHING 避免中止外层事务
	result := s.conn(ctx).Table(table).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.ExternalIdentity{ID: externalID, LocalID: localID})
	if result.Error != nil {
		return fmt.Errorf("绑定 %s 失败: %w", table, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	claimedBy, found, err := s.FindLocal(ctx, source, kind, externalID)
	if err != nil {
		return err
	}
	if found && claimedBy == localID {
		return nil
	}
	if found {
		return syncerr.PossibleDuplicate(string(source), string(kind), externalID, claimedBy, localID)
	}
	boundTo, _, err := s.FindExternal(ctx, source, kind, localID)
	if err != nil {
		return err
	}
	return syncerr.AlreadyBound(string(source), string(kind), localID, boundTo, externalID)
}

// SaveIdentity 更新身份上的评分等字段
func (s *PGStore) SaveIdentity(ctx context.Context, source model.Source, kind model.Kind, identity *model.ExternalIdentity) error {
	table, err := model.IdentityTable(source, kind)
	if err != nil {
		return err
	}
	result := s.conn(ctx).Table(table).Where("id = ?", identity.ID).Updates(map[string]any{
		"rating":    identity.Rating,
		"votes":     identity.Votes,
		"info":      identity.Info,
		"synced_at": identity.SyncedAt,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return syncerr.NothingFound("%s %d is not bound", table, identity.ID)
	}
	return nil
}

// ListStaleIdentities 返回从未同步或同步时间早于 before 的身份
func (s *PGStore) ListStaleIdentities(ctx context.Context, source model.Source, kind model.Kind, before time.Time, limit int) ([]model.ExternalIdentity, error) {
	table, err := model.IdentityTable(source, kind)
	if err != nil {
		return nil, err
	}
	var identities []model.ExternalIdentity
	err = s.conn(ctx).Table(table).
		Where("synced_at IS NULL OR synced_at < ?", before).
		Order("synced_at ASC NULLS FIRST").
		Limit(limit).
		Find(&identities).Error
	return identities, err
}
