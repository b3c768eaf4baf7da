package repository

import (
	"context"

	"github.com/user/kinomerge/internal/model"
	"github.com/user/kinomerge/internal/syncerr"
)

// FindPage 按 (lang, title) 查找页面
func (s *PGStore) FindPage(ctx context.Context, lang, title string) (*model.WikipediaPage, error) {
	var page model.WikipediaPage
	err := s.conn(ctx).Where("lang = ? AND title = ?", lang, title).Take(&page).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &page, nil
}

// PagesFor 实体的所有语言页面
func (s *PGStore) PagesFor(ctx context.Context, ref model.ContentRef) ([]model.WikipediaPage, error) {
	var pages []model.WikipediaPage
	err := s.conn(ctx).
		Where("content_kind = ? AND object_id = ?", ref.Kind(), ref.LocalID()).
		Order("lang").
		Find(&pages).Error
	return pages, err
}

// UpsertPage 写入页面；同一语言下实体已有页面时改为更新标题和内容
func (s *PGStore) UpsertPage(ctx context.Context, page *model.WikipediaPage) error {
	ref := page.Ref()
	if ref == nil {
		return syncerr.WrongValue("wikipedia page %s:%s has no owner", page.Lang, page.Title)
	}

	taken, err := s.FindPage(ctx, page.Lang, page.Title)
	if err != nil {
		return err
	}
	if taken != nil && (taken.ContentKind != page.ContentKind || taken.ObjectID != page.ObjectID) {
		return syncerr.PageTaken(page.Lang, page.Title, string(taken.ContentKind), taken.ObjectID, page.ObjectID)
	}

	var existing model.WikipediaPage
	err = s.conn(ctx).
		Where("content_kind = ? AND object_id = ? AND lang = ?", page.ContentKind, page.ObjectID, page.Lang).
		Take(&existing).Error
	switch {
	case notFound(err):
		return s.conn(ctx).Create(page).Error
	case err != nil:
		return err
	}

	page.ID = existing.ID
	return s.conn(ctx).Model(&existing).Updates(map[string]any{
		"title":     page.Title,
		"content":   page.Content,
		"synced_at": page.SyncedAt,
	}).Error
}
