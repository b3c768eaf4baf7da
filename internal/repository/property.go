package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/user/kinomerge/internal/model"
)

// joinTable 分类类型对应的多对多关联表与外键列
func joinTable(ptype model.PropertyType) (table, column string, err error) {
	switch ptype {
	case model.PropertyGenre:
		return "movie_genres", "genre_id", nil
	case model.PropertyCountry:
		return "movie_countries", "country_id", nil
	case model.PropertyLanguage:
		return "movie_languages", "language_id", nil
	}
	return "", "", fmt.Errorf("unknown property type: %q", ptype)
}

// FindPropertyIDs 按外部名称精确查找本地分类 ID，未登记的名称不出现在结果中
func (s *PGStore) FindPropertyIDs(ctx context.Context, source model.Source, ptype model.PropertyType, names []string) (map[string]uint, error) {
	result := make(map[string]uint, len(names))
	if len(names) == 0 {
		return result, nil
	}
	var rows []model.PropertyName
	err := s.conn(ctx).
		Where("source = ? AND type = ? AND name IN ?", source, ptype, names).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		result[row.Name] = row.PropertyID
	}
	return result, nil
}

// AddMovieProperties 追加电影分类，已有关联保持不变
func (s *PGStore) AddMovieProperties(ctx context.Context, movieID uint, ptype model.PropertyType, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	table, column, err := joinTable(ptype)
	if err != nil {
		return err
	}
	rows := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, map[string]any{"movie_id": movieID, column: id})
	}
	return s.conn(ctx).Table(table).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

// MoviePropertyIDs 电影当前的分类 ID
func (s *PGStore) MoviePropertyIDs(ctx context.Context, movieID uint, ptype model.PropertyType) ([]uint, error) {
	table, column, err := joinTable(ptype)
	if err != nil {
		return nil, err
	}
	var ids []uint
	err = s.conn(ctx).Table(table).Where("movie_id = ?", movieID).Order(column).Pluck(column, &ids).Error
	return ids, err
}
