package repository

import (
	"context"
	"strings"

	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/user/kinomerge/internal/model"
)

func preloadTaxonomies(db *gorm.DB) *gorm.DB {
	return db.Preload("Genres").Preload("Countries").Preload("Languages")
}

// GetMovie 根据 ID 获取电影，包含分类
func (s *PGStore) GetMovie(ctx context.Context, id uint) (*model.Movie, error) {
	var movie model.Movie
	err := preloadTaxonomies(s.conn(ctx)).Where("id = ?", id).Take(&movie).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &movie, nil
}

// GetPerson 根据 ID 获取人物
func (s *PGStore) GetPerson(ctx context.Context, id uint) (*model.Person, error) {
	var person model.Person
	err := s.conn(ctx).Where("id = ?", id).Take(&person).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &person, nil
}

// FindMoviesByTitle 按任一标题（忽略大小写）和年份查找，year 为 0 时不限年份
func (s *PGStore) FindMoviesByTitle(ctx context.Context, titles []string, year int) ([]model.Movie, error) {
	if len(titles) == 0 {
		return nil, nil
	}
	lowered := make([]string, len(titles))
	for i, t := range titles {
		lowered[i] = strings.ToLower(t)
	}

	q := s.conn(ctx).
		Where("lower(title) IN ? OR lower(title_en) IN ? OR lower(title_original) IN ? OR akas && ?",
			lowered, lowered, lowered, pq.StringArray(titles))
	if year > 0 {
		q = q.Where("year = ?", year)
	}
	var movies []model.Movie
	err := q.Order("id").Find(&movies).Error
	return movies, err
}

// FindPersonsByName 按本地或英文全名查找（忽略大小写）
func (s *PGStore) FindPersonsByName(ctx context.Context, names []string) ([]model.Person, error) {
	if len(names) == 0 {
		return nil, nil
	}
	lowered := make([]string, len(names))
	for i, n := range names {
		lowered[i] = strings.ToLower(strings.TrimSpace(n))
	}
	var persons []model.Person
	err := s.conn(ctx).
		Where("lower(trim(first_name || ' ' || last_name)) IN ? OR lower(trim(first_name_en || ' ' || last_name_en)) IN ?",
			lowered, lowered).
		Order("id").
		Find(&persons).Error
	return persons, err
}

// CreateMovie 新建电影，分类通过 AddMovieProperties 单独写入
func (s *PGStore) CreateMovie(ctx context.Context, m *model.Movie) error {
	return s.conn(ctx).Omit(clause.Associations).Create(m).Error
}

// CreatePerson 新建人物
func (s *PGStore) CreatePerson(ctx context.Context, p *model.Person) error {
	return s.conn(ctx).Create(p).Error
}

// SaveMovie 保存电影标量字段
func (s *PGStore) SaveMovie(ctx context.Context, m *model.Movie) error {
	return s.conn(ctx).Omit(clause.Associations).Save(m).Error
}

// SavePerson 保存人物
func (s *PGStore) SavePerson(ctx context.Context, p *model.Person) error {
	return s.conn(ctx).Save(p).Error
}
