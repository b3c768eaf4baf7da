package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// PGStore 基于 gorm/postgres 的 Store 实现
type PGStore struct {
	db *gorm.DB
}

// NewPGStore 创建 PGStore
func NewPGStore(db *gorm.DB) *PGStore {
	return &PGStore{db: db}
}

var _ Store = (*PGStore)(nil)

func (s *PGStore) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// Transaction 嵌套调用时 gorm 使用 SAVEPOINT
func (s *PGStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&PGStore{db: tx})
	})
}

// LockEntity 在当前事务中获取 pg_advisory_xact_lock
func (s *PGStore) LockEntity(ctx context.Context, key string) error {
	return s.conn(ctx).Exec("SELECT pg_advisory_xact_lock(hashtext(?))", key).Error
}

// notFound gorm 的未找到错误转换为 nil
func notFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
