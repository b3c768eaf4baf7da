package repository

import (
	"context"
	"fmt"

	"github.com/user/kinomerge/internal/model"
)

// Resolver 把某类引用解析为本地实体
type Resolver func(ctx context.Context, store Store, id uint) (model.Content, error)

// ContentRegistry ContentRef 到本地实体的显式解析表
type ContentRegistry struct {
	resolvers map[model.Kind]Resolver
}

// NewContentRegistry 注册电影和人物的解析器
func NewContentRegistry() *ContentRegistry {
	r := &ContentRegistry{resolvers: make(map[model.Kind]Resolver)}
	r.Register(model.KindMovie, func(ctx context.Context, store Store, id uint) (model.Content, error) {
		m, err := store.GetMovie(ctx, id)
		if err != nil || m == nil {
			return nil, err
		}
		return m, nil
	})
	r.Register(model.KindPerson, func(ctx context.Context, store Store, id uint) (model.Content, error) {
		p, err := store.GetPerson(ctx, id)
		if err != nil || p == nil {
			return nil, err
		}
		return p, nil
	})
	return r
}

// Register 登记或替换某类引用的解析器
func (r *ContentRegistry) Register(kind model.Kind, resolver Resolver) {
	r.resolvers[kind] = resolver
}

// Resolve 解析引用，实体不存在时返回 nil, nil
func (r *ContentRegistry) Resolve(ctx context.Context, store Store, ref model.ContentRef) (model.Content, error) {
	resolver, ok := r.resolvers[ref.Kind()]
	if !ok {
		return nil, fmt.Errorf("no resolver registered for %s", ref.Kind())
	}
	return resolver(ctx, store, ref.LocalID())
}
