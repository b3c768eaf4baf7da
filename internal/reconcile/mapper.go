package reconcile

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/user/kinomerge/internal/model"
	"github.com/user/kinomerge/internal/repository"
	"github.com/user/kinomerge/internal/utils"
)

const propertyCacheTTL = 10 * time.Minute

// PropertyMapper 把数据源的分类名称映射为本地分类 ID
type PropertyMapper struct {
	cache *utils.TTLCache[uint]
	log   *zap.Logger
}

// NewPropertyMapper 创建映射器
func NewPropertyMapper(log *zap.Logger) *PropertyMapper {
	return &PropertyMapper{
		cache: utils.NewTTLCache[uint](propertyCacheTTL),
		log:   log,
	}
}

func propertyCacheKey(source model.Source, ptype model.PropertyType, name string) string {
	return string(source) + "|" + string(ptype) + "|" + name
}

// MapPropertyNames 按名称精确匹配（区分大小写），返回去重后的 ID，顺序与输入一致
// 未映射的名称只记录警告，返回部分结果
func (m *PropertyMapper) MapPropertyNames(ctx context.Context, store repository.Store, source model.Source, ptype model.PropertyType, names []string) ([]uint, error) {
	unique := make([]string, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		unique = append(unique, name)
	}
	if len(unique) == 0 {
		return nil, nil
	}

	resolved := make(map[string]uint, len(unique))
	var missing []string
	for _, name := range unique {
		if id, ok := m.cache.Get(propertyCacheKey(source, ptype, name)); ok {
			resolved[name] = id
			continue
		}
		missing = append(missing, name)
	}

	if len(missing) > 0 {
		found, err := store.FindPropertyIDs(ctx, source, ptype, missing)
		if err != nil {
			return nil, err
		}
		for name, id := range found {
			resolved[name] = id
			m.cache.Set(propertyCacheKey(source, ptype, name), id)
		}
	}

	ids := make([]uint, 0, len(unique))
	idSeen := make(map[uint]bool, len(unique))
	var unmapped []string
	for _, name := range unique {
		id, ok := resolved[name]
		if !ok {
			unmapped = append(unmapped, name)
			continue
		}
		if !idSeen[id] {
			idSeen[id] = true
			ids = append(ids, id)
		}
	}

	if len(unmapped) > 0 {
		m.log.Warn("[Mapper] 存在未映射的分类名称，需要人工补充",
			zap.String("source", string(source)),
			zap.String("type", string(ptype)),
			zap.String("names", strings.Join(unmapped, ", ")))
	}
	return ids, nil
}
