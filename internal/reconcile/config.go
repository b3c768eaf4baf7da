// Package reconcile 外部记录与本地实体的匹配、合并和演职员关联
package reconcile

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/user/kinomerge/internal/config"
	"github.com/user/kinomerge/internal/model"
	"github.com/user/kinomerge/internal/repository"
)

// 可合并的字段名
const (
	FieldTitle         = "title"
	FieldTitleEn       = "title_en"
	FieldTitleOriginal = "title_original"
	FieldYear          = "year"
	FieldRuntime       = "runtime"
	FieldAkas          = "akas"
	FieldName          = "name"
	FieldNameEn        = "name_en"
	FieldGender        = "gender"
	FieldDateBirth     = "date_birth"
	FieldDateDeath     = "date_death"
)

// Config 匹配引擎的全部可调参数，构造时传入，运行期间只读
type Config struct {
	// RoleIDs 本地职务代码 -> roles 表 ID
	RoleIDs map[string]uint
	// Vocabularies 数据源职务词汇（小写） -> 本地职务代码
	Vocabularies map[model.Source]map[string]string
	// AuthorNote 编剧备注命中时改判为原著作者
	AuthorNote *regexp.Regexp
	// ExcludedKinds 建档模式下不创建的作品类型（小写）
	ExcludedKinds map[string]bool
	// Authoritative 各数据源可以覆盖本地非空值的字段
	Authoritative map[model.Source]map[string]bool

	MaxRelationAnchors int
	AnchorConcurrency  int
}

// DefaultVocabularies IMDb 页面和 Kinopoisk API 的职务词汇
func DefaultVocabularies() map[model.Source]map[string]string {
	return map[model.Source]map[string]string{
		model.SourceIMDb: {
			"actor":               model.RoleActor,
			"actress":             model.RoleActor,
			"director":            model.RoleDirector,
			"writer":              model.RoleScenarist,
			"producer":            model.RoleProducer,
			"cinematographer":     model.RoleOperator,
			"editor":              model.RoleEditor,
			"composer":            model.RoleComposer,
			"production_designer": model.RoleDesigner,
		},
		model.SourceKinopoisk: {
			"actor":    model.RoleActor,
			"director": model.RoleDirector,
			"writer":   model.RoleScenarist,
			"producer": model.RoleProducer,
			"operator": model.RoleOperator,
			"editor":   model.RoleEditor,
			"composer": model.RoleComposer,
			"design":   model.RoleDesigner,
		},
	}
}

// DefaultConfig 默认配置，RoleIDs 为空，需要 LoadRoles
func DefaultConfig() Config {
	return Config{
		Vocabularies: DefaultVocabularies(),
		AuthorNote:   regexp.MustCompile(`(?i)story|novel`),
		ExcludedKinds: map[string]bool{
			"tv series": true, "tv mini series": true, "video game": true,
			"tv_series": true, "mini_series": true, "tv_show": true,
		},
		Authoritative: map[model.Source]map[string]bool{
			model.SourceIMDb:      {FieldTitleEn: true, FieldNameEn: true},
			model.SourceKinopoisk: {FieldTitle: true, FieldName: true},
		},
		MaxRelationAnchors: 5,
		AnchorConcurrency:  3,
	}
}

// NewConfig 由应用配置生成
func NewConfig(cfg config.ReconcileConfig) (Config, error) {
	c := DefaultConfig()
	if cfg.AuthorNotePattern != "" {
		re, err := regexp.Compile(cfg.AuthorNotePattern)
		if err != nil {
			return c, fmt.Errorf("invalid author note pattern: %w", err)
		}
		c.AuthorNote = re
	}
	if len(cfg.ExcludedKinds) > 0 {
		c.ExcludedKinds = make(map[string]bool, len(cfg.ExcludedKinds))
		for _, kind := range cfg.ExcludedKinds {
			c.ExcludedKinds[strings.ToLower(strings.TrimSpace(kind))] = true
		}
	}
	if cfg.MaxRelationAnchors > 0 {
		c.MaxRelationAnchors = cfg.MaxRelationAnchors
	}
	if cfg.AnchorConcurrency > 0 {
		c.AnchorConcurrency = cfg.AnchorConcurrency
	}
	return c, nil
}

// LoadRoles 从 roles 表读取职务 ID
func (c *Config) LoadRoles(ctx context.Context, store repository.Store) error {
	c.RoleIDs = make(map[string]uint, len(model.RoleCodes))
	for _, code := range model.RoleCodes {
		role, err := store.RoleByCode(ctx, code)
		if err != nil {
			return fmt.Errorf("load role %s: %w", code, err)
		}
		if role == nil {
			return fmt.Errorf("role %s is missing, run migrations first", code)
		}
		c.RoleIDs[code] = role.ID
	}
	return nil
}

// RoleCode 翻译数据源职务，未知职务返回 false
func (c *Config) RoleCode(source model.Source, role string) (string, bool) {
	code, ok := c.Vocabularies[source][strings.ToLower(strings.TrimSpace(role))]
	return code, ok
}

// Excluded 作品类型是否在建档排除列表中
func (c *Config) Excluded(kind string) bool {
	return c.ExcludedKinds[strings.ToLower(strings.TrimSpace(kind))]
}

// IsAuthoritative 数据源对该字段是否有覆盖权
func (c *Config) IsAuthoritative(source model.Source, field string) bool {
	return c.Authoritative[source][field]
}
