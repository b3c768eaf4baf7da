package model

import "fmt"

// Source 外部数据源
type Source string

const (
	SourceIMDb      Source = "imdb"
	SourceKinopoisk Source = "kinopoisk"
	SourceWikipedia Source = "wikipedia"
)

// Lang 数据源的主要语言，用于决定写入哪个多语言字段
func (s Source) Lang() string {
	switch s {
	case SourceKinopoisk:
		return "ru"
	default:
		return "en"
	}
}

// Valid 是否为已知数据源
func (s Source) Valid() bool {
	switch s {
	case SourceIMDb, SourceKinopoisk, SourceWikipedia:
		return true
	}
	return false
}

// ParseSource 解析数据源名称
func ParseSource(s string) (Source, error) {
	src := Source(s)
	if !src.Valid() {
		return "", fmt.Errorf("unknown source: %q", s)
	}
	return src, nil
}

// Kind 本地实体类型
type Kind string

const (
	KindMovie  Kind = "movie"
	KindPerson Kind = "person"
)

// ParseKind 解析实体类型
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindMovie, KindPerson:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown kind: %q", s)
}

// Stage 同步阶段
type Stage string

const (
	StageDetails Stage = "details"
	StageCast    Stage = "cast"
	StageImages  Stage = "images"
	StageLinks   Stage = "links"
)

// AllStages 默认的同步顺序
var AllStages = []Stage{StageDetails, StageCast, StageImages, StageLinks}

// ParseStage 解析同步阶段
func ParseStage(s string) (Stage, error) {
	switch Stage(s) {
	case StageDetails, StageCast, StageImages, StageLinks:
		return Stage(s), nil
	}
	return "", fmt.Errorf("unknown stage: %q", s)
}

// PropertyType 分类属性类型
type PropertyType string

const (
	PropertyGenre    PropertyType = "genre"
	PropertyCountry  PropertyType = "country"
	PropertyLanguage PropertyType = "language"
)
