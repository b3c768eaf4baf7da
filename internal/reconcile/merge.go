package reconcile

import (
	"strings"
	"time"

	"github.com/user/kinomerge/internal/model"
	"github.com/user/kinomerge/internal/provider"
)

// mergeString 本地为空时写入；数据源有覆盖权时以远端为准
func mergeString(changed []string, field string, dst *string, value string, authoritative bool) []string {
	value = strings.TrimSpace(value)
	if value == "" || *dst == value {
		return changed
	}
	if *dst == "" || authoritative {
		*dst = value
		return append(changed, field)
	}
	return changed
}

func mergeInt(changed []string, field string, dst *int, value int, authoritative bool) []string {
	if value == 0 || *dst == value {
		return changed
	}
	if *dst == 0 || authoritative {
		*dst = value
		return append(changed, field)
	}
	return changed
}

func mergeDate(changed []string, field string, dst **time.Time, value *time.Time) []string {
	if value == nil || *dst != nil {
		return changed
	}
	v := *value
	*dst = &v
	return append(changed, field)
}

// titleField 数据源标题写入的本地字段
func titleField(source model.Source) string {
	if source.Lang() == "en" {
		return FieldTitleEn
	}
	return FieldTitle
}

// MergeMovie 把远端详情合并到本地电影，返回发生变化的字段
// 分类字段不在这里处理，由 AddMovieProperties 求并集
func MergeMovie(local *model.Movie, remote *provider.Movie, source model.Source, cfg *Config) []string {
	var changed []string

	field := titleField(source)
	dst := &local.Title
	if field == FieldTitleEn {
		dst = &local.TitleEn
	}
	changed = mergeString(changed, field, dst, remote.Title, cfg.IsAuthoritative(source, field))
	changed = mergeString(changed, FieldTitleOriginal, &local.TitleOriginal, remote.TitleOriginal,
		cfg.IsAuthoritative(source, FieldTitleOriginal))
	changed = mergeInt(changed, FieldYear, &local.Year, remote.Year, cfg.IsAuthoritative(source, FieldYear))
	changed = mergeInt(changed, FieldRuntime, &local.Runtime, remote.Runtime, cfg.IsAuthoritative(source, FieldRuntime))

	known := make(map[string]bool)
	for _, t := range local.Titles() {
		known[t] = true
	}
	added := false
	for _, aka := range remote.Akas {
		aka = strings.TrimSpace(aka)
		if aka == "" || known[aka] {
			continue
		}
		known[aka] = true
		local.Akas = append(local.Akas, aka)
		added = true
	}
	if added {
		changed = append(changed, FieldAkas)
	}
	return changed
}

// SplitName 最后一个词作为姓，其余作为名
func SplitName(full string) (first, last string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return "", parts[0]
	}
	return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
}

// mergeName 名和姓作为整体比较
func mergeName(changed []string, field string, first, last *string, full string, authoritative bool) []string {
	full = strings.Join(strings.Fields(full), " ")
	if full == "" {
		return changed
	}
	current := strings.TrimSpace(*first + " " + *last)
	if current == full {
		return changed
	}
	if current == "" || authoritative {
		*first, *last = SplitName(full)
		return append(changed, field)
	}
	return changed
}

// MergePerson 把远端详情合并到本地人物，返回发生变化的字段
func MergePerson(local *model.Person, remote *provider.Person, source model.Source, cfg *Config) []string {
	var changed []string
	changed = mergeName(changed, FieldName, &local.FirstName, &local.LastName, remote.Name,
		cfg.IsAuthoritative(source, FieldName))
	changed = mergeName(changed, FieldNameEn, &local.FirstNameEn, &local.LastNameEn, remote.NameEn,
		cfg.IsAuthoritative(source, FieldNameEn))
	changed = mergeString(changed, FieldGender, &local.Gender, remote.Gender, cfg.IsAuthoritative(source, FieldGender))
	changed = mergeDate(changed, FieldDateBirth, &local.DateBirth, remote.DateBirth)
	changed = mergeDate(changed, FieldDateDeath, &local.DateDeath, remote.DateDeath)
	return changed
}

// MovieIdentity 外部身份的评分字段，总是以远端为准
func MovieIdentity(remote *provider.Movie, at time.Time) *model.ExternalIdentity {
	return &model.ExternalIdentity{
		ID:       remote.ID,
		Rating:   remote.Rating,
		Votes:    remote.Votes,
		Info:     remote.Synopsis,
		SyncedAt: &at,
	}
}

// PersonIdentity 人物的外部身份
func PersonIdentity(remote *provider.Person, at time.Time) *model.ExternalIdentity {
	return &model.ExternalIdentity{
		ID:       remote.ID,
		Info:     remote.Info,
		SyncedAt: &at,
	}
}

// NewMovieFromRef 按列表记录建档
func NewMovieFromRef(ref provider.MovieRef, source model.Source) *model.Movie {
	m := &model.Movie{TitleOriginal: ref.TitleOriginal, Year: ref.Year}
	if source.Lang() == "en" {
		m.TitleEn = ref.Title
	} else {
		m.Title = ref.Title
	}
	return m
}

// NewPersonFromRef 按列表记录建档
func NewPersonFromRef(ref provider.PersonRef) *model.Person {
	p := &model.Person{}
	p.FirstName, p.LastName = SplitName(ref.Name)
	p.FirstNameEn, p.LastNameEn = SplitName(ref.NameEn)
	return p
}
