package utils

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var (
	reIMDbID    = regexp.MustCompile(`(tt|nm)(\d{5,})`)
	reIMDbImage = regexp.MustCompile(`(MV5B[^./]+)`)
	reYear      = regexp.MustCompile(`\b(18|19|20)\d{2}\b`)
	reQuotes    = strings.NewReplacer("«", "", "»", "", "“", "", "”", "", "\"", "", "’", "'", "‘", "'", "–", "-", "—", "-", "ё", "е", "Ё", "Е")
)

// NormalizeTitle 标题比较前的规整：小写、去引号、统一破折号、合并空白、去掉结尾标点
func NormalizeTitle(title string) string {
	title = reQuotes.Replace(title)
	title = strings.ToLower(title)
	title = strings.Join(strings.Fields(title), " ")
	return strings.TrimRightFunc(title, func(r rune) bool {
		return unicode.IsPunct(r) && r != ')' && r != '!' && r != '?'
	})
}

// NormalizeName 人名比较前的规整，额外去掉缩写里的点
func NormalizeName(name string) string {
	name = strings.ReplaceAll(name, ".", " ")
	return NormalizeTitle(name)
}

// ParseIMDbID 从 tt0111161、nm0000454 或包含它们的 URL 中解析数字 ID
func ParseIMDbID(s string) (prefix string, id int64, err error) {
	match := reIMDbID.FindStringSubmatch(s)
	if len(match) < 3 {
		return "", 0, fmt.Errorf("无效的 IMDb ID: %q", s)
	}
	id, err = strconv.ParseInt(match[2], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("无效的 IMDb ID: %q", s)
	}
	return match[1], id, nil
}

// FormatIMDbID 生成 IMDb 标识，例如 ("tt", 111161) -> tt0111161
func FormatIMDbID(prefix string, id int64) string {
	return fmt.Sprintf("%s%07d", prefix, id)
}

// ParseYear 取文本中第一个年份，找不到返回 0
func ParseYear(s string) int {
	match := reYear.FindString(s)
	if match == "" {
		return 0
	}
	year, _ := strconv.Atoi(match)
	return year
}

// IMDbImageKey IMDb 图片 URL 中的 MV5B 标识
func IMDbImageKey(url string) string {
	return reIMDbImage.FindString(url)
}

// FileImageKey 以 URL 文件名（不含扩展名）作为标识
func FileImageKey(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	base := path.Base(url)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}
