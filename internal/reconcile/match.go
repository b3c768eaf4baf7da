package reconcile

import "github.com/user/kinomerge/internal/utils"

type keySet map[string]struct{}

func titleKeys(titles []string) keySet {
	keys := make(keySet, len(titles))
	for _, t := range titles {
		if k := utils.NormalizeTitle(t); k != "" {
			keys[k] = struct{}{}
		}
	}
	return keys
}

func nameKeys(names []string) keySet {
	keys := make(keySet, len(names))
	for _, n := range names {
		if k := utils.NormalizeName(n); k != "" {
			keys[k] = struct{}{}
		}
	}
	return keys
}

func (k keySet) matchesTitle(titles []string) bool {
	for _, t := range titles {
		if _, ok := k[utils.NormalizeTitle(t)]; ok {
			return true
		}
	}
	return false
}

func (k keySet) matchesName(names []string) bool {
	for _, n := range names {
		if _, ok := k[utils.NormalizeName(n)]; ok {
			return true
		}
	}
	return false
}

// yearMatches 任一侧没有年份时不比较
func yearMatches(a, b int) bool {
	return a == 0 || b == 0 || a == b
}

// distinct 保持顺序去重
func distinct[T comparable](values []T) []T {
	seen := make(map[T]bool, len(values))
	out := values[:0:0]
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
