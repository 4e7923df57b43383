package content

import (
	"strings"
	"unicode/utf8"

	"github.com/xkilldash9x/metafill/internal/inference"
)

// SEOScore rates metadata out of 100: 20 for an English title over ten
// characters, 20 for an Arabic title over five, 30 for at least ten keywords,
// 20 for at most fifty, and 10 for a category. Keywords of both languages
// count together.
func SEOScore(md inference.Metadata) int {
	keywords := countKeywords(md.Keywords.En) + countKeywords(md.Keywords.Ar)

	score := 0
	if utf8.RuneCountInString(md.Titles.En) > 10 {
		score += 20
	}
	if utf8.RuneCountInString(md.Titles.Ar) > 5 {
		score += 20
	}
	if keywords >= 10 {
		score += 30
	}
	if keywords <= 50 {
		score += 20
	}
	if md.Category.En != "" || md.Category.Ar != "" {
		score += 10
	}
	return min(score, 100)
}

func countKeywords(kw []string) int {
	n := 0
	for _, k := range kw {
		if strings.TrimSpace(k) != "" {
			n++
		}
	}
	return n
}
