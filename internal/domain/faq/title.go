package faq

import (
	"strings"
	"unicode"

	"github.com/yanqian/faq-pipeline/pkg/util"
)

// deriveTitle turns a representative question into a FAQ title: whitespace
// is collapsed, trailing question marks are dropped and the result is cut
// at a word boundary so it fits maxLen runes.
func deriveTitle(text string, maxLen int) string {
	title := strings.TrimRightFunc(util.CollapseSpaces(text), func(r rune) bool {
		return r == '?' || r == '？' || unicode.IsSpace(r)
	})
	if maxLen <= 0 || len([]rune(title)) <= maxLen {
		return title
	}
	cut := util.TruncateRunes(title, maxLen)
	if idx := strings.LastIndex(cut, " "); idx > len(cut)/2 {
		cut = cut[:idx]
	}
	return strings.TrimRightFunc(cut, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}
