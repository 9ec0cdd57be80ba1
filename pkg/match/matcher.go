// Package match implements the keyword matching engine. Matching is a pure
// function of the article fields and the policy, with no I/O.
package match

import (
	"strings"
	"unicode"

	"github.com/umputun/paperscope/pkg/domain"
)

// Match evaluates the policy against the article's searchable fields.
// It returns the verdict and the set of keywords that matched anywhere across
// the selected fields, in policy order.
func Match(article *domain.Article, policy domain.KeywordPolicy) (bool, []string) {
	if len(policy.Keywords) == 0 {
		return false, nil
	}

	texts := make([]string, 0, len(policy.SearchFields))
	for _, field := range policy.SearchFields {
		switch field {
		case domain.FieldTitle:
			texts = append(texts, article.Title)
		case domain.FieldAbstract:
			texts = append(texts, article.Abstract)
		case domain.FieldKeywords:
			texts = append(texts, strings.Join(article.Keywords, " "))
		}
	}

	if !policy.CaseSensitive {
		for i := range texts {
			texts[i] = strings.ToLower(texts[i])
		}
	}

	var matched []string
	for _, keyword := range policy.Keywords {
		needle := keyword
		if !policy.CaseSensitive {
			needle = strings.ToLower(needle)
		}
		for _, text := range texts {
			if contains(text, needle, policy.WholeWord) {
				matched = append(matched, keyword)
				break
			}
		}
	}

	switch policy.Mode {
	case domain.MatchAll:
		return len(matched) == len(policy.Keywords), matched
	default: // MatchAny
		return len(matched) > 0, matched
	}
}

// contains reports whether needle occurs in text. With wholeWord the
// occurrence must be bounded by non-alphanumeric runes (or the text edges),
// so "cell" matches in "a solar cell device" but not inside "cellular".
func contains(text, needle string, wholeWord bool) bool {
	if needle == "" {
		return false
	}
	if !wholeWord {
		return strings.Contains(text, needle)
	}

	for start := 0; ; {
		idx := strings.Index(text[start:], needle)
		if idx < 0 {
			return false
		}
		idx += start
		if boundedAt(text, idx, len(needle)) {
			return true
		}
		start = idx + 1
	}
}

// boundedAt checks that the match at [idx, idx+length) does not butt up
// against alphanumeric runes on either side
func boundedAt(text string, idx, length int) bool {
	before := []rune(text[:idx])
	if len(before) > 0 && isWordRune(before[len(before)-1]) {
		return false
	}
	after := []rune(text[idx+length:])
	if len(after) > 0 && isWordRune(after[0]) {
		return false
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
