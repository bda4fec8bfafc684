// Package profanity classifies text against a fixed lexicon of disallowed words.
//
// Matching is a case-insensitive substring test, so a lexicon entry embedded in
// a longer harmless word ("damn" in "damnation") is reported too. That
// imprecision is accepted.
package profanity

import "strings"

// DefaultLexicon is the fixed list of disallowed words.
var DefaultLexicon = []string{
	"fuck", "shit", "bitch", "asshole", "damn", "cunt", "nigger", "faggot",
}

// Filter holds a lower-cased lexicon.
type Filter struct {
	lexicon []string
}

// NewFilter creates a Filter for lexicon. Empty entries are ignored.
func NewFilter(lexicon []string) *Filter {
	words := make([]string, 0, len(lexicon))

	for _, word := range lexicon {
		word = strings.ToLower(strings.TrimSpace(word))
		if word != "" {
			words = append(words, word)
		}
	}

	return &Filter{lexicon: words}
}

// NewDefaultFilter creates a Filter over DefaultLexicon.
func NewDefaultFilter() *Filter {
	return NewFilter(DefaultLexicon)
}

// ContainsDisallowedLanguage reports whether any lexicon entry occurs in text.
func (f *Filter) ContainsDisallowedLanguage(text string) bool {
	lowered := strings.ToLower(text)

	for _, word := range f.lexicon {
		if strings.Contains(lowered, word) {
			return true
		}
	}

	return false
}
