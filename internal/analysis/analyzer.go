// Package analysis defines the tokenizer contract shared by query
// decomposition and document matching.
//
// The same analyzer must be used at registration time and at match time:
// presearch compares decomposition terms against document tokens, so the two
// sides have to agree on token boundaries and normalization.
package analysis

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Analyzer splits field text into normalized tokens.
type Analyzer interface {
	// Analyze tokenizes the text of a single document field. An error marks
	// the field as unanalyzable; the matcher skips it and records a warning
	// rather than failing the whole document.
	Analyze(field, text string) ([]string, error)
}

// standard is the default analyzer: lowercased runs of letters and digits.
type standard struct {
	maxTokenLen int
}

// Standard returns the default analyzer. Tokens are maximal runs of unicode
// letters and digits, lowercased. Tokens longer than 255 bytes are dropped,
// matching the hard term-length limit of the underlying index.
func Standard() Analyzer {
	return &standard{maxTokenLen: 255}
}

// Analyze implements Analyzer.
func (a *standard) Analyze(field, text string) ([]string, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("field %q contains invalid UTF-8", field)
	}
	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 && current.Len() <= a.maxTokenLen {
			tokens = append(tokens, current.String())
		}
		current.Reset()
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current.WriteRune(unicode.ToLower(r))
		} else {
			flush()
		}
	}
	flush()
	return tokens, nil
}

// Whitespace returns an analyzer that splits on whitespace only and performs
// no normalization. Useful for pre-tokenized fields.
func Whitespace() Analyzer {
	return whitespace{}
}

type whitespace struct{}

// Analyze implements Analyzer.
func (whitespace) Analyze(field, text string) ([]string, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("field %q contains invalid UTF-8", field)
	}
	return strings.Fields(text), nil
}

// TokenSet converts a token slice to a set.
func TokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}
