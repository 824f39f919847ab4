package scoring

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const minTokenLen = 3

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

var stopwords = map[string]struct{}{
	"the":  {},
	"and":  {},
	"for":  {},
	"from": {},
	"with": {},
	"via":  {},
	"per":  {},
	"ref":  {},
}

// words returns the lowercase letter and digit runs of s with at least
// minTokenLen characters, in order of appearance. Accented letters stay
// part of the word.
func words(s string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(s), -1)
	out := raw[:0]
	for _, tok := range raw {
		if utf8.RuneCountInString(tok) >= minTokenLen {
			out = append(out, tok)
		}
	}
	return out
}

type tokenSet map[string]struct{}

func wordSet(parts ...string) tokenSet {
	set := tokenSet{}
	for _, part := range parts {
		for _, tok := range words(part) {
			set[tok] = struct{}{}
		}
	}
	return set
}

// keywordSet is wordSet minus stopwords.
func keywordSet(parts ...string) tokenSet {
	set := wordSet(parts...)
	for tok := range set {
		if _, stop := stopwords[tok]; stop {
			delete(set, tok)
		}
	}
	return set
}

func (s tokenSet) has(tok string) bool {
	_, ok := s[tok]
	return ok
}

func (s tokenSet) overlap(other tokenSet) int {
	n := 0
	for tok := range s {
		if other.has(tok) {
			n++
		}
	}
	return n
}

// sameName compares two reference names ignoring case and surrounding space.
func sameName(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}

func containsName(list []string, name string) bool {
	for _, item := range list {
		if sameName(item, name) {
			return true
		}
	}
	return false
}
