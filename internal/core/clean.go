package core

// clean.go provides the text filters applied to CSV values before they are
// stored or matched against the LMS catalog.
//
//   - CleanText: plain text, HTML tags removed (used for headers and most cells)
//   - CleanTag:  tag-safe token used for group identifiers

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TagMaxLength is the maximum rune length of a cleaned group token.
const TagMaxLength = 50

var (
	htmlTagRegex    = regexp.MustCompile(`<[^<>]*>`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// CleanText strips markup and control characters from a plain text value.
// Tabs and line breaks are kept.
func CleanText(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = htmlTagRegex.ReplaceAllString(s, "")
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case r == '<' || r == '>':
			return -1
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
}

// CleanTag reduces s to a tag-safe token: control characters and the
// characters < > ` are dropped, whitespace runs collapse to one space, and
// the result is trimmed and capped at TagMaxLength runes.
func CleanTag(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '<' || r == '>' || r == '`' {
			return -1
		}
		return r
	}, s)
	s = whitespaceRegex.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > TagMaxLength {
		s = string([]rune(s)[:TagMaxLength])
	}
	return s
}
