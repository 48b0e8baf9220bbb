package core

// normalize.go turns the raw main-group and other-groups cells of a row into
// the ordered list of group identifiers used for matching.
//
// Group transform patterns are written in delimited PCRE form
// ("/pattern/flags") and replacements use \N or $N back-references, the
// format administrators have always entered in the plugin settings.
// github.com/dlclark/regexp2 is used because the stdlib regexp package does
// not support the backtracking constructs such patterns commonly contain.

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// ErrInvalidPattern is returned for group transform patterns that cannot be compiled.
var ErrInvalidPattern = errors.New("invalid group transform pattern")

// GroupTransformTimeout bounds a single transform match.
var GroupTransformTimeout = 500 * time.Millisecond

// GroupTransform is a compiled pattern/replacement pair.
type GroupTransform struct {
	re          *regexp2.Regexp
	replacement string
}

// CompileGroupTransform compiles a delimited pattern. An empty pattern yields
// a nil transform, which leaves tokens unchanged.
func CompileGroupTransform(pattern, replacement string) (*GroupTransform, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, nil
	}

	expr, opts, err := parseDelimitedPattern(pattern)
	if err != nil {
		return nil, err
	}

	re, err := regexp2.Compile(expr, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}
	re.MatchTimeout = GroupTransformTimeout

	return &GroupTransform{re: re, replacement: replacement}, nil
}

// Apply replaces every match in s.
func (t *GroupTransform) Apply(s string) (string, error) {
	if t == nil {
		return s, nil
	}
	return t.re.ReplaceFunc(s, func(m regexp2.Match) string {
		return expandReplacement(t.replacement, &m)
	}, -1, -1)
}

// Normalize combines mainGroup and the comma separated otherGroups into an
// ordered token list. Tokens are never dropped or deduplicated. When the
// pattern is set each token is rewritten once with the replacement.
func Normalize(mainGroup, otherGroups, pattern, replacement string) ([]string, error) {
	t, err := CompileGroupTransform(pattern, replacement)
	if err != nil {
		return nil, err
	}
	return NormalizeWith(mainGroup, otherGroups, t)
}

// NormalizeWith is Normalize with a precompiled transform. The returned list
// is always complete; a transform failure keeps the cleaned token and is
// reported through the error.
func NormalizeWith(mainGroup, otherGroups string, t *GroupTransform) ([]string, error) {
	var raw []string
	if mainGroup != "" {
		raw = append(raw, mainGroup)
	}
	if otherGroups != "" {
		raw = append(raw, strings.Split(otherGroups, ",")...)
	}

	var firstErr error
	groups := make([]string, 0, len(raw))
	for _, token := range raw {
		token = strings.TrimSpace(token)
		token = strings.Trim(token, "[]")
		token = CleanTag(token)

		out, err := t.Apply(token)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("transform group %q: %w", token, err)
			}
			out = token
		}
		groups = append(groups, out)
	}

	return groups, firstErr
}

// parseDelimitedPattern splits "/expr/flags" into the expression and options.
func parseDelimitedPattern(pattern string) (string, regexp2.RegexOptions, error) {
	pattern = strings.TrimLeft(pattern, " \t\r\n")
	if len(pattern) < 2 {
		return "", 0, fmt.Errorf("%w: %q is too short", ErrInvalidPattern, pattern)
	}

	open := pattern[0]
	if isAlnum(open) || open == '\\' {
		return "", 0, fmt.Errorf("%w: delimiter must not be alphanumeric or backslash", ErrInvalidPattern)
	}

	closing := open
	switch open {
	case '(':
		closing = ')'
	case '[':
		closing = ']'
	case '{':
		closing = '}'
	case '<':
		closing = '>'
	}

	end := strings.LastIndexByte(pattern, closing)
	if end <= 0 {
		return "", 0, fmt.Errorf("%w: no ending delimiter %q", ErrInvalidPattern, string(closing))
	}

	expr := pattern[1:end]
	var opts regexp2.RegexOptions
	for _, f := range strings.TrimRight(pattern[end+1:], " \t\r\n") {
		switch f {
		case 'i':
			opts |= regexp2.IgnoreCase
		case 'm':
			opts |= regexp2.Multiline
		case 's':
			opts |= regexp2.Singleline
		case 'x':
			opts |= regexp2.IgnorePatternWhitespace
		case 'u', 'D':
			// UTF-8 subjects and strict $ are the regexp2 defaults for our inputs.
		default:
			return "", 0, fmt.Errorf("%w: unsupported modifier %q", ErrInvalidPattern, string(f))
		}
	}

	return expr, opts, nil
}

// expandReplacement substitutes \N, $N and ${N} references. References to
// groups that do not exist or did not participate expand to "".
func expandReplacement(repl string, m *regexp2.Match) string {
	var b strings.Builder
	for i := 0; i < len(repl); i++ {
		c := repl[i]
		if (c == '\\' || c == '$') && i+1 < len(repl) {
			j := i + 1
			braced := c == '$' && repl[j] == '{'
			if braced {
				j++
			}
			start := j
			for j < len(repl) && j-start < 2 && isDigit(repl[j]) {
				j++
			}
			if j > start && (!braced || (j < len(repl) && repl[j] == '}')) {
				n := atoiDigits(repl[start:j])
				b.WriteString(groupText(m, n))
				if braced {
					j++
				}
				i = j - 1
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func groupText(m *regexp2.Match, n int) string {
	g := m.GroupByNumber(n)
	if g == nil || len(g.Captures) == 0 {
		return ""
	}
	return g.String()
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isAlnum(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func atoiDigits(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		n = n*10 + int(s[i]-'0')
	}
	return n
}
