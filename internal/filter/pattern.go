package filter

import (
	"errors"
	"fmt"
	"regexp"
	"regexp/syntax"
	"strings"
)

// ErrNestedQuantifier marks patterns with catastrophic-backtracking shape.
// Errors returned by ValidatePattern wrap it when that is the reason.
var ErrNestedQuantifier = errors.New("nested quantifiers are not allowed")

// ValidatePattern decides whether a user-supplied pattern is a safe,
// boundable regular expression. It rejects empty input, syntax errors, and
// any nested quantifier: a quantified group whose contents are themselves
// quantified or contain an alternation, e.g. (a+)+, (a*)*, (a|b)+ and
// their non-capturing variants. Detection walks the parsed pattern tree,
// so arbitrarily deep nesting is caught.
//
// Storage of a rule goes through this check; the engine applies it again
// at evaluation time and skips rules that somehow fail.
func ValidatePattern(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return errors.New("pattern must not be empty")
	}

	re, err := syntax.Parse(normalizePossessive(pattern), syntax.Perl)
	if err != nil {
		return fmt.Errorf("not a valid regular expression: %w", err)
	}
	if hasNestedQuantifier(re) {
		return ErrNestedQuantifier
	}
	return nil
}

// CompilePattern builds the case-insensitive matcher used at evaluation
// time, applying the same possessive-quantifier normalization as
// ValidatePattern so both sides agree on what compiles.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + normalizePossessive(pattern))
}

// normalizePossessive rewrites PCRE possessive quantifiers (a++, a*+, a?+,
// a{2,3}+) to their greedy forms. RE2 never backtracks, so the two are
// equivalent here, and it keeps patterns like "C++" working the way they
// did under the original engine instead of failing to parse.
func normalizePossessive(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern))

	escaped := false
	inClass := false
	inRepeat := false   // inside a {m,n} counted repeat
	afterQuant := false // previous char closed a quantifier

	for _, r := range pattern {
		if escaped {
			escaped = false
			afterQuant = false
			b.WriteRune(r)
			continue
		}
		switch {
		case r == '\\':
			escaped = true
			afterQuant = false
			b.WriteRune(r)
		case inClass:
			if r == ']' {
				inClass = false
			}
			b.WriteRune(r)
		case r == '[':
			inClass = true
			afterQuant = false
			b.WriteRune(r)
		case inRepeat:
			if r == '}' {
				inRepeat = false
				afterQuant = true
			}
			b.WriteRune(r)
		case r == '{':
			inRepeat = true
			afterQuant = false
			b.WriteRune(r)
		case r == '+' && afterQuant:
			// possessive marker: drop it, the quantifier stands alone
		case r == '+' || r == '*' || r == '?':
			afterQuant = true
			b.WriteRune(r)
		default:
			afterQuant = false
			b.WriteRune(r)
		}
	}
	return b.String()
}

func hasNestedQuantifier(re *syntax.Regexp) bool {
	if isQuantifier(re.Op) {
		for _, sub := range re.Sub {
			if containsQuantifierOrAlternation(sub) {
				return true
			}
		}
	}
	for _, sub := range re.Sub {
		if hasNestedQuantifier(sub) {
			return true
		}
	}
	return false
}

func containsQuantifierOrAlternation(re *syntax.Regexp) bool {
	if isQuantifier(re.Op) || re.Op == syntax.OpAlternate {
		return true
	}
	for _, sub := range re.Sub {
		if containsQuantifierOrAlternation(sub) {
			return true
		}
	}
	return false
}

func isQuantifier(op syntax.Op) bool {
	switch op {
	case syntax.OpStar, syntax.OpPlus, syntax.OpQuest, syntax.OpRepeat:
		return true
	}
	return false
}
