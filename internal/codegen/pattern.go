// Package codegen generates unique coupon codes from a pattern string.
// It is pure and stateless aside from its use of a cryptographically
// secure random source: given a pattern and a count, it returns that many
// distinct codes or fails. Predictable codes are a correctness bug in
// this domain (they let an attacker guess unissued coupons), so every
// placeholder draw goes through crypto/rand, never math/rand.
package codegen

import (
	"fmt"
	"strings"
)

// alphabet identifies which character set a placeholder draws from.
type alphabet int

const (
	alphaLetters alphabet = iota
	alphaDigits
	alphaAlnum
)

const (
	lettersCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitsCharset  = "0123456789"
	alnumCharset   = lettersCharset + digitsCharset
)

func (a alphabet) charset() string {
	switch a {
	case alphaLetters:
		return lettersCharset
	case alphaDigits:
		return digitsCharset
	default:
		return alnumCharset
	}
}

// token is one piece of a compiled pattern: either a literal run of
// characters or a placeholder expanding to `length` random characters
// drawn from `alpha`.
type token struct {
	literal string
	alpha   alphabet
	length  int
	isLit   bool
}

// Pattern is a compiled code template, produced by Parse.
type Pattern struct {
	raw    string
	tokens []token
}

// isLiteralChar reports whether r is in the allowed literal alphabet
// outside placeholders: A-Z, 0-9, '-', '_'.
func isLiteralChar(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_':
		return true
	default:
		return false
	}
}

// Parse compiles a pattern string. The grammar is literal characters in
// [A-Z0-9_-] plus placeholder tokens `{X+}`, `{9+}`, `{*+}` (one or more
// of X, 9, or * inside braces; case of x/X is ignored). A valid pattern
// must contain at least one placeholder.
func Parse(pattern string) (*Pattern, error) {
	if pattern == "" {
		return nil, fmt.Errorf("codegen: empty pattern")
	}

	p := &Pattern{raw: pattern}
	var lit strings.Builder
	hasPlaceholder := false

	flushLiteral := func() {
		if lit.Len() > 0 {
			p.tokens = append(p.tokens, token{literal: lit.String(), isLit: true})
			lit.Reset()
		}
	}

	runes := []rune(pattern)
	for i := 0; i < len(runes); {
		r := runes[i]
		if r == '{' {
			end := -1
			for j := i + 1; j < len(runes); j++ {
				if runes[j] == '}' {
					end = j
					break
				}
			}
			if end == -1 {
				return nil, fmt.Errorf("codegen: unterminated placeholder in pattern %q", pattern)
			}
			body := runes[i+1 : end]
			alpha, length, err := parsePlaceholder(body)
			if err != nil {
				return nil, fmt.Errorf("codegen: invalid placeholder %q: %w", string(body), err)
			}
			flushLiteral()
			p.tokens = append(p.tokens, token{alpha: alpha, length: length})
			hasPlaceholder = true
			i = end + 1
			continue
		}
		if !isLiteralChar(r) {
			return nil, fmt.Errorf("codegen: invalid literal character %q in pattern %q", r, pattern)
		}
		lit.WriteRune(r)
		i++
	}
	flushLiteral()

	if !hasPlaceholder {
		return nil, fmt.Errorf("codegen: pattern %q has no placeholder", pattern)
	}
	return p, nil
}

// parsePlaceholder validates a placeholder body is one-or-more of a
// single class character (x/X, 9, or *) and returns its alphabet/length.
func parsePlaceholder(body []rune) (alphabet, int, error) {
	if len(body) == 0 {
		return 0, 0, fmt.Errorf("empty placeholder")
	}
	first := body[0]
	var alpha alphabet
	switch first {
	case 'x', 'X':
		alpha = alphaLetters
	case '9':
		alpha = alphaDigits
	case '*':
		alpha = alphaAlnum
	default:
		return 0, 0, fmt.Errorf("unsupported placeholder class %q", first)
	}
	for _, r := range body {
		if r != first {
			return 0, 0, fmt.Errorf("placeholder must repeat a single class character")
		}
	}
	return alpha, len(body), nil
}

// MaxUniqueCodes returns the exact combinatorial product over all
// placeholders in the pattern: letters contribute 26^k, digits 10^k,
// alphanumerics 36^k per placeholder of length k.
func (p *Pattern) MaxUniqueCodes() int {
	total := 1
	for _, t := range p.tokens {
		if t.isLit {
			continue
		}
		base := len(t.alpha.charset())
		for i := 0; i < t.length; i++ {
			total *= base
			// Guard against overflow for pathologically large patterns;
			// callers only ever compare against small requested counts.
			if total < 0 {
				return int(^uint(0) >> 1)
			}
		}
	}
	return total
}
