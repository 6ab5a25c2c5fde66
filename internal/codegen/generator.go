package codegen

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// maxDrawMultiplier bounds how many draws the generator will attempt
// before giving up: 10 x the requested count.
const maxDrawMultiplier = 10

// ErrPatternExhausted is returned when the generator cannot reach the
// requested unique count within its draw budget.
type ErrPatternExhausted struct {
	Pattern   string
	Requested int
	Produced  int
}

func (e *ErrPatternExhausted) Error() string {
	return fmt.Sprintf("codegen: pattern %q exhausted after producing %d/%d unique codes",
		e.Pattern, e.Produced, e.Requested)
}

// Generate produces `count` distinct codes matching pattern. Callers are
// responsible for enforcing count <= 0.80 x MaxUniqueCodes(pattern)
// before calling (the generator itself only enforces the draw budget,
// not that precondition, so it stays a pure mechanism rather than a
// policy gate).
func Generate(pattern string, count int) ([]string, error) {
	if count <= 0 {
		return nil, fmt.Errorf("codegen: count must be positive, got %d", count)
	}
	p, err := Parse(pattern)
	if err != nil {
		return nil, err
	}
	return p.Generate(count)
}

// Generate produces `count` distinct codes from an already-compiled
// Pattern, avoiding re-parsing when called repeatedly for the same
// pattern (e.g. across GenerateCodes batches).
func (p *Pattern) Generate(count int) ([]string, error) {
	if count <= 0 {
		return nil, fmt.Errorf("codegen: count must be positive, got %d", count)
	}

	seen := make(map[string]struct{}, count)
	codes := make([]string, 0, count)

	maxDraws := maxDrawMultiplier * count
	for draws := 0; draws < maxDraws && len(codes) < count; draws++ {
		code, err := p.draw()
		if err != nil {
			return nil, fmt.Errorf("codegen: draw failed: %w", err)
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}

	if len(codes) < count {
		return nil, &ErrPatternExhausted{Pattern: p.raw, Requested: count, Produced: len(codes)}
	}
	return codes, nil
}

// draw materializes one candidate code by expanding every token.
func (p *Pattern) draw() (string, error) {
	var buf []byte
	for _, t := range p.tokens {
		if t.isLit {
			buf = append(buf, t.literal...)
			continue
		}
		charset := t.alpha.charset()
		for i := 0; i < t.length; i++ {
			c, err := randomChar(charset)
			if err != nil {
				return "", err
			}
			buf = append(buf, c)
		}
	}
	return string(buf), nil
}

// randomChar draws one character from charset using crypto/rand. This is
// the only randomness source in the package: predictable codes would
// allow an attacker who has seen prior codes to guess unissued ones.
func randomChar(charset string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
	if err != nil {
		return 0, err
	}
	return charset[n.Int64()], nil
}
