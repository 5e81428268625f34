package format

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidPair = errors.New("invalid conversion pair")

// DefaultPair is used whenever a requested pair cannot be resolved.
var DefaultPair = Pair{Source: PNG, Target: JPEG}

// Pair is a (source, target) conversion.
type Pair struct {
	Source ImageFormat
	Target ImageFormat
}

func NewPair(source, target string) (Pair, error) {
	src, err := Normalize(source)
	if err != nil {
		return Pair{}, fmt.Errorf("%w: source: %w", ErrInvalidPair, err)
	}
	dst, err := Normalize(target)
	if err != nil {
		return Pair{}, fmt.Errorf("%w: target: %w", ErrInvalidPair, err)
	}
	p := Pair{Source: src, Target: dst}
	if err := p.Validate(); err != nil {
		return Pair{}, err
	}
	return p, nil
}

func (p Pair) Validate() error {
	if !p.Source.Valid() || !p.Target.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidPair, p.Slug())
	}
	if p.Source == p.Target {
		return fmt.Errorf("%w: source and target are both %s", ErrInvalidPair, p.Source)
	}
	return nil
}

// Slug renders the pair as "source-target", e.g. "png-jpeg".
func (p Pair) Slug() string {
	return fmt.Sprintf("%s-%s", p.Source, p.Target)
}

func (p Pair) String() string {
	return p.Slug()
}

// ParseSlug parses "source-target". Aliases are normalized, so "jpg-png" yields jpeg -> png.
func ParseSlug(slug string) (Pair, error) {
	parts := strings.Split(strings.TrimSpace(slug), "-")
	if len(parts) != 2 {
		return Pair{}, fmt.Errorf("%w: expected source-target, got %q", ErrInvalidPair, slug)
	}
	return NewPair(parts[0], parts[1])
}

// AllPairs returns every ordered pair of distinct canonical formats.
func AllPairs() []Pair {
	pairs := make([]Pair, 0, len(All)*(len(All)-1))
	for _, src := range All {
		for _, dst := range All {
			if src == dst {
				continue
			}
			pairs = append(pairs, Pair{Source: src, Target: dst})
		}
	}
	return pairs
}

// RelatedPairs returns the pairs converting from source.
func RelatedPairs(source ImageFormat) []Pair {
	var related []Pair
	for _, p := range AllPairs() {
		if p.Source == source {
			related = append(related, p)
		}
	}
	return related
}
