// Package placename resolves a free-text destination, as a narrator or
// player would phrase it, to one of a fixed set of known places.
//
// Resolution runs in three passes:
//
//  1. Exact match on the normalised name (lower-cased, leading articles
//     such as "the" dropped).
//  2. Phonetic candidates: places whose significant words share a Double
//     Metaphone code with the query are ranked by Jaro-Winkler similarity and
//     accepted above the phonetic threshold.
//  3. Fuzzy fallback: when no phonetic candidate qualifies, pure
//     Jaro-Winkler similarity is accepted above the stricter fuzzy threshold.
//
// A query that ties between two places on the best score is reported as
// ambiguous rather than guessed.
package placename

import (
	"errors"
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.75
	defaultFuzzyThreshold    = 0.88
)

var (
	// ErrNoMatch is returned when no place is close enough to the query.
	ErrNoMatch = errors.New("placename: no matching place")

	// ErrAmbiguous is returned when two places match the query equally well.
	ErrAmbiguous = errors.New("placename: query matches several places")
)

// stopwords never contribute phonetic codes.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "to": true,
}

// Place is a resolvable destination.
type Place struct {
	ID   string
	Name string
}

// Match is the outcome of a successful resolution.
type Match struct {
	Place Place

	// Score is 1 for exact matches, otherwise the Jaro-Winkler similarity.
	Score float64

	// Phonetic reports whether the match came from the phonetic pass.
	Phonetic bool
}

// Option configures a [Resolver].
type Option func(*Resolver)

// WithPhoneticThreshold sets the minimum similarity for phonetic candidates.
func WithPhoneticThreshold(threshold float64) Option {
	return func(r *Resolver) { r.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum similarity for the fuzzy fallback.
func WithFuzzyThreshold(threshold float64) Option {
	return func(r *Resolver) { r.fuzzyThreshold = threshold }
}

// Resolver is read-only after construction and safe for concurrent use.
type Resolver struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Resolver with the given options applied.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve picks the place in places that query names.
func (r *Resolver) Resolve(query string, places []Place) (Match, error) {
	q := normalize(query)
	if q == "" || len(places) == 0 {
		return Match{}, ErrNoMatch
	}

	var exact []Place
	for _, p := range places {
		if normalize(p.Name) == q {
			exact = append(exact, p)
		}
	}
	switch len(exact) {
	case 0:
	case 1:
		return Match{Place: exact[0], Score: 1}, nil
	default:
		return Match{}, ErrAmbiguous
	}

	qTokens := significant(q)
	qCodes := codes(qTokens)

	var (
		best      Match
		ambiguous bool
	)
	consider := func(m Match) {
		switch {
		case best.Place.ID == "" || m.Score > best.Score:
			best, ambiguous = m, false
		case m.Score == best.Score && m.Place.ID != best.Place.ID:
			ambiguous = true
		}
	}

	for _, p := range places {
		name := normalize(p.Name)
		if name == "" {
			continue
		}
		score := similarity(q, name)
		if overlaps(qCodes, codes(significant(name))) && score >= r.phoneticThreshold {
			consider(Match{Place: p, Score: score, Phonetic: true})
		}
	}
	if best.Place.ID == "" {
		for _, p := range places {
			name := normalize(p.Name)
			if name == "" {
				continue
			}
			if score := similarity(q, name); score >= r.fuzzyThreshold {
				consider(Match{Place: p, Score: score})
			}
		}
	}

	switch {
	case best.Place.ID == "":
		return Match{}, ErrNoMatch
	case ambiguous:
		return Match{}, ErrAmbiguous
	}
	return best, nil
}

// normalize lower-cases s, collapses whitespace and drops a leading article.
func normalize(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) > 1 && (fields[0] == "the" || fields[0] == "a" || fields[0] == "an") {
		fields = fields[1:]
	}
	return strings.Join(fields, " ")
}

func significant(s string) []string {
	var out []string
	for _, f := range strings.Fields(s) {
		if !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}

func codes(tokens []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			out[p] = struct{}{}
		}
		if s != "" {
			out[s] = struct{}{}
		}
	}
	return out
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// similarity is the better of the full-string and space-stripped
// Jaro-Winkler scores.
func similarity(a, b string) float64 {
	score := matchr.JaroWinkler(a, b, false)
	if s := matchr.JaroWinkler(strings.ReplaceAll(a, " ", ""), strings.ReplaceAll(b, " ", ""), false); s > score {
		score = s
	}
	return score
}
