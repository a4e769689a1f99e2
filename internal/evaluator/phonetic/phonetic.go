// Package phonetic matches transcribed practice words against the words of
// the target sentence by sound, so that a recogniser's spelling of a child's
// pronunciation ("reed") still counts toward the target word ("read").
//
// A candidate qualifies in one of two ways:
//
//  1. Phonetic: the Double Metaphone codes of the two words overlap and their
//     Jaro-Winkler similarity reaches the phonetic threshold (default 0.70).
//  2. Fuzzy: without a code overlap, the Jaro-Winkler similarity alone
//     reaches the stricter fuzzy threshold (default 0.85).
//
// Phonetic candidates always beat fuzzy ones; within a class the highest
// similarity wins.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// minPhoneticLen excludes function words, whose codes collide too
	// easily ("a" and "I" both encode to the empty string or "A").
	minPhoneticLen = 3
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a word whose
// phonetic codes overlap with the candidate. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score when no phonetic
// overlap exists. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a new [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match returns the word in targets that word most plausibly stands for.
// When matched is false, best is word unchanged and score is 0. Comparison
// is case-insensitive; best keeps the casing from targets.
func (m *Matcher) Match(word string, targets []string) (best string, score float64, matched bool) {
	w := strings.ToLower(strings.TrimSpace(word))
	if w == "" || len(targets) == 0 {
		return word, 0, false
	}
	wCodes := codes(w)

	var phonetic bool
	for _, target := range targets {
		tl := strings.ToLower(strings.TrimSpace(target))
		if tl == "" {
			continue
		}
		jw := matchr.JaroWinkler(w, tl, false)
		if w == tl {
			jw = 1
		}

		if overlaps(wCodes, codes(tl)) {
			if jw >= m.phoneticThreshold && (!phonetic || jw > score) {
				best, score, phonetic = target, jw, true
			}
			continue
		}
		if !phonetic && jw >= m.fuzzyThreshold && jw > score {
			best, score = target, jw
		}
	}

	if best == "" {
		return word, 0, false
	}
	return best, score, true
}

// codes returns the Double Metaphone codes for w. Short words get none.
func codes(w string) []string {
	if len([]rune(w)) < minPhoneticLen {
		return nil
	}
	p, s := matchr.DoubleMetaphone(w)
	var out []string
	if p != "" {
		out = append(out, p)
	}
	if s != "" && s != p {
		out = append(out, s)
	}
	return out
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
