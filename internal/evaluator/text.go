package evaluator

import (
	"regexp"
	"strings"
	"unicode"
)

// normalize lowercases s and trims surrounding whitespace.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// containsAny reports whether s contains any of subs.
func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// trimPunct strips leading and trailing characters that are neither letters
// nor digits, leaving inner apostrophes and hyphens alone.
func trimPunct(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// capitalize upper-cases the first rune and lower-cases the rest.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(strings.ToLower(s))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// ExtractName returns the presumed name in a reply to "What's your name?":
// the first word outside the stop-list, else the last word, capitalised
// and stripped of punctuation. It falls back to "Friend" when the reply has
// no usable word.
func ExtractName(text string) string {
	var words []string
	for _, w := range strings.Fields(normalize(text)) {
		if w = trimPunct(w); w != "" {
			words = append(words, w)
		}
	}
	for _, w := range words {
		if !nameStopWords[w] && !isSelfReference(w) {
			return capitalize(w)
		}
	}
	if n := len(words); n > 0 {
		return capitalize(words[n-1])
	}
	return defaultName
}

// isSelfReference matches the "I'm" contraction in its common spellings,
// which the stop-list alone would otherwise return as a name.
func isSelfReference(w string) bool {
	switch strings.ReplaceAll(w, "’", "'") {
	case "i'm", "im":
		return true
	}
	return false
}

var ageRe = regexp.MustCompile(`\b(\d+)\b|\b(` + strings.Join(spelledAges, "|") + `)\b`)

// ExtractAge returns the first digit run or spelled number (six to eleven) in
// text, defaulting to "eight".
func ExtractAge(text string) string {
	m := ageRe.FindStringSubmatch(normalize(text))
	switch {
	case m == nil:
		return defaultAge
	case m[1] != "":
		return m[1]
	case m[2] != "":
		return m[2]
	}
	return defaultAge
}

// gradingForm lowercases s, strips .!?, and trims whitespace.
func gradingForm(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '.', '!', '?', ',':
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
