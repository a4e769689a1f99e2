package evaluator

import (
	"math/rand/v2"
	"strings"
)

// IsClosing reports whether line reads as a goodbye: it contains a closing
// marker (case-insensitive) and asks no question.
func IsClosing(line string) bool {
	l := strings.ToLower(line)
	return !strings.Contains(l, "?") && containsAny(l, closingMarkers)
}

// ValidClosing returns proposed if it is a valid closing line; otherwise a
// line drawn from the generic closing pool using rnd. A nil rnd always picks
// the first pool entry.
func ValidClosing(proposed Line, rnd *rand.Rand) Line {
	if IsClosing(proposed.En) {
		return proposed
	}
	if rnd == nil {
		return closingPool[0]
	}
	return closingPool[rnd.IntN(len(closingPool))]
}
