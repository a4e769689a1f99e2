package evaluator

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"unicode"
)

// TurnLeniency describes when a remote correction at one turn is discarded.
type TurnLeniency struct {
	// Markers are phrases that show the learner used the expected sentence
	// frame. Any one is enough. A marker matches whole words only, so "hi"
	// does not match "this".
	Markers []string `yaml:"markers"`

	// Reply replaces the tutor line when the correction is discarded. Empty
	// means the next scripted line.
	Reply Line `yaml:"reply"`
}

// LeniencyPolicy discards remote corrections for utterances that are close
// enough to the expected answer. An utterance qualifies when it contains one
// of the turn's markers, or when it has at least MinWords words and the turn
// has no markers configured.
type LeniencyPolicy struct {
	Enabled  bool                 `yaml:"enabled"`
	MinWords int                  `yaml:"min_words"`
	Turns    map[int]TurnLeniency `yaml:"turns"`
}

// DefaultLeniency favours acceptance on the turns where remote models most
// often over-correct.
func DefaultLeniency() LeniencyPolicy {
	return LeniencyPolicy{
		Enabled:  true,
		MinWords: 3,
		Turns: map[int]TurnLeniency{
			0: {Markers: []string{"nice to meet you", "hello", "hi"}},
			1: {Markers: []string{"my name is", "i'm", "i am"}},
			2: {Markers: []string{"years old", "i'm", "i am"}},
			3: {Markers: []string{"i feel", "i'm", "i am", "good", "happy"}},
		},
	}
}

// Accept reports whether a correction proposed for text at turn should be
// discarded, and if so the reply the tutor gives instead.
func (p LeniencyPolicy) Accept(text string, turn int) (Line, bool) {
	if !p.Enabled || turn >= LastTurn {
		return Line{}, false
	}
	t := normalize(strings.ReplaceAll(text, "’", "'"))
	if t == "" {
		return Line{}, false
	}

	tl, ok := p.Turns[turn]
	var near bool
	switch {
	case ok && len(tl.Markers) > 0:
		ws := words(t)
		near = slices.ContainsFunc(tl.Markers, func(m string) bool { return hasPhrase(ws, m) })
	case p.MinWords > 0:
		near = len(strings.Fields(t)) >= p.MinWords
	}
	if !near {
		return Line{}, false
	}

	reply := tl.Reply
	if reply.En == "" {
		reply = ScriptLine(turn + 1)
		if turn == 1 {
			name := ExtractName(t)
			reply = Line{
				En: "Oh, " + name + "! Nice to meet you! How old are you?",
				Ko: name + "! 만나서 반가워! 몇 살이야?",
			}
		}
	}
	return reply, true
}

// Validate reports configuration mistakes.
func (p LeniencyPolicy) Validate() []string {
	var problems []string
	if p.MinWords < 0 {
		problems = append(problems, "min_words must be >= 0")
	}
	for turn, tl := range p.Turns {
		if turn < 0 || turn >= LastTurn {
			problems = append(problems, fmt.Sprintf("turns.%d: turn must be in [0, %d)", turn, LastTurn))
		}
		if tl.Reply.En == "" && tl.Reply.Ko != "" {
			problems = append(problems, fmt.Sprintf("turns.%d: reply.ko set without reply.en", turn))
		}
	}
	return problems
}

// words splits lowercased s into words. Apostrophes stay inside words so
// "i'm" is one word.
func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// hasPhrase reports whether the words of phrase appear consecutively in ws.
func hasPhrase(ws []string, phrase string) bool {
	pw := words(phrase)
	if len(pw) == 0 {
		return false
	}
	for i := 0; i+len(pw) <= len(ws); i++ {
		if slices.Equal(ws[i:i+len(pw)], pw) {
			return true
		}
	}
	return false
}

// PolicyHolder guards a hot-reloadable value.
type PolicyHolder[T any] struct {
	mu sync.RWMutex
	v  T
}

// NewPolicyHolder returns a holder initialised with v.
func NewPolicyHolder[T any](v T) *PolicyHolder[T] {
	return &PolicyHolder[T]{v: v}
}

// Load returns the current value.
func (h *PolicyHolder[T]) Load() T {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.v
}

// Store replaces the current value.
func (h *PolicyHolder[T]) Store(v T) {
	h.mu.Lock()
	h.v = v
	h.mu.Unlock()
}
