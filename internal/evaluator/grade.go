package evaluator

import (
	"context"
	"slices"
	"strings"

	"github.com/MrWong99/realtalk/internal/evaluator/phonetic"
)

// DefaultPassRatio is the share of target words an attempt must contain.
const DefaultPassRatio = 0.7

// PracticePolicy tunes local grading of practice attempts.
type PracticePolicy struct {
	// PassRatio is the minimum matched-word ratio for a pass.
	PassRatio float64 `yaml:"pass_ratio"`

	// Phonetic also counts attempt words that sound like a target word.
	Phonetic bool `yaml:"phonetic"`
}

// DefaultPracticePolicy returns word-overlap grading at 0.7 without
// phonetic matching.
func DefaultPracticePolicy() PracticePolicy {
	return PracticePolicy{PassRatio: DefaultPassRatio}
}

var _ Grader = (*LocalGrader)(nil)

// LocalGrader grades by word overlap. Its policy may be swapped at runtime.
type LocalGrader struct {
	policy  *PolicyHolder[PracticePolicy]
	matcher *phonetic.Matcher
}

// NewLocalGrader returns a grader reading its policy from holder. A nil
// holder uses [DefaultPracticePolicy].
func NewLocalGrader(holder *PolicyHolder[PracticePolicy]) *LocalGrader {
	if holder == nil {
		holder = NewPolicyHolder(DefaultPracticePolicy())
	}
	return &LocalGrader{policy: holder, matcher: phonetic.New()}
}

// Grade implements [Grader]. It never returns an error.
func (g *LocalGrader) Grade(_ context.Context, attempt, target string) (bool, error) {
	return g.similar(attempt, target, g.policy.Load()), nil
}

func (g *LocalGrader) similar(attempt, target string, p PracticePolicy) bool {
	a, b := gradingForm(attempt), gradingForm(target)
	if a == b {
		return true
	}
	ratio := p.PassRatio
	if ratio <= 0 {
		ratio = DefaultPassRatio
	}

	aWords := strings.Fields(a)
	bWords := strings.Fields(b)
	matched := 0
	for _, w := range aWords {
		if slices.Contains(bWords, w) {
			matched++
			continue
		}
		if p.Phonetic {
			if _, _, ok := g.matcher.Match(w, bWords); ok {
				matched++
			}
		}
	}
	return float64(matched)/float64(max(len(bWords), 1)) >= ratio
}
