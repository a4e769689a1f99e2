// Package evaluator decides how the tutor answers each learner utterance,
// grades correction-practice attempts, and scores finished sessions.
//
// Every operation has two strategies with the same contract: a remote one
// that asks the evaluation service (package remote) and a deterministic local
// one built on fixed rules and the lesson script. [Service] composes them so
// that a remote failure always falls back to the local answer and is never
// surfaced to the caller.
package evaluator

import (
	"context"

	"github.com/MrWong99/realtalk/pkg/types"
)

// Result is the evaluator's verdict on one learner utterance.
type Result struct {
	// TutorLine is what the tutor says next: the next scripted question, an
	// acknowledgement before a correction, a redirect, or the closing.
	TutorLine string `json:"tutorLine"`

	// TutorLineKo is the Korean translation of TutorLine, if known.
	TutorLineKo string `json:"tutorLineTranslated,omitempty"`

	// IsMainDialogue reports whether the utterance advances the conversation.
	IsMainDialogue bool `json:"isMainDialogue"`

	// Correction is set when the utterance needs a grammar or naturalness fix.
	Correction *types.Correction `json:"correction,omitempty"`

	// IsOffTopic reports that the utterance did not answer the question.
	IsOffTopic bool `json:"isOffTopic"`

	// IsLastTurn reports that TutorLine is the closing line.
	IsLastTurn bool `json:"isLastTurn"`
}

// Accepted reports whether the turn counts: no correction and on topic.
func (r Result) Accepted() bool {
	return r.Correction == nil && !r.IsOffTopic
}

// Evaluator judges a learner utterance in the context of the conversation so
// far. turn is the 0-based learner turn index in [0, LastTurn].
type Evaluator interface {
	Evaluate(ctx context.Context, userText string, history []types.SummaryItem, turn int) (Result, error)
}

// Grader decides whether a practice attempt matches the target sentence.
type Grader interface {
	Grade(ctx context.Context, attempt, target string) (bool, error)
}

// Scorer computes the post-session evaluation.
type Scorer interface {
	Score(ctx context.Context, summary []types.SummaryItem, errs []types.ErrorLogItem) (types.SessionEvaluation, error)
}

// Strategy names used in logs and metrics.
const (
	StrategyRemote = "remote"
	StrategyLocal  = "local"
)
