// Package review prepares a finished conversation for the review screens:
// which logged errors to show, which to drill, and the session score.
package review

import (
	"context"
	"strings"
	"sync"

	"github.com/MrWong99/realtalk/internal/evaluator"
	"github.com/MrWong99/realtalk/pkg/types"
)

// DefaultMaxReview is the number of error log items shown for review.
const DefaultMaxReview = 5

// reviewOrder is the type rotation used when the log has to be thinned out.
var reviewOrder = [...]types.ErrorType{types.ErrorGrammar, types.ErrorNaturalness, types.ErrorOffTopic}

// PracticeItems returns the grammar and naturalness items of log in their
// original order. Off-topic items are never drilled.
func PracticeItems(log []types.ErrorLogItem) []types.ErrorLogItem {
	out := make([]types.ErrorLogItem, 0, len(log))
	for _, it := range log {
		if it.ErrorType.Practicable() {
			out = append(out, it)
		}
	}
	return out
}

// SelectForReview picks at most maxCount items for display. A log that fits
// is returned as a copy. Otherwise items are taken round-robin by type
// (grammar, naturalness, off-topic), one per type per round, each type in
// its logged order, so no single type crowds out the others.
func SelectForReview(log []types.ErrorLogItem, maxCount int) []types.ErrorLogItem {
	if maxCount < 0 {
		maxCount = 0
	}
	if len(log) <= maxCount {
		return append([]types.ErrorLogItem(nil), log...)
	}

	byType := make(map[types.ErrorType][]types.ErrorLogItem, len(reviewOrder))
	for _, it := range log {
		byType[it.ErrorType] = append(byType[it.ErrorType], it)
	}

	out := make([]types.ErrorLogItem, 0, maxCount)
	for round := 0; len(out) < maxCount; round++ {
		added := 0
		for _, t := range reviewOrder {
			if items := byType[t]; round < len(items) && len(out) < maxCount {
				out = append(out, items[round])
				added++
			}
		}
		if added == 0 {
			break
		}
	}
	return out
}

// Report is the finalized record of one conversation. Summary and Errors
// must not be modified after the report is created.
type Report struct {
	Summary []types.SummaryItem  `json:"summary"`
	Errors  []types.ErrorLogItem `json:"errorLog"`

	mu   sync.Mutex
	eval *types.SessionEvaluation
}

// NewReport copies summary and errs into a new Report.
func NewReport(summary []types.SummaryItem, errs []types.ErrorLogItem) *Report {
	return &Report{
		Summary: append([]types.SummaryItem(nil), summary...),
		Errors:  append([]types.ErrorLogItem(nil), errs...),
	}
}

// Review returns the items to show on the review screen.
func (r *Report) Review() []types.ErrorLogItem {
	return SelectForReview(r.Errors, DefaultMaxReview)
}

// Practice returns the items for the correction-practice drill.
func (r *Report) Practice() []types.ErrorLogItem {
	return PracticeItems(r.Errors)
}

// Evaluation scores the session with scorer the first time it is called and
// returns the cached result afterwards. A failed attempt is not cached.
func (r *Report) Evaluation(ctx context.Context, scorer evaluator.Scorer) (types.SessionEvaluation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.eval != nil {
		return *r.eval, nil
	}
	ev, err := scorer.Score(ctx, r.Summary, r.Errors)
	if err != nil {
		return types.SessionEvaluation{}, err
	}
	ev = evaluator.ClampEvaluation(ev)
	r.eval = &ev
	return ev, nil
}

// FeedbackSentences splits feedback into display lines after each ".", "!",
// "?" or "。".
func FeedbackSentences(feedback string) []string {
	var out []string
	start := 0
	for i, r := range feedback {
		if strings.ContainsRune(".!?。", r) {
			end := i + len(string(r))
			if s := strings.TrimSpace(feedback[start:end]); s != "" {
				out = append(out, s)
			}
			start = end
		}
	}
	if s := strings.TrimSpace(feedback[start:]); s != "" {
		out = append(out, s)
	}
	return out
}
