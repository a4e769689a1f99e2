package evaluator

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/MrWong99/realtalk/pkg/types"
)

const (
	feedbackPerfect = "오늘 대화 정말 잘했어요! 자신 있게 말하는 모습이 좋았어요."
	feedbackKeepGo  = "조금 더 연습하면 더 좋아질 거예요. 화이팅!"
)

var _ Scorer = LocalScorer{}

// LocalScorer scores a session from its error count alone.
type LocalScorer struct{}

// Score implements [Scorer]. It never returns an error.
func (LocalScorer) Score(_ context.Context, _ []types.SummaryItem, errs []types.ErrorLogItem) (types.SessionEvaluation, error) {
	return scoreLocal(len(errs)), nil
}

func scoreLocal(n int) types.SessionEvaluation {
	if n == 0 {
		return types.SessionEvaluation{TopicRelevanceScore: 5, ExpressionScore: 5, OverallFeedback: feedbackPerfect}
	}
	return types.SessionEvaluation{
		TopicRelevanceScore: max(1, 5-n),
		ExpressionScore:     max(1, 5-n/2),
		OverallFeedback:     feedbackKeepGo,
	}
}

// ClampScore coerces a loosely-typed score into [1, 5]. Numbers and numeric
// strings are rounded; zero, missing, and non-numeric values become 5.
func ClampScore(raw json.RawMessage) int {
	v, ok := scoreValue(raw)
	if !ok || v == 0 || math.IsNaN(v) {
		return 5
	}
	return int(math.Max(1, math.Min(5, math.Round(v))))
}

func scoreValue(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// ClampEvaluation forces both scores of e into [1, 5]; zero becomes 5.
func ClampEvaluation(e types.SessionEvaluation) types.SessionEvaluation {
	clamp := func(v int) int {
		if v == 0 {
			return 5
		}
		return max(1, min(5, v))
	}
	e.TopicRelevanceScore = clamp(e.TopicRelevanceScore)
	e.ExpressionScore = clamp(e.ExpressionScore)
	return e
}
