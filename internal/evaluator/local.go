package evaluator

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/realtalk/pkg/types"
)

var _ Evaluator = Local{}

// Local is the rule-based evaluator. It needs no network and always answers;
// the zero value is ready to use.
type Local struct{}

// Evaluate implements [Evaluator]. It never returns an error.
func (Local) Evaluate(_ context.Context, userText string, _ []types.SummaryItem, turn int) (Result, error) {
	return evaluateLocal(userText, turn), nil
}

func evaluateLocal(userText string, turn int) Result {
	t := normalize(userText)
	next := ScriptLine(turn + 1)

	if t == "" {
		current := ScriptLine(turn)
		return Result{TutorLine: current.En, TutorLineKo: current.Ko}
	}

	// The name check runs before off-topic detection so a bare name is
	// corrected rather than redirected.
	if turn == 1 && !containsAny(t, []string{"name", "i am", "i'm"}) {
		return Result{
			TutorLine:   grammarAck.En,
			TutorLineKo: grammarAck.Ko,
			Correction: &types.Correction{
				Type:        types.ErrorGrammar,
				Sentence:    fmt.Sprintf("My name is %s.", ExtractName(t)),
				Explanation: nameExplanation,
			},
		}
	}

	if turn == 2 && strings.Contains(t, "have") && strings.Contains(t, "year") {
		return Result{
			TutorLine:   naturalnessAck.En,
			TutorLineKo: naturalnessAck.Ko,
			Correction: &types.Correction{
				Type:        types.ErrorNaturalness,
				Sentence:    fmt.Sprintf("I'm %s years old.", ExtractAge(t)),
				Explanation: ageExplanation,
			},
		}
	}

	// The last turn always closes; it is never corrected or redirected.
	if turn >= LastTurn {
		closing := ActivityClosing(t)
		return Result{
			TutorLine:      closing.En,
			TutorLineKo:    closing.Ko,
			IsMainDialogue: true,
			IsLastTurn:     true,
		}
	}

	if !containsAny(t, topicWords) && utf8.RuneCountInString(t) > 3 {
		return Result{
			TutorLine:   next.En,
			TutorLineKo: next.Ko,
			IsOffTopic:  true,
		}
	}

	// Only the reply to the name answer uses the learner's name.
	if turn == 1 {
		name := ExtractName(t)
		return Result{
			TutorLine:      fmt.Sprintf("Oh, %s! Nice to meet you! How old are you?", name),
			TutorLineKo:    fmt.Sprintf("%s! 만나서 반가워! 몇 살이야?", name),
			IsMainDialogue: true,
		}
	}

	return Result{
		TutorLine:      next.En,
		TutorLineKo:    next.Ko,
		IsMainDialogue: true,
	}
}

// ActivityClosing picks the closing line for an answer to "What do you do
// after school?", falling back to the default closing.
func ActivityClosing(text string) Line {
	t := normalize(text)
	for _, a := range activityClosings {
		if strings.Contains(t, a.word) {
			return a.line
		}
	}
	return DefaultClosing()
}
