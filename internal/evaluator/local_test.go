package evaluator

import (
	"context"
	"testing"

	"github.com/MrWong99/realtalk/pkg/types"
)

func TestLocalEvaluate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		text      string
		turn      int
		wantLine  string
		wantMain  bool
		wantOff   bool
		wantLast  bool
		wantType  types.ErrorType
		wantFixed string
	}{
		{
			name:     "empty input replays the current line",
			text:     "   ",
			turn:     2,
			wantLine: ScriptLine(2).En,
		},
		{
			name:     "greeting reply advances",
			text:     "Nice to meet you too!",
			turn:     0,
			wantLine: ScriptLine(1).En,
			wantMain: true,
		},
		{
			name:      "bare name gets the sentence frame",
			text:      "Jake",
			turn:      1,
			wantLine:  grammarAck.En,
			wantType:  types.ErrorGrammar,
			wantFixed: "My name is Jake.",
		},
		{
			name:     "full name answer echoes the name",
			text:     "My name is Jake.",
			turn:     1,
			wantLine: "Oh, Jake! Nice to meet you! How old are you?",
			wantMain: true,
		},
		{
			name:      "have-years age is made natural",
			text:      "I have eight years",
			turn:      2,
			wantLine:  naturalnessAck.En,
			wantType:  types.ErrorNaturalness,
			wantFixed: "I'm eight years old.",
		},
		{
			name:      "have-years with digits keeps the digits",
			text:      "I have 9 years",
			turn:      2,
			wantLine:  naturalnessAck.En,
			wantType:  types.ErrorNaturalness,
			wantFixed: "I'm 9 years old.",
		},
		{
			name:     "correct age answer advances",
			text:     "I'm 9 years old",
			turn:     2,
			wantLine: ScriptLine(3).En,
			wantMain: true,
		},
		{
			name:     "off-topic answer redirects with the next line",
			text:     "I like pizza",
			turn:     2,
			wantLine: ScriptLine(3).En,
			wantOff:  true,
		},
		{
			name:     "short unknown answer is not off-topic",
			text:     "ok",
			turn:     3,
			wantLine: ScriptLine(4).En,
			wantMain: true,
		},
		{
			name:     "activity closing",
			text:     "I play soccer with my friends",
			turn:     4,
			wantLine: "Nice! Let's play soccer together next time!",
			wantMain: true,
			wantLast: true,
		},
		{
			name:     "unknown activity gets the default closing",
			text:     "I watch cartoons",
			turn:     4,
			wantLine: DefaultClosing().En,
			wantMain: true,
			wantLast: true,
		},
		{
			name:     "last turn is never off-topic",
			text:     "pizza pizza pizza",
			turn:     4,
			wantLine: DefaultClosing().En,
			wantMain: true,
			wantLast: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Local{}.Evaluate(context.Background(), tt.text, nil, tt.turn)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.TutorLine != tt.wantLine {
				t.Errorf("TutorLine = %q, want %q", got.TutorLine, tt.wantLine)
			}
			if got.TutorLineKo == "" {
				t.Error("TutorLineKo is empty")
			}
			if got.IsMainDialogue != tt.wantMain {
				t.Errorf("IsMainDialogue = %v, want %v", got.IsMainDialogue, tt.wantMain)
			}
			if got.IsOffTopic != tt.wantOff {
				t.Errorf("IsOffTopic = %v, want %v", got.IsOffTopic, tt.wantOff)
			}
			if got.IsLastTurn != tt.wantLast {
				t.Errorf("IsLastTurn = %v, want %v", got.IsLastTurn, tt.wantLast)
			}
			switch {
			case tt.wantFixed == "" && got.Correction != nil:
				t.Errorf("unexpected correction %+v", got.Correction)
			case tt.wantFixed != "" && got.Correction == nil:
				t.Errorf("want correction %q, got none", tt.wantFixed)
			case tt.wantFixed != "":
				if got.Correction.Sentence != tt.wantFixed {
					t.Errorf("Correction.Sentence = %q, want %q", got.Correction.Sentence, tt.wantFixed)
				}
				if got.Correction.Type != tt.wantType {
					t.Errorf("Correction.Type = %q, want %q", got.Correction.Type, tt.wantType)
				}
			}
		})
	}
}

func TestLocalEvaluate_NameOnlyOnTurnOne(t *testing.T) {
	t.Parallel()

	for turn := 0; turn <= LastTurn; turn++ {
		if turn == 1 {
			continue
		}
		got := evaluateLocal("I am Jake and I am happy", turn)
		if containsAny(got.TutorLine, []string{"Jake"}) {
			t.Errorf("turn %d: tutor line %q uses the learner's name", turn, got.TutorLine)
		}
	}
}

func TestResult_Accepted(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		r    Result
		want bool
	}{
		{"plain", Result{TutorLine: "x", IsMainDialogue: true}, true},
		{"correction", Result{Correction: &types.Correction{Sentence: "x"}}, false},
		{"off-topic", Result{IsOffTopic: true}, false},
	}
	for _, tt := range tests {
		if got := tt.r.Accepted(); got != tt.want {
			t.Errorf("%s: Accepted() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
