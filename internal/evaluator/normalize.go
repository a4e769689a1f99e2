package evaluator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrWong99/realtalk/pkg/types"
)

// ErrMalformed marks a remote answer that lacks a field the lesson cannot do
// without. Callers treat it like any other remote failure.
var ErrMalformed = errors.New("evaluator: malformed response")

// looseResult accepts whatever JSON types a model or proxy produces for each
// field; normalization happens afterwards.
type looseResult struct {
	TutorLine      json.RawMessage `json:"tutorLine"`
	TutorLineKo    json.RawMessage `json:"tutorLineTranslated"`
	IsMainDialogue json.RawMessage `json:"isMainDialogue"`
	Correction     json.RawMessage `json:"correction"`
	IsOffTopic     json.RawMessage `json:"isOffTopic"`
	IsLastTurn     json.RawMessage `json:"isLastTurn"`
}

type looseCorrection struct {
	Type        json.RawMessage `json:"type"`
	Sentence    json.RawMessage `json:"sentence"`
	Explanation json.RawMessage `json:"explanation"`
}

// DecodeResult parses an evaluate-utterance answer. Missing booleans are
// false, an unknown correction type becomes grammar, and a correction that is
// not an object is ignored. A missing or blank tutorLine is [ErrMalformed].
func DecodeResult(data []byte) (Result, error) {
	var lr looseResult
	if err := json.Unmarshal(data, &lr); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	res := Result{
		TutorLine:      strings.TrimSpace(looseString(lr.TutorLine)),
		TutorLineKo:    strings.TrimSpace(looseString(lr.TutorLineKo)),
		IsMainDialogue: truthy(lr.IsMainDialogue),
		IsOffTopic:     truthy(lr.IsOffTopic),
		IsLastTurn:     truthy(lr.IsLastTurn),
	}
	if res.TutorLine == "" {
		return Result{}, fmt.Errorf("%w: missing tutorLine", ErrMalformed)
	}

	var lc looseCorrection
	if isObject(lr.Correction) && json.Unmarshal(lr.Correction, &lc) == nil {
		typ := types.ErrorGrammar
		if strings.EqualFold(strings.TrimSpace(looseString(lc.Type)), string(types.ErrorNaturalness)) {
			typ = types.ErrorNaturalness
		}
		res.Correction = &types.Correction{
			Type:        typ,
			Sentence:    strings.TrimSpace(looseString(lc.Sentence)),
			Explanation: strings.TrimSpace(looseString(lc.Explanation)),
		}
	}
	return res, nil
}

// DecodeEvaluation parses an evaluate-session answer, clamping both scores.
func DecodeEvaluation(data []byte) (types.SessionEvaluation, error) {
	var raw struct {
		Topic      json.RawMessage `json:"topicRelevanceScore"`
		Expression json.RawMessage `json:"expressionScore"`
		Feedback   json.RawMessage `json:"overallFeedback"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return types.SessionEvaluation{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return types.SessionEvaluation{
		TopicRelevanceScore: ClampScore(raw.Topic),
		ExpressionScore:     ClampScore(raw.Expression),
		OverallFeedback:     strings.TrimSpace(looseString(raw.Feedback)),
	}, nil
}

// DecodeGrade parses a grade-correction answer. A missing isCorrect is
// [ErrMalformed].
func DecodeGrade(data []byte) (bool, error) {
	var raw struct {
		IsCorrect json.RawMessage `json:"isCorrect"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(raw.IsCorrect) == 0 || string(raw.IsCorrect) == "null" {
		return false, fmt.Errorf("%w: missing isCorrect", ErrMalformed)
	}
	return truthy(raw.IsCorrect), nil
}

// truthy interprets booleans, "true"/"yes" strings and non-zero numbers as
// true; everything else, including absence, is false.
func truthy(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		return b
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "1":
			return true
		}
		return false
	}
	var f float64
	if json.Unmarshal(raw, &f) == nil {
		return f != 0
	}
	return false
}

// looseString renders strings as is and numbers or booleans as text. Null,
// objects and arrays become "".
func looseString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var f float64
	if json.Unmarshal(raw, &f) == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	var b bool
	if json.Unmarshal(raw, &b) == nil {
		return strconv.FormatBool(b)
	}
	return ""
}

func isObject(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '{'
}
