package remote

import "github.com/MrWong99/realtalk/pkg/types"

// Endpoint paths of the evaluation service, relative to its base URL.
const (
	PathAvailability = "/api/availability-check"
	PathUtterance    = "/api/evaluate-utterance"
	PathSession      = "/api/evaluate-session"
	PathGrade        = "/api/grade-correction"

	// Speech endpoints served next to the evaluation endpoints.
	PathTranscribeAvailability = "/api/transcribe-available"
	PathTranscribe             = "/api/transcribe"
	PathTTS                    = "/api/tts"
)

// UtteranceRequest is the body of POST evaluate-utterance.
type UtteranceRequest struct {
	UserText            string              `json:"userText"`
	ConversationSummary []types.SummaryItem `json:"conversationSummary"`
	UserTurnIndex       int                 `json:"userTurnIndex"`
}

// SessionRequest is the body of POST evaluate-session.
type SessionRequest struct {
	ConversationSummary []types.SummaryItem  `json:"conversationSummary"`
	ErrorLog            []types.ErrorLogItem `json:"errorLog"`
}

// GradeRequest is the body of POST grade-correction.
type GradeRequest struct {
	Correct  string `json:"correct"`
	UserText string `json:"userText"`
}

// GradeResponse is the answer of POST grade-correction.
type GradeResponse struct {
	IsCorrect bool `json:"isCorrect"`
}

// AvailabilityResponse is the answer of GET availability-check.
type AvailabilityResponse struct {
	Available bool `json:"available"`
}

// ErrorResponse is the body of every non-2xx answer. UseMock tells the
// client to answer with its local rules.
type ErrorResponse struct {
	Error   string `json:"error"`
	UseMock bool   `json:"useMock,omitempty"`
}

// TranscribeResponse is the answer of POST transcribe.
type TranscribeResponse struct {
	Text string `json:"text"`
}

// TTSRequest is the body of POST tts. Voice and Speed are optional.
type TTSRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice,omitempty"`
	Speed float64 `json:"speed,omitempty"`
}
