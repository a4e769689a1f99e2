package gateway

import "github.com/MrWong99/realtalk/pkg/types"

// Client message types.
const (
	msgListen        = "listen"
	msgTranscript    = "transcript"
	msgAudio         = "audio"
	msgPlaybackEnded = "playback_ended"
	msgNext          = "next"
	msgLeave         = "leave"
)

// Server message types.
const (
	msgSession          = "session"
	msgEvent            = "event"
	msgStop             = "stop"
	msgSummary          = "summary"
	msgReview           = "review"
	msgEvaluation       = "evaluation"
	msgPracticeComplete = "practice_complete"
	msgError            = "error"
)

// clientMessage is one JSON frame from the browser. Data is base64 in JSON.
type clientMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Data []byte `json:"data,omitempty"`
	MIME string `json:"mime,omitempty"`
	Seq  uint64 `json:"seq,omitempty"`
}

// serverMessage is one JSON frame to the browser. Only the fields of its
// Type are set.
type serverMessage struct {
	Type       string                   `json:"type"`
	Session    string                   `json:"session,omitempty"`
	Event      any                      `json:"event,omitempty"`
	Seq        uint64                   `json:"seq,omitempty"`
	MIME       string                   `json:"mime,omitempty"`
	Data       []byte                   `json:"data,omitempty"`
	Text       string                   `json:"text,omitempty"`
	Summary    []types.SummaryItem      `json:"summary,omitempty"`
	Review     []types.ErrorLogItem     `json:"review,omitempty"`
	Evaluation *types.SessionEvaluation `json:"evaluation,omitempty"`
	Feedback   []string                 `json:"feedback,omitempty"`
	Error      string                   `json:"error,omitempty"`
}
