// Package types defines the shared types used across all RealTalk packages.
//
// These types form the lingua franca between providers, the lesson engine, the
// evaluation service, and the gateway. Each package keeps its own domain types,
// but cross-cutting data structures live here to avoid circular imports. JSON
// tags follow the evaluation service wire format so the same values travel
// unchanged between client and server.
package types

import "time"

// Speaker identifies who produced a line of conversation history.
type Speaker string

const (
	// SpeakerTutor marks lines spoken by the tutor.
	SpeakerTutor Speaker = "tutor"

	// SpeakerUser marks lines spoken by the learner.
	SpeakerUser Speaker = "user"
)

// SummaryItem is one line of recorded conversation history. Items are appended
// in order and never mutated after creation.
type SummaryItem struct {
	Speaker Speaker `json:"speaker"`

	// TextEn is the canonical English utterance.
	TextEn string `json:"textEn"`

	// TextKo is the Korean translation. Only tutor lines carry one.
	TextKo string `json:"textKo,omitempty"`
}

// ErrorType classifies a flagged learner utterance.
type ErrorType string

const (
	ErrorGrammar     ErrorType = "grammar"
	ErrorNaturalness ErrorType = "naturalness"
	ErrorOffTopic    ErrorType = "off-topic"
)

// Practicable reports whether items of this type are drilled during
// correction practice. Off-topic items are review-only.
func (t ErrorType) Practicable() bool {
	return t == ErrorGrammar || t == ErrorNaturalness
}

// Correction is a corrected sentence proposed for a learner utterance.
type Correction struct {
	// Type is either ErrorGrammar or ErrorNaturalness.
	Type ErrorType `json:"type"`

	// Sentence is the full corrected sentence.
	Sentence string `json:"sentence"`

	// Explanation is an optional learner-facing rationale (Korean).
	Explanation string `json:"explanation,omitempty"`
}

// ErrorLogItem records one flagged learner utterance.
//
// Corrected is always a complete sentence: never empty and never containing a
// placeholder token.
type ErrorLogItem struct {
	Original    string    `json:"original"`
	Corrected   string    `json:"corrected"`
	ErrorType   ErrorType `json:"errorType"`
	Explanation string    `json:"explanation,omitempty"`
	TurnIndex   *int      `json:"turnIndex,omitempty"`
}

// Turn returns the turn index the item was logged at, or -1 when unknown.
func (e ErrorLogItem) Turn() int {
	if e.TurnIndex == nil {
		return -1
	}
	return *e.TurnIndex
}

// SessionEvaluation is the post-session score of one lesson. Both scores are
// integers in [1, 5].
type SessionEvaluation struct {
	TopicRelevanceScore int    `json:"topicRelevanceScore"`
	ExpressionScore     int    `json:"expressionScore"`
	OverallFeedback     string `json:"overallFeedback"`
}

// Transcript is a speech-to-text result.
type Transcript struct {
	// Text is the transcribed speech content. Empty when nothing was heard.
	Text string `json:"text"`

	// IsFinal indicates whether this is a final (authoritative) or interim transcript.
	IsFinal bool `json:"isFinal"`

	// Confidence is the overall confidence score (0.0–1.0). May be zero if the
	// provider does not report confidence.
	Confidence float64 `json:"confidence,omitempty"`

	// Words contains per-word detail when available (Deepgram).
	Words []WordDetail `json:"-"`

	// Duration is the length of the recognised audio.
	Duration time.Duration `json:"-"`
}

// WordDetail holds per-word metadata from STT providers that support it.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// AudioClip is a complete recorded or synthesized piece of audio.
type AudioClip struct {
	// Data holds the encoded audio bytes.
	Data []byte

	// MIMEType describes the encoding of Data, e.g. "audio/mpeg", "audio/wav",
	// "audio/webm" or "audio/pcm" (raw 16-bit little-endian samples).
	MIMEType string

	// SampleRate in Hz. Only meaningful for "audio/pcm".
	SampleRate int

	// Channels: 1 for mono. Only meaningful for "audio/pcm".
	Channels int
}

// MIMEPCM marks raw 16-bit signed little-endian PCM audio.
const MIMEPCM = "audio/pcm"

// IsPCM reports whether the clip carries raw PCM samples.
func (c AudioClip) IsPCM() bool { return c.MIMEType == MIMEPCM }

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// VoiceProfile describes a TTS voice configuration.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier (e.g. "nova").
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Language is the BCP-47 language code of the voice (e.g. "en-US").
	Language string

	// SpeedFactor adjusts speaking rate (0.25–4.0, 1.0 = default). Zero means
	// provider default.
	SpeedFactor float64
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int
}
