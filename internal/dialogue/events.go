package dialogue

import "github.com/MrWong99/realtalk/pkg/types"

// EventKind identifies an engine event.
type EventKind string

const (
	// EventTutorLine: the tutor is about to say Text.
	EventTutorLine EventKind = "tutor_line"
	// EventMicReady: the engine awaits the learner.
	EventMicReady EventKind = "mic_ready"
	// EventEvaluating: Text is being evaluated.
	EventEvaluating EventKind = "evaluating"
	// EventCorrection: Correction is shown and about to be spoken.
	EventCorrection EventKind = "correction"
	// EventPhase: the engine entered Phase.
	EventPhase EventKind = "phase"
	// EventCompleted: the conversation is over.
	EventCompleted EventKind = "completed"
)

// Event describes a visible change of the conversation.
type Event struct {
	Kind       EventKind         `json:"kind"`
	Phase      Phase             `json:"phase,omitempty"`
	Turn       int               `json:"turn"`
	Text       string            `json:"text,omitempty"`
	TextKo     string            `json:"textKo,omitempty"`
	Correction *types.Correction `json:"correction,omitempty"`
}
