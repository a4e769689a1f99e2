// Package stt defines the Provider interface for speech-to-text backends.
//
// The lesson records one utterance per microphone gesture and transcribes the
// finished clip, so providers work on complete clips rather than live
// streams. A clip containing no recognisable speech yields an empty
// transcript, not an error: the caller treats it as "no speech" and replays
// the question.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/realtalk/pkg/types"
)

// ErrUnsupportedFormat is returned when a provider cannot decode the clip's
// MIME type.
var ErrUnsupportedFormat = errors.New("stt: unsupported audio format")

// Config carries per-request recognition hints.
type Config struct {
	// Language is the BCP-47 language code (e.g. "en"). Empty means the
	// provider default.
	Language string

	// Keywords are words the recogniser should favour, such as the tutor's
	// name or the expected corrected sentence during practice.
	Keywords []string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe recognises the speech in clip. It returns a final Transcript,
	// whose Text is empty when no speech was detected.
	Transcribe(ctx context.Context, clip types.AudioClip, cfg Config) (types.Transcript, error)
}
