// Package tts defines the Provider interface for text-to-speech backends.
//
// A TTS provider turns one tutor line into a complete audio clip in a given
// voice. Lines in a lesson are short (one or two sentences), so providers
// return the whole clip rather than a stream; streaming backends collect
// their chunks before returning.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/MrWong99/realtalk/pkg/types"
)

// ErrEmptyText is returned when Synthesize is called with blank text.
var ErrEmptyText = errors.New("tts: text must not be empty")

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text in the given voice and returns the encoded audio.
	// voice.SpeedFactor of zero means the provider's default rate.
	//
	// Returns promptly with ctx.Err() when ctx is cancelled.
	Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (types.AudioClip, error)
}
