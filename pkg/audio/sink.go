// Package audio defines where synthesized tutor speech is played and the PCM
// helpers used to prepare learner recordings for speech recognition.
//
// A [Sink] is the audio output of one lesson: the browser behind the lesson
// WebSocket, or an in-memory recorder in tests. Play hands over one clip and
// blocks until the sink reports that playback ended, so callers express
// "speak, then listen" as plain sequential code and bound the wait with a
// context deadline.
package audio

import (
	"context"

	"github.com/MrWong99/realtalk/pkg/types"
)

// Playback is one piece of speech sent to a [Sink].
type Playback struct {
	// Seq is the speech request sequence number. It increases monotonically
	// within a lesson; the client echoes it when playback ends.
	Seq uint64

	// Text is what is being said, for captions.
	Text string

	// Clip is the synthesized audio.
	Clip types.AudioClip
}

// Sink renders speech.
//
// Implementations must be safe for concurrent use.
type Sink interface {
	// Play starts p and blocks until the sink reports the end of playback,
	// ctx is done, or the sink is closed. It returns ctx.Err() when ctx ends
	// first.
	Play(ctx context.Context, p Playback) error

	// Stop cuts off whatever is playing. Stop with nothing playing is a no-op.
	Stop()
}
