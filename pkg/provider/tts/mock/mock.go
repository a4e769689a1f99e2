// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio clips to consumers and to verify that
// the correct text and VoiceProfile are passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{Clip: types.AudioClip{Data: []byte("mp3"), MIMEType: "audio/mpeg"}}
//	clip, _ := p.Synthesize(ctx, "Hi! I'm Cathy.", voice)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/realtalk/pkg/provider/tts"
	"github.com/MrWong99/realtalk/pkg/types"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the VoiceProfile passed to Synthesize.
	Voice types.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizeFunc, if set, computes the result of each call and takes
	// precedence over Clip and Err. It may block on ctx to simulate latency.
	SynthesizeFunc func(ctx context.Context, text string) (types.AudioClip, error)

	// Clip is returned by Synthesize. When Clip.Data is nil the text itself
	// is returned as the audio payload.
	Clip types.AudioClip

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// --- Call records ---

	// Calls records every call to Synthesize in order.
	Calls []SynthesizeCall
}

// Synthesize records the call and returns the configured clip.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (types.AudioClip, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, SynthesizeCall{Text: text, Voice: voice})
	fn, clip, err := p.SynthesizeFunc, p.Clip, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	if err != nil {
		return types.AudioClip{}, err
	}
	if clip.Data == nil {
		clip = types.AudioClip{Data: []byte(text), MIMEType: "audio/mpeg"}
	}
	return clip, nil
}

// Texts returns the texts passed to Synthesize, in order. Thread-safe.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

var _ tts.Provider = (*Provider)(nil)
