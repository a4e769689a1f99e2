// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to verify that the caller transcribes the expected clips and to
// feed controlled transcripts back.
//
// Example:
//
//	p := &mock.Provider{Results: []string{"My name is Jake."}}
//	tr, _ := p.Transcribe(ctx, clip, stt.Config{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/realtalk/pkg/provider/stt"
	"github.com/MrWong99/realtalk/pkg/types"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	Clip types.AudioClip
	Cfg  stt.Config
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Results are returned in order, one per call. After they run out the
	// last entry repeats; with no entries the text is empty.
	Results []string

	// Err, if non-nil, is returned from every call.
	Err error

	// Calls records every call to Transcribe in order.
	Calls []TranscribeCall

	next int
}

// Transcribe records the call and returns the next configured result.
func (p *Provider) Transcribe(_ context.Context, clip types.AudioClip, cfg stt.Config) (types.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, TranscribeCall{Clip: clip, Cfg: cfg})
	if p.Err != nil {
		return types.Transcript{}, p.Err
	}
	var text string
	if n := len(p.Results); n > 0 {
		i := min(p.next, n-1)
		text = p.Results[i]
		p.next++
	}
	return types.Transcript{Text: text, IsFinal: true, Confidence: 1}, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

var _ stt.Provider = (*Provider)(nil)
