package resilience

import (
	"context"

	"github.com/MrWong99/realtalk/pkg/provider/llm"
	"github.com/MrWong99/realtalk/pkg/provider/stt"
	"github.com/MrWong99/realtalk/pkg/provider/tts"
	"github.com/MrWong99/realtalk/pkg/types"
)

var (
	_ llm.Provider = (*LLMFallback)(nil)
	_ stt.Provider = (*STTFallback)(nil)
	_ tts.Provider = (*TTSFallback)(nil)
)

// LLMFallback is an [llm.Provider] that fails over between backends. When
// every backend fails the error still wraps the last backend's error, so a
// final [llm.ErrRateLimited] stays visible to the evaluator.
type LLMFallback struct{ *FallbackGroup[llm.Provider] }

// NewLLMFallback returns an [LLMFallback] that prefers primary.
func NewLLMFallback(primary llm.Provider, name string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{NewFallbackGroup(primary, name, cfg)}
}

func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.FallbackGroup, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Capabilities reports the primary's model.
func (f *LLMFallback) Capabilities() types.ModelCapabilities {
	return f.Primary().Capabilities()
}

// STTFallback is an [stt.Provider] that fails over between recognisers. An
// empty transcript is an answer, not a failure.
type STTFallback struct{ *FallbackGroup[stt.Provider] }

// NewSTTFallback returns an [STTFallback] that prefers primary.
func NewSTTFallback(primary stt.Provider, name string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{NewFallbackGroup(primary, name, cfg)}
}

func (f *STTFallback) Transcribe(ctx context.Context, clip types.AudioClip, cfg stt.Config) (types.Transcript, error) {
	return ExecuteWithResult(f.FallbackGroup, func(p stt.Provider) (types.Transcript, error) {
		return p.Transcribe(ctx, clip, cfg)
	})
}

// TTSFallback is a [tts.Provider] that fails over between voices.
type TTSFallback struct{ *FallbackGroup[tts.Provider] }

// NewTTSFallback returns a [TTSFallback] that prefers primary.
func NewTTSFallback(primary tts.Provider, name string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{NewFallbackGroup(primary, name, cfg)}
}

// Synthesize rejects empty text before any backend sees it, so it never
// counts against a breaker.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (types.AudioClip, error) {
	if text == "" {
		return types.AudioClip{}, tts.ErrEmptyText
	}
	return ExecuteWithResult(f.FallbackGroup, func(p tts.Provider) (types.AudioClip, error) {
		return p.Synthesize(ctx, text, voice)
	})
}
