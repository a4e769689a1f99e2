package whisper

// Building this file needs libwhisper.a and whisper.h on LIBRARY_PATH and
// C_INCLUDE_PATH.

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/realtalk/pkg/provider/stt"
	"github.com/MrWong99/realtalk/pkg/types"
)

var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider runs whisper.cpp in-process. One model serves every lesson
// and recordings are transcribed one at a time. It accepts PCM and WAV
// clips only.
type NativeProvider struct {
	model    whisperlib.Model
	language string
	mu       sync.Mutex // guards inference
}

// NativeOption configures a [NativeProvider].
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the default recognition language. Default: "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// NewNative loads the model at modelPath. Close releases it.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements stt.Provider.
func (p *NativeProvider) Transcribe(ctx context.Context, clip types.AudioClip, cfg stt.Config) (types.Transcript, error) {
	pcm, _, channels, err := pcmOf(clip)
	if err != nil {
		return types.Transcript{}, err
	}
	if silent(pcm) {
		return types.Transcript{IsFinal: true}, nil
	}
	if err := ctx.Err(); err != nil {
		return types.Transcript{}, err
	}

	text, err := p.infer(monoFloat32(pcm, channels), cmp.Or(cfg.Language, p.language))
	if err != nil {
		return types.Transcript{}, err
	}
	return types.Transcript{Text: text, IsFinal: true}, nil
}

// infer transcribes mono float32 samples in a fresh context and joins the
// segments.
func (p *NativeProvider) infer(samples []float32, lang string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: new context: %w", err)
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: unsupported language, model default used", "language", lang, "error", err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: inference: %w", err)
	}

	var text strings.Builder
	for {
		seg, err := wctx.NextSegment()
		switch {
		case errors.Is(err, io.EOF):
			return text.String(), nil
		case err != nil:
			return "", fmt.Errorf("whisper: segment: %w", err)
		}
		if s := strings.TrimSpace(seg.Text); s != "" {
			if text.Len() > 0 {
				text.WriteByte(' ')
			}
			text.WriteString(s)
		}
	}
}
