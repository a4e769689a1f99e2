// Package openai provides an STT provider backed by the OpenAI audio
// transcription endpoint (whisper-1 and the gpt-4o transcribe models).
//
// Browser recordings arrive as webm/opus and are forwarded unchanged. Raw PCM
// is wrapped in a WAV header first since the endpoint requires a container.
package openai

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/realtalk/pkg/audio"
	"github.com/MrWong99/realtalk/pkg/provider/stt"
	"github.com/MrWong99/realtalk/pkg/types"
)

const (
	defaultModel      = "whisper-1"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI transcription endpoint.
type Provider struct {
	client   oai.Client
	model    string
	language string
}

type config struct {
	baseURL  string
	model    string
	language string
	timeout  time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel sets the transcription model.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithLanguage sets the default recognition language.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a new OpenAI STT Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	cfg := &config{model: defaultModel, language: defaultLanguage}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    cfg.model,
		language: cfg.language,
	}, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, clip types.AudioClip, cfg stt.Config) (types.Transcript, error) {
	if len(clip.Data) == 0 {
		return types.Transcript{IsFinal: true}, nil
	}

	data, mime, name := clip.Data, clip.MIMEType, filenameFor(clip.MIMEType)
	if clip.IsPCM() {
		data, mime, name = wrapWAV(clip), "audio/wav", "audio.wav"
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	params := oai.AudioTranscriptionNewParams{
		File:     oai.File(bytes.NewReader(data), name, mime),
		Model:    oai.AudioModel(p.model),
		Language: param.NewOpt(lang),
	}
	if len(cfg.Keywords) > 0 {
		params.Prompt = param.NewOpt(strings.Join(cfg.Keywords, ", "))
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("openai stt: transcribe: %w", err)
	}
	return types.Transcript{Text: strings.TrimSpace(resp.Text), IsFinal: true}, nil
}

// filenameFor picks an upload filename whose extension the endpoint uses to
// detect the container.
func filenameFor(mime string) string {
	base, _, _ := strings.Cut(mime, ";")
	switch strings.TrimSpace(base) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "audio.wav"
	case "audio/mpeg", "audio/mp3":
		return "audio.mp3"
	case "audio/ogg":
		return "audio.ogg"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return "audio.m4a"
	default:
		return "audio.webm"
	}
}

// wrapWAV puts 16-bit PCM in a WAV container. Unknown rate and channel
// count default to 16 kHz mono.
func wrapWAV(clip types.AudioClip) []byte {
	return audio.EncodeWAV(clip.Data, audio.Format{
		SampleRate: cmp.Or(max(clip.SampleRate, 0), defaultSampleRate),
		Channels:   cmp.Or(max(clip.Channels, 0), 1),
	})
}
