// Package openai provides a TTS provider backed by the OpenAI speech API.
//
// The tutor voice defaults to "nova" at 0.77x speed, slow enough for young
// learners to follow.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/realtalk/pkg/provider/tts"
	"github.com/MrWong99/realtalk/pkg/types"
)

const (
	defaultModel = "tts-1"
	defaultVoice = "nova"
	defaultSpeed = 0.77
)

var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI audio speech endpoint.
type Provider struct {
	client oai.Client
	model  string
}

type config struct {
	baseURL string
	model   string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel sets the speech model (e.g., "tts-1", "gpt-4o-mini-tts").
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a new OpenAI TTS Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	cfg := &config{model: defaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

// Synthesize implements tts.Provider. The result is MP3 encoded.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (types.AudioClip, error) {
	if strings.TrimSpace(text) == "" {
		return types.AudioClip{}, tts.ErrEmptyText
	}

	resp, err := p.client.Audio.Speech.New(ctx, buildParams(p.model, text, voice))
	if err != nil {
		return types.AudioClip{}, fmt.Errorf("openai tts: speech: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.AudioClip{}, fmt.Errorf("openai tts: read audio: %w", err)
	}
	return types.AudioClip{Data: data, MIMEType: "audio/mpeg"}, nil
}

// buildParams converts the voice profile into SDK params, applying the tutor
// defaults for unset fields.
func buildParams(model, text string, voice types.VoiceProfile) oai.AudioSpeechNewParams {
	id := voice.ID
	if id == "" {
		id = defaultVoice
	}
	speed := voice.SpeedFactor
	if speed == 0 {
		speed = defaultSpeed
	}
	return oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(model),
		Voice:          oai.AudioSpeechNewParamsVoice(id),
		Speed:          param.NewOpt(speed),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatMP3,
	}
}
