// Package coqui speaks through a self-hosted Coqui TTS server, for classrooms
// without cloud credentials.
//
// Two server flavours are supported: the standard Coqui TTS server
// (ghcr.io/coqui-ai/tts-cpu, GET /api/tts) and the XTTS v2 API server
// (POST /tts_to_audio/, voice cloned from a speaker WAV). Both answer with a
// WAV file that is passed through unchanged.
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/realtalk/pkg/audio"
	"github.com/MrWong99/realtalk/pkg/provider/tts"
	"github.com/MrWong99/realtalk/pkg/types"
)

var _ tts.Provider = (*Provider)(nil)

const (
	apiTTSEndpoint = "/api/tts"
	xttsEndpoint   = "/tts_to_audio/"
)

// Coqui's stock voices render at 22.05 kHz mono.
var defaultFormat = audio.Format{SampleRate: 22050, Channels: 1}

// APIMode selects the server flavour.
type APIMode string

const (
	APIModeStandard APIMode = "standard"
	APIModeXTTS     APIMode = "xtts"
)

// Option configures a [Provider].
type Option func(*Provider)

// WithLanguage sets the language sent with every request. Default: "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithTimeout bounds one synthesis request. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.client.Timeout = d }
}

// WithAPIMode selects the server flavour. Default: [APIModeStandard].
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.mode = mode }
}

// Provider implements [tts.Provider]. It is safe for concurrent use.
type Provider struct {
	baseURL  string
	language string
	mode     APIMode
	client   *http.Client
}

// New returns a provider for the server at baseURL, e.g.
// "http://localhost:5002".
func New(baseURL string, opts ...Option) (*Provider, error) {
	if baseURL == "" {
		return nil, errors.New("coqui: server URL is required")
	}
	p := &Provider{
		baseURL:  strings.TrimRight(baseURL, "/"),
		language: "en",
		mode:     APIModeStandard,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize implements [tts.Provider]. In XTTS mode voice.ID names the
// speaker WAV on the server and is required.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (types.AudioClip, error) {
	if strings.TrimSpace(text) == "" {
		return types.AudioClip{}, tts.ErrEmptyText
	}
	req, err := p.request(ctx, text, voice)
	if err != nil {
		return types.AudioClip{}, err
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.client.Do(req)
	if err != nil {
		return types.AudioClip{}, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return types.AudioClip{}, fmt.Errorf("coqui: %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.AudioClip{}, fmt.Errorf("coqui: read response: %w", err)
	}

	w, err := audio.DecodeWAV(body)
	if err != nil {
		return types.AudioClip{}, fmt.Errorf("coqui: %w", err)
	}
	f := w.Format
	if f.SampleRate == 0 {
		f = defaultFormat
	}
	return types.AudioClip{Data: body, MIMEType: "audio/wav", SampleRate: f.SampleRate, Channels: f.Channels}, nil
}

func (p *Provider) request(ctx context.Context, text string, voice types.VoiceProfile) (*http.Request, error) {
	if p.mode != APIModeXTTS {
		q := url.Values{"text": {text}}
		if voice.ID != "" {
			q.Set("speaker_id", voice.ID)
		}
		if p.language != "" {
			q.Set("language_id", p.language)
		}
		return http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+apiTTSEndpoint+"?"+q.Encode(), nil)
	}

	if voice.ID == "" {
		return nil, errors.New("coqui: xtts mode needs a speaker voice ID")
	}
	body, err := json.Marshal(xttsRequest{Text: text, SpeakerWav: voice.ID, Language: p.language})
	if err != nil {
		return nil, fmt.Errorf("coqui: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+xttsEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

type xttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}
