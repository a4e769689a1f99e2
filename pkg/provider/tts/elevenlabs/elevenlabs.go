// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs streaming WebSocket API. It implements the tts.Provider interface.
//
// Each Synthesize call opens one socket, sends the line as a single text
// message followed by a flush, and collects the audio chunks until the server
// marks the stream final.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/realtalk/pkg/provider/tts"
	"github.com/MrWong99/realtalk/pkg/types"
)

const (
	defaultBaseURL   = "wss://api.elevenlabs.io"
	wsPathFmt        = "/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "mp3_44100_128"
)

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g., "mp3_44100_128", "pcm_16000").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithBaseURL overrides the WebSocket base URL (scheme and host).
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(url, "/")
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	baseURL      string
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		baseURL:      defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"` // error or info
	Error   string `json:"error,omitempty"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (types.AudioClip, error) {
	if strings.TrimSpace(text) == "" {
		return types.AudioClip{}, tts.ErrEmptyText
	}
	if voice.ID == "" {
		return types.AudioClip{}, errors.New("elevenlabs: voice.ID must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, p.buildURL(voice.ID), nil)
	if err != nil {
		return types.AudioClip{}, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// The first message authenticates and must carry non-empty text.
	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75, Speed: clampSpeed(voice.SpeedFactor)}
	for _, msg := range []textMessage{
		{Text: " ", VoiceSettings: vs, XiAPIKey: p.apiKey},
		{Text: text + " "},
		{Text: ""},
	} {
		if err := writeJSON(ctx, conn, msg); err != nil {
			return types.AudioClip{}, fmt.Errorf("elevenlabs: send: %w", err)
		}
	}

	var audio []byte
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure && len(audio) > 0 {
				break
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return types.AudioClip{}, ctxErr
			}
			return types.AudioClip{}, fmt.Errorf("elevenlabs: read: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		if resp.Error != "" {
			return types.AudioClip{}, fmt.Errorf("elevenlabs: server error: %s", resp.Error)
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				continue
			}
			audio = append(audio, chunk...)
		}
		if resp.IsFinal {
			break
		}
	}

	clip := clipFor(p.outputFormat)
	clip.Data = audio
	return clip, nil
}

// ---- helpers ----

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// buildURL constructs the WebSocket URL for a given voice.
func (p *Provider) buildURL(voiceID string) string {
	return p.baseURL + fmt.Sprintf(wsPathFmt, voiceID, p.model, p.outputFormat)
}

// clampSpeed maps a VoiceProfile speed factor into the 0.7–1.2 range the
// ElevenLabs API accepts. Zero leaves the voice default.
func clampSpeed(f float64) float64 {
	switch {
	case f == 0:
		return 0
	case f < 0.7:
		return 0.7
	case f > 1.2:
		return 1.2
	default:
		return f
	}
}

// clipFor derives the MIME type and sample rate from an ElevenLabs output
// format string such as "mp3_44100_128" or "pcm_16000".
func clipFor(format string) types.AudioClip {
	parts := strings.Split(format, "_")
	switch parts[0] {
	case "pcm":
		rate := 16000
		if len(parts) > 1 {
			if r, err := strconv.Atoi(parts[1]); err == nil {
				rate = r
			}
		}
		return types.AudioClip{MIMEType: types.MIMEPCM, SampleRate: rate, Channels: 1}
	case "ulaw":
		return types.AudioClip{MIMEType: "audio/basic"}
	case "opus":
		return types.AudioClip{MIMEType: "audio/ogg"}
	default:
		return types.AudioClip{MIMEType: "audio/mpeg"}
	}
}
