// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
//
// A recorded clip is pushed through one streaming session: the audio is sent
// in chunks, followed by a CloseStream message, and the final results are
// joined as they arrive until Deepgram closes the socket.
package deepgram

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/realtalk/pkg/provider/stt"
	"github.com/MrWong99/realtalk/pkg/types"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// sendChunkSize bounds each binary frame written to the socket.
	sendChunkSize = 8 * 1024
)

var _ stt.Provider = (*Provider)(nil)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel selects the recognition model. Default: nova-3.
func WithModel(model string) Option { return func(p *Provider) { p.model = model } }

// WithLanguage sets the default recognition language. A language in
// [stt.Config] wins over it.
func WithLanguage(lang string) Option { return func(p *Provider) { p.language = lang } }

// WithEndpoint points the provider at another listen endpoint, such as a
// self-hosted Deepgram or a test server.
func WithEndpoint(endpoint string) Option { return func(p *Provider) { p.endpoint = endpoint } }

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, clip types.AudioClip, cfg stt.Config) (types.Transcript, error) {
	if len(clip.Data) == 0 {
		return types.Transcript{IsFinal: true}, nil
	}

	wsURL, err := p.listenURL(clip, cfg)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	// Results stream back while audio is still being written.
	type readResult struct {
		tr  types.Transcript
		err error
	}
	done := make(chan readResult, 1)
	go func() {
		tr, err := collectFinals(ctx, conn)
		done <- readResult{tr, err}
	}()

	for data := clip.Data; len(data) > 0; {
		n := min(sendChunkSize, len(data))
		if err := conn.Write(ctx, websocket.MessageBinary, data[:n]); err != nil {
			return types.Transcript{}, fmt.Errorf("deepgram: send audio: %w", err)
		}
		data = data[n:]
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: close stream: %w", err)
	}

	select {
	case r := <-done:
		conn.Close(websocket.StatusNormalClosure, "clip transcribed")
		return r.tr, r.err
	case <-ctx.Done():
		return types.Transcript{}, ctx.Err()
	}
}

// collectFinals reads Results messages until the server closes the socket and
// joins all final segments into one transcript.
func collectFinals(ctx context.Context, conn *websocket.Conn) (types.Transcript, error) {
	var (
		parts []string
		words []types.WordDetail
		conf  float64
	)
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() != nil {
				return types.Transcript{}, ctx.Err()
			}
			break
		}
		t, ok := decodeResult(msg)
		if !ok || !t.IsFinal {
			continue
		}
		if text := strings.TrimSpace(t.Text); text != "" {
			parts = append(parts, text)
			words = append(words, t.Words...)
			conf += t.Confidence
		}
	}

	tr := types.Transcript{Text: strings.Join(parts, " "), IsFinal: true, Words: words}
	if len(parts) > 0 {
		tr.Confidence = conf / float64(len(parts))
	}
	if n := len(words); n > 0 {
		tr.Duration = words[n-1].End
	}
	return tr, nil
}

// listenURL returns the streaming endpoint with the query for clip. Raw PCM
// needs explicit encoding parameters; containers are detected by Deepgram.
func (p *Provider) listenURL(clip types.AudioClip, cfg stt.Config) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", cmp.Or(cfg.Language, p.language))
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	if clip.IsPCM() {
		q.Set("encoding", "linear16")
		q.Set("sample_rate", strconv.Itoa(cmp.Or(max(clip.SampleRate, 0), defaultSampleRate)))
		q.Set("channels", strconv.Itoa(cmp.Or(max(clip.Channels, 0), 1)))
	}
	// nova-3 takes keyterms, older models boosted keywords.
	keyterms := strings.HasPrefix(p.model, "nova-3")
	for _, kw := range cfg.Keywords {
		if keyterms {
			q.Add("keyterm", kw)
		} else {
			q.Add("keywords", kw+":2")
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type (
	message struct {
		Type    string `json:"type"`
		IsFinal bool   `json:"is_final"`
		Channel struct {
			Alternatives []alternative `json:"alternatives"`
		} `json:"channel"`
	}
	alternative struct {
		Transcript string  `json:"transcript"`
		Confidence float64 `json:"confidence"`
		Words      []word  `json:"words"`
	}
	word struct {
		Word       string  `json:"word"`
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Confidence float64 `json:"confidence"`
	}
)

func seconds(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }

// decodeResult turns a Results message into a transcript. Any other message,
// or one without alternatives, reports false.
func decodeResult(data []byte) (types.Transcript, bool) {
	var msg message
	if json.Unmarshal(data, &msg) != nil || msg.Type != "Results" || len(msg.Channel.Alternatives) == 0 {
		return types.Transcript{}, false
	}
	best := msg.Channel.Alternatives[0]
	tr := types.Transcript{
		Text:       best.Transcript,
		IsFinal:    msg.IsFinal,
		Confidence: best.Confidence,
		Words:      make([]types.WordDetail, len(best.Words)),
	}
	for i, w := range best.Words {
		tr.Words[i] = types.WordDetail{Word: w.Word, Start: seconds(w.Start), End: seconds(w.End), Confidence: w.Confidence}
	}
	return tr, true
}
