// Package google provides a TTS provider backed by Google Cloud Text-to-Speech.
//
// Credentials come from Application Default Credentials unless a service
// account file is supplied with WithCredentialsFile.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	gax "github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	texttospeechpb "google.golang.org/genproto/googleapis/cloud/texttospeech/v1"

	"github.com/MrWong99/realtalk/pkg/provider/tts"
	"github.com/MrWong99/realtalk/pkg/types"
)

const (
	defaultVoice    = "en-US-Standard-F"
	defaultLanguage = "en-US"
)

var _ tts.Provider = (*Provider)(nil)

// speechClient is the subset of *texttospeech.Client used by Provider.
type speechClient interface {
	SynthesizeSpeech(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest, opts ...gax.CallOption) (*texttospeechpb.SynthesizeSpeechResponse, error)
	Close() error
}

// Option is a functional option for New.
type Option func(*settings)

type settings struct {
	credentialsFile string
}

// WithCredentialsFile authenticates with the given service account JSON file.
func WithCredentialsFile(path string) Option {
	return func(s *settings) { s.credentialsFile = path }
}

// Provider implements tts.Provider using Google Cloud Text-to-Speech.
type Provider struct {
	client speechClient
}

// New dials the Text-to-Speech API. The caller must Close the provider.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	s := &settings{}
	for _, o := range opts {
		o(s)
	}
	var clientOpts []option.ClientOption
	if s.credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(s.credentialsFile))
	}
	client, err := texttospeech.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("google tts: new client: %w", err)
	}
	return &Provider{client: client}, nil
}

// Close releases the underlying gRPC connection.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Synthesize implements tts.Provider. The result is MP3 encoded.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (types.AudioClip, error) {
	if strings.TrimSpace(text) == "" {
		return types.AudioClip{}, tts.ErrEmptyText
	}
	resp, err := p.client.SynthesizeSpeech(ctx, buildRequest(text, voice))
	if err != nil {
		return types.AudioClip{}, fmt.Errorf("google tts: synthesize: %w", err)
	}
	if len(resp.GetAudioContent()) == 0 {
		return types.AudioClip{}, errors.New("google tts: empty audio content")
	}
	return types.AudioClip{Data: resp.GetAudioContent(), MIMEType: "audio/mpeg"}, nil
}

// buildRequest maps a VoiceProfile onto a synthesis request. Voice names
// carry their language as prefix ("en-US-Standard-F").
func buildRequest(text string, voice types.VoiceProfile) *texttospeechpb.SynthesizeSpeechRequest {
	name := voice.ID
	if name == "" {
		name = defaultVoice
	}
	lang := voice.Language
	if lang == "" {
		lang = languageOf(name)
	}
	return &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: lang,
			Name:         name,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
			SpeakingRate:  voice.SpeedFactor,
		},
	}
}

func languageOf(voiceName string) string {
	parts := strings.SplitN(voiceName, "-", 3)
	if len(parts) < 3 {
		return defaultLanguage
	}
	return parts[0] + "-" + parts[1]
}
