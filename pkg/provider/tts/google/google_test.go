package google

import (
	"context"
	"errors"
	"testing"

	gax "github.com/googleapis/gax-go/v2"
	texttospeechpb "google.golang.org/genproto/googleapis/cloud/texttospeech/v1"

	"github.com/MrWong99/realtalk/pkg/types"
)

type fakeClient struct {
	req   *texttospeechpb.SynthesizeSpeechRequest
	audio []byte
	err   error
}

func (f *fakeClient) SynthesizeSpeech(_ context.Context, req *texttospeechpb.SynthesizeSpeechRequest, _ ...gax.CallOption) (*texttospeechpb.SynthesizeSpeechResponse, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &texttospeechpb.SynthesizeSpeechResponse{AudioContent: f.audio}, nil
}

func (f *fakeClient) Close() error { return nil }

func TestSynthesize(t *testing.T) {
	t.Parallel()
	fc := &fakeClient{audio: []byte("mp3")}
	p := &Provider{client: fc}

	clip, err := p.Synthesize(context.Background(), "Good! What do you do after school?", types.VoiceProfile{SpeedFactor: 0.77})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(clip.Data) != "mp3" || clip.MIMEType != "audio/mpeg" {
		t.Errorf("clip = %q (%s)", clip.Data, clip.MIMEType)
	}
	if got := fc.req.GetVoice().GetName(); got != defaultVoice {
		t.Errorf("voice = %q, want %q", got, defaultVoice)
	}
	if got := fc.req.GetVoice().GetLanguageCode(); got != "en-US" {
		t.Errorf("language = %q, want en-US", got)
	}
	if got := fc.req.GetAudioConfig().GetSpeakingRate(); got != 0.77 {
		t.Errorf("speaking rate = %v, want 0.77", got)
	}
}

func TestSynthesize_Errors(t *testing.T) {
	t.Parallel()
	p := &Provider{client: &fakeClient{err: errors.New("unavailable")}}
	if _, err := p.Synthesize(context.Background(), "hi", types.VoiceProfile{}); err == nil {
		t.Error("expected error from client")
	}
	p = &Provider{client: &fakeClient{}}
	if _, err := p.Synthesize(context.Background(), "hi", types.VoiceProfile{}); err == nil {
		t.Error("expected error for empty audio")
	}
}

func TestLanguageOf(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"en-GB-Wavenet-A": "en-GB",
		"ko-KR-Neural2-A": "ko-KR",
		"weird":           "en-US",
	}
	for in, want := range tests {
		if got := languageOf(in); got != want {
			t.Errorf("languageOf(%q) = %q, want %q", in, got, want)
		}
	}
}
