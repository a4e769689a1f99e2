package whisper

import (
	"cmp"
	"fmt"

	"github.com/MrWong99/realtalk/pkg/audio"
	"github.com/MrWong99/realtalk/pkg/provider/stt"
	"github.com/MrWong99/realtalk/pkg/types"
)

// silenceRMS is the level under which a recording holds no speech. Full
// scale is 32767.
const silenceRMS = 300.0

// pcmOf returns the 16-bit PCM of a raw or WAV clip with its rate and
// channel count. Unknown values default to 16 kHz mono.
func pcmOf(clip types.AudioClip) (pcm []byte, sampleRate, channels int, err error) {
	f := audio.Format{SampleRate: clip.SampleRate, Channels: clip.Channels}
	switch clip.MIMEType {
	case types.MIMEPCM:
		pcm = clip.Data
	case "audio/wav", "audio/x-wav", "audio/wave":
		w, err := audio.DecodeWAV(clip.Data)
		if err != nil {
			return nil, 0, 0, fmt.Errorf("whisper: %w", err)
		}
		if w.BitsPerSample != 0 && w.BitsPerSample != 16 {
			return nil, 0, 0, fmt.Errorf("whisper: %w: %d-bit WAV", stt.ErrUnsupportedFormat, w.BitsPerSample)
		}
		pcm, f = w.PCM, w.Format
	default:
		return nil, 0, 0, fmt.Errorf("whisper: %w %q", stt.ErrUnsupportedFormat, clip.MIMEType)
	}
	return pcm, cmp.Or(max(f.SampleRate, 0), defaultSampleRate), cmp.Or(max(f.Channels, 0), 1), nil
}

func silent(pcm []byte) bool {
	return audio.RMS(audio.Samples(pcm)) < silenceRMS
}

// monoFloat32 downmixes interleaved PCM and scales it to [-1, 1) for
// whisper.cpp.
func monoFloat32(pcm []byte, channels int) []float32 {
	s := audio.Remix(audio.Samples(pcm), channels, 1)
	out := make([]float32, len(s))
	for i, v := range s {
		out[i] = float32(v) / 32768
	}
	return out
}
