package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MrWong99/realtalk/pkg/types"
)

// Format describes the sample rate and channel count of PCM audio.
type Format struct {
	SampleRate int
	Channels   int
}

// STTFormat is what speech recognisers expect: 16 kHz mono.
var STTFormat = Format{SampleRate: 16000, Channels: 1}

// ErrOddLength is returned for PCM data that is not a whole number of int16
// samples.
var ErrOddLength = errors.New("audio: odd byte count in 16-bit PCM data")

// ErrChannels is returned by [Convert] for layouts other than mono and stereo.
var ErrChannels = errors.New("audio: unsupported channel count")

// Convert brings a PCM clip to target. Container clips (webm, wav, mp3, ...)
// are returned unchanged; decoding them is the recogniser's job. A missing
// sample rate means the clip is already at the target rate, a missing
// channel count means mono. Channels are remixed before resampling so the
// resampler works on as few channels as possible when downmixing.
func Convert(clip types.AudioClip, target Format) (types.AudioClip, error) {
	if !clip.IsPCM() {
		return clip, nil
	}
	if len(clip.Data)%2 != 0 {
		return types.AudioClip{}, ErrOddLength
	}
	src := Format{SampleRate: clip.SampleRate, Channels: clip.Channels}
	if src.SampleRate <= 0 {
		src.SampleRate = target.SampleRate
	}
	if src.Channels <= 0 {
		src.Channels = 1
	}
	for _, ch := range []int{src.Channels, target.Channels} {
		if ch < 1 || ch > 2 {
			return types.AudioClip{}, fmt.Errorf("%w %d", ErrChannels, ch)
		}
	}

	s := Samples(clip.Data)
	s = Remix(s, src.Channels, target.Channels)
	s = Resample(s, target.Channels, src.SampleRate, target.SampleRate)
	return types.AudioClip{
		Data:       encode(s),
		MIMEType:   types.MIMEPCM,
		SampleRate: target.SampleRate,
		Channels:   target.Channels,
	}, nil
}

// Duration returns the playing time of a PCM clip, or zero for other clips.
func Duration(clip types.AudioClip) time.Duration {
	if !clip.IsPCM() || clip.SampleRate <= 0 {
		return 0
	}
	frames := len(clip.Data) / (2 * max(clip.Channels, 1))
	return time.Duration(frames) * time.Second / time.Duration(clip.SampleRate)
}

// Remix converts interleaved samples between channel counts. Downmixing
// averages the channels of each frame; upmixing copies each sample to every
// output channel. A trailing partial frame is dropped.
func Remix(s []int16, from, to int) []int16 {
	if from == to || from <= 0 || to <= 0 {
		return s
	}
	frames := len(s) / from
	out := make([]int16, frames*to)
	for f := range frames {
		var sum int32
		for c := range from {
			sum += int32(s[f*from+c])
		}
		v := int16(sum / int32(from))
		for c := range to {
			out[f*to+c] = v
		}
	}
	return out
}

// Resample converts interleaved samples from srcRate to dstRate by linear
// interpolation between neighbouring frames. Invalid rates leave s unchanged.
func Resample(s []int16, channels, srcRate, dstRate int) []int16 {
	if srcRate == dstRate || srcRate <= 0 || dstRate <= 0 || channels <= 0 {
		return s
	}
	srcFrames := len(s) / channels
	if srcFrames == 0 {
		return s
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	out := make([]int16, dstFrames*channels)
	step := float64(srcRate) / float64(dstRate)
	for f := range dstFrames {
		pos := float64(f) * step
		i := int(pos)
		frac := pos - float64(i)
		next := min(i+1, srcFrames-1)
		for c := range channels {
			a, b := float64(s[i*channels+c]), float64(s[next*channels+c])
			out[f*channels+c] = int16(math.Round(a + (b-a)*frac))
		}
	}
	return out
}

// RMS is the root-mean-square level of s, in sample units. An empty slice
// has level 0.
func RMS(s []int16) float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(s)))
}

// Samples reads 16-bit little-endian PCM. A trailing odd byte is ignored.
func Samples(b []byte) []int16 {
	s := make([]int16, len(b)/2)
	for i := range s {
		s[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return s
}

func encode(s []int16) []byte {
	b := make([]byte, 2*len(s))
	for i, v := range s {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(v))
	}
	return b
}
