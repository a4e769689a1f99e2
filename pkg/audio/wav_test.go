package audio_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/MrWong99/realtalk/pkg/audio"
)

func TestEncodeDecodeWAV(t *testing.T) {
	t.Parallel()

	pcm := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	f := audio.Format{SampleRate: 22050, Channels: 2}
	b := audio.EncodeWAV(pcm, f)
	if len(b) != 44+len(pcm) {
		t.Fatalf("len = %d, want %d", len(b), 44+len(pcm))
	}

	w, err := audio.DecodeWAV(b)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if w.Format != f || w.BitsPerSample != 16 || !bytes.Equal(w.PCM, pcm) {
		t.Errorf("decoded %+v", w)
	}
}

func TestDecodeWAV_SkipsUnknownChunks(t *testing.T) {
	t.Parallel()

	plain := audio.EncodeWAV([]byte{7, 0}, audio.STTFormat)
	// Insert an odd-sized LIST chunk (padded to 4 bytes) between fmt and data.
	list := []byte{'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0}
	b := append(append(append([]byte{}, plain[:36]...), list...), plain[36:]...)
	binary.LittleEndian.PutUint32(b[4:], uint32(len(b)-8))

	w, err := audio.DecodeWAV(b)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if w.Format != audio.STTFormat || !bytes.Equal(w.PCM, []byte{7, 0}) {
		t.Errorf("decoded %+v", w)
	}
}

func TestDecodeWAV_Invalid(t *testing.T) {
	t.Parallel()

	tests := map[string][]byte{
		"empty":         nil,
		"not RIFF":      []byte("RIFX0000WAVE"),
		"not WAVE":      []byte("RIFF0000WAVX"),
		"no data chunk": audio.EncodeWAV(nil, audio.STTFormat)[:36],
	}
	for name, b := range tests {
		if _, err := audio.DecodeWAV(b); !errors.Is(err, audio.ErrNotWAV) {
			t.Errorf("%s: err = %v, want ErrNotWAV", name, err)
		}
	}
}

func TestDecodeWAV_TruncatedData(t *testing.T) {
	t.Parallel()

	b := audio.EncodeWAV([]byte{1, 0, 2, 0}, audio.STTFormat)
	w, err := audio.DecodeWAV(b[:46])
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if len(w.PCM) != 2 {
		t.Errorf("len(PCM) = %d, want the 2 bytes present", len(w.PCM))
	}
}
