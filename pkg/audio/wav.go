package audio

import (
	"encoding/binary"
	"errors"
)

// ErrNotWAV is returned by [DecodeWAV] for data that is not a RIFF/WAVE file
// with a data chunk.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE file")

// WAV is a decoded RIFF/WAVE file.
type WAV struct {
	// Format is zero when the file has no fmt chunk.
	Format        Format
	BitsPerSample int
	PCM           []byte
}

// DecodeWAV walks the RIFF chunks of b. Chunks other than "fmt " and "data"
// are skipped, so files with LIST or fact chunks decode too. PCM aliases b.
func DecodeWAV(b []byte) (WAV, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return WAV{}, ErrNotWAV
	}
	var w WAV
	for off := 12; off+8 <= len(b); {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		switch id {
		case "fmt ":
			if size >= 16 && body+16 <= len(b) {
				w.Format.Channels = int(binary.LittleEndian.Uint16(b[body+2:]))
				w.Format.SampleRate = int(binary.LittleEndian.Uint32(b[body+4:]))
				w.BitsPerSample = int(binary.LittleEndian.Uint16(b[body+14:]))
			}
		case "data":
			w.PCM = b[body:min(body+size, len(b))]
			return w, nil
		}
		// Chunks are padded to an even size.
		off = body + size + size%2
	}
	return WAV{}, ErrNotWAV
}

// EncodeWAV wraps 16-bit little-endian PCM in a 44-byte WAV header.
func EncodeWAV(pcm []byte, f Format) []byte {
	const bits = 16
	block := f.Channels * bits / 8
	out := make([]byte, 44, 44+len(pcm))
	copy(out[0:], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(36+len(pcm)))
	copy(out[8:], "WAVEfmt ")
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 1)
	binary.LittleEndian.PutUint16(out[22:], uint16(f.Channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(f.SampleRate*block))
	binary.LittleEndian.PutUint16(out[32:], uint16(block))
	binary.LittleEndian.PutUint16(out[34:], bits)
	copy(out[36:], "data")
	binary.LittleEndian.PutUint32(out[40:], uint32(len(pcm)))
	return append(out, pcm...)
}
