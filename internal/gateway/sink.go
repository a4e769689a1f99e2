package gateway

import (
	"context"
	"errors"
	"mime"
	"strconv"
	"sync"

	"github.com/MrWong99/realtalk/pkg/audio"
)

var _ audio.Sink = (*wsSink)(nil)

var errSinkClosed = errors.New("gateway: lesson closed")

// wsSink plays speech in the browser. Play sends the clip as an audio
// message and waits for the matching playback_ended.
type wsSink struct {
	send func(serverMessage) bool

	mu      sync.Mutex
	waiting map[uint64]chan struct{}
	closed  bool
}

func newSink(send func(serverMessage) bool) *wsSink {
	return &wsSink{send: send, waiting: make(map[uint64]chan struct{})}
}

// Play implements [audio.Sink].
func (s *wsSink) Play(ctx context.Context, p audio.Playback) error {
	ch := make(chan struct{})
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSinkClosed
	}
	s.waiting[p.Seq] = ch
	s.mu.Unlock()
	defer s.forget(p.Seq)

	mt := p.Clip.MIMEType
	if p.Clip.IsPCM() {
		mt = mime.FormatMediaType(mt, map[string]string{
			"rate":     strconv.Itoa(p.Clip.SampleRate),
			"channels": strconv.Itoa(max(p.Clip.Channels, 1)),
		})
	}
	if !s.send(serverMessage{Type: msgAudio, Seq: p.Seq, MIME: mt, Data: p.Clip.Data, Text: p.Text}) {
		return errSinkClosed
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop implements [audio.Sink]. Waiting playbacks are released.
func (s *wsSink) Stop() {
	s.mu.Lock()
	closed := s.closed
	s.releaseLocked()
	s.mu.Unlock()
	if !closed {
		s.send(serverMessage{Type: msgStop})
	}
}

// Finish reports that the browser finished playing seq. Unknown or stale
// sequence numbers are ignored.
func (s *wsSink) Finish(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.waiting[seq]; ok {
		close(ch)
		delete(s.waiting, seq)
	}
}

// Close releases every waiting playback and fails later ones.
func (s *wsSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.releaseLocked()
}

func (s *wsSink) releaseLocked() {
	for seq, ch := range s.waiting {
		close(ch)
		delete(s.waiting, seq)
	}
}

func (s *wsSink) forget(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.waiting, seq)
}
