// Package mock provides an in-memory [audio.Sink] for unit tests.
//
// Sink records every playback so tests can assert on what the tutor said and
// in which order. By default playback ends immediately; set Hold to make Play
// block until the test calls [Sink.Finish] or the context ends.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/realtalk/pkg/audio"
)

var _ audio.Sink = (*Sink)(nil)

// Sink is a mock implementation of [audio.Sink].
type Sink struct {
	mu sync.Mutex

	// Hold makes Play block until Finish, Stop or ctx cancellation.
	Hold bool

	// PlayErr, if non-nil, is returned by Play after recording the call.
	PlayErr error

	// Played records every playback in order.
	Played []audio.Playback

	// StopCount records how many times Stop was called.
	StopCount int

	waiting map[uint64]chan struct{}
	started chan uint64
}

// Started returns a channel that receives the sequence number of every
// playback as it starts. It must be called before the first Play.
func (s *Sink) Started() <-chan uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started == nil {
		s.started = make(chan uint64, 64)
	}
	return s.started
}

// Play implements [audio.Sink].
func (s *Sink) Play(ctx context.Context, p audio.Playback) error {
	s.mu.Lock()
	s.Played = append(s.Played, p)
	err, hold := s.PlayErr, s.Hold
	var done chan struct{}
	if hold {
		if s.waiting == nil {
			s.waiting = make(map[uint64]chan struct{})
		}
		done = make(chan struct{})
		s.waiting[p.Seq] = done
	}
	if s.started != nil {
		select {
		case s.started <- p.Seq:
		default:
		}
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if !hold {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.release(p.Seq)
		return ctx.Err()
	}
}

// Stop implements [audio.Sink]. It ends every held playback.
func (s *Sink) Stop() {
	s.mu.Lock()
	s.StopCount++
	waiting := s.waiting
	s.waiting = nil
	s.mu.Unlock()
	for _, ch := range waiting {
		close(ch)
	}
}

// Finish ends the held playback with the given sequence number. It reports
// whether such a playback was waiting.
func (s *Sink) Finish(seq uint64) bool {
	return s.release(seq)
}

func (s *Sink) release(seq uint64) bool {
	s.mu.Lock()
	ch, ok := s.waiting[seq]
	delete(s.waiting, seq)
	s.mu.Unlock()
	if ok {
		close(ch)
	}
	return ok
}

// Texts returns the text of every playback, in order.
func (s *Sink) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Played))
	for i, p := range s.Played {
		out[i] = p.Text
	}
	return out
}

// Stops returns StopCount. Thread-safe.
func (s *Sink) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.StopCount
}
