// Package mock provides a test double for [speech.Speaker].
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/realtalk/internal/speech"
)

var _ speech.Speaker = (*Speaker)(nil)

// Speaker records every line it is asked to say and returns immediately.
type Speaker struct {
	mu sync.Mutex

	// SpeakFunc, if set, is called for every Speak and its error returned.
	SpeakFunc func(ctx context.Context, text string) error

	spoken  []string
	cancels int
}

// Speak implements [speech.Speaker].
func (s *Speaker) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	fn := s.SpeakFunc
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, text)
	}
	return nil
}

// Cancel implements [speech.Speaker].
func (s *Speaker) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels++
}

// Spoken returns every line passed to Speak, in order.
func (s *Speaker) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.spoken)
}

// Cancels returns how many times Cancel was called.
func (s *Speaker) Cancels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels
}

// Reset forgets recorded lines.
func (s *Speaker) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = nil
}
