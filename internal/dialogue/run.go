package dialogue

import (
	"context"
	"errors"

	"github.com/MrWong99/realtalk/internal/observe"
	"github.com/MrWong99/realtalk/internal/review"
)

// TranscriptSource turns one recording gesture into text. Capture blocks
// until the learner has spoken (or gave up) and returns the transcript,
// which may be empty.
type TranscriptSource interface {
	Capture(ctx context.Context) (string, error)
}

// SourceFunc adapts a function to [TranscriptSource].
type SourceFunc func(ctx context.Context) (string, error)

// Capture implements [TranscriptSource].
func (f SourceFunc) Capture(ctx context.Context) (string, error) { return f(ctx) }

// Run starts the engine and feeds it transcripts from src until the
// conversation completes, src fails, or ctx ends. Transcripts are submitted
// one at a time, so src is only asked for the next one after the tutor has
// answered. A transcript that Submit rejects with [ErrNotAwaiting] (for
// example before a gated greeting was released) is dropped. Run cannot tell
// a late duplicate from a new answer; src must discard transcripts that
// were captured while the previous one was being answered.
func (e *Engine) Run(ctx context.Context, src TranscriptSource) (*review.Report, error) {
	if err := e.Start(ctx); err != nil {
		return nil, err
	}
	for {
		select {
		case <-e.done:
			return e.Report(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		text, err := src.Capture(ctx)
		if err != nil {
			return nil, err
		}
		out, err := e.Submit(ctx, text)
		switch {
		case errors.Is(err, ErrNotAwaiting):
			observe.Logger(ctx).Debug("dropping transcript, engine not awaiting", "phase", e.Phase())
			continue
		case err != nil:
			return nil, err
		case out == OutcomeCompleted:
			return e.Report(), nil
		}
	}
}
