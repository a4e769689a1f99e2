// Package practice runs the correction-practice drill that follows the
// conversation: the learner repeats every corrected sentence from the error
// log until it is said well enough, or until the second miss.
//
// The drill never traps the learner. A first miss blinks the sentence and
// replays it; a second consecutive miss on the same item re-reveals and
// replays the sentence and moves on as if it had been said correctly.
package practice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/realtalk/internal/evaluator"
	"github.com/MrWong99/realtalk/internal/observe"
	"github.com/MrWong99/realtalk/internal/speech"
	"github.com/MrWong99/realtalk/pkg/types"
)

// DefaultSuccessPause is how long the success acknowledgement stays up
// before the drill moves on.
const DefaultSuccessPause = 1200 * time.Millisecond

// DefaultBlinkPause is how long the target sentence blinks after a first
// miss before it is replayed.
const DefaultBlinkPause = time.Second

// maxAttempts is the number of misses after which an item is force-advanced.
const maxAttempts = 2

var (
	// ErrNotAwaiting is returned by Submit when the drill is not waiting for
	// an attempt: it is speaking, grading, not started or finished.
	ErrNotAwaiting = errors.New("practice: not awaiting an attempt")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("practice: closed")
)

// Phase is the drill state.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseSpeaking Phase = "speaking"
	PhaseAwaiting Phase = "awaiting"
	PhaseGrading  Phase = "grading"
	PhaseComplete Phase = "complete"
)

// Outcome is the result of one Submit.
type Outcome string

const (
	// OutcomeIgnored: blank transcript, nothing happened.
	OutcomeIgnored Outcome = "ignored"
	// OutcomePass: the attempt matched.
	OutcomePass Outcome = "pass"
	// OutcomeRetry: first miss, same item again.
	OutcomeRetry Outcome = "retry"
	// OutcomeForced: second miss, the item was force-advanced.
	OutcomeForced Outcome = "forced"
)

// EventKind identifies a drill event.
type EventKind string

const (
	EventItem     EventKind = "practice_item"
	EventMicReady EventKind = "mic_ready"
	EventGrading  EventKind = "grading"
	EventSuccess  EventKind = "success"
	EventBlink    EventKind = "blink"
	EventReveal   EventKind = "reveal"
	EventComplete EventKind = "practice_complete"
)

// Event is emitted on every visible change of the drill.
type Event struct {
	Kind     EventKind `json:"kind"`
	Index    int       `json:"index"`
	Total    int       `json:"total"`
	Sentence string    `json:"sentence,omitempty"`
}

// Option configures a [Drill].
type Option func(*Drill)

// WithEvents registers the event hook. It is called synchronously and must
// not block or call back into the drill.
func WithEvents(fn func(Event)) Option {
	return func(d *Drill) { d.onEvent = fn }
}

// WithPauses sets the success and blink pauses. Zero keeps the default.
func WithPauses(success, blink time.Duration) Option {
	return func(d *Drill) {
		if success > 0 {
			d.successPause = success
		}
		if blink > 0 {
			d.blinkPause = blink
		}
	}
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Drill) { d.metrics = m }
}

// Drill drills one list of corrected sentences. Submit may be called from
// any goroutine; overlapping submissions are rejected.
type Drill struct {
	items        []types.ErrorLogItem
	grader       evaluator.Grader
	speaker      speech.Speaker
	onEvent      func(Event)
	successPause time.Duration
	blinkPause   time.Duration
	metrics      *observe.Metrics

	mu       sync.Mutex
	phase    Phase
	index    int
	attempts int
	closed   bool
	done     chan struct{}
}

// New returns a drill over items. Only grammar and naturalness items should
// be passed; see review.PracticeItems.
func New(items []types.ErrorLogItem, grader evaluator.Grader, speaker speech.Speaker, opts ...Option) *Drill {
	d := &Drill{
		items:        append([]types.ErrorLogItem(nil), items...),
		grader:       grader,
		speaker:      speaker,
		onEvent:      func(Event) {},
		successPause: DefaultSuccessPause,
		blinkPause:   DefaultBlinkPause,
		phase:        PhaseIdle,
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	return d
}

// Phase returns the current phase.
func (d *Drill) Phase() Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phase
}

// Index returns the index of the current item.
func (d *Drill) Index() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.index
}

// Done is closed when the drill completes.
func (d *Drill) Done() <-chan struct{} { return d.done }

// Start presents the first item. An empty drill completes immediately.
func (d *Drill) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.phase != PhaseIdle {
		d.mu.Unlock()
		return errors.New("practice: already started")
	}
	d.phase = PhaseSpeaking
	d.mu.Unlock()

	if len(d.items) == 0 {
		d.complete(ctx)
		return nil
	}
	return d.present(ctx, 0)
}

// Submit grades one attempt at the current item. Blank transcripts are
// ignored. Submit blocks until the resulting speech has finished and the
// drill is ready for the next attempt, or has completed.
func (d *Drill) Submit(ctx context.Context, transcript string) (Outcome, error) {
	text := strings.TrimSpace(transcript)

	d.mu.Lock()
	switch {
	case d.closed:
		d.mu.Unlock()
		return "", ErrClosed
	case d.phase != PhaseAwaiting:
		d.mu.Unlock()
		return "", ErrNotAwaiting
	case text == "":
		d.mu.Unlock()
		return OutcomeIgnored, nil
	}
	d.phase = PhaseGrading
	idx := d.index
	item := d.items[idx]
	d.mu.Unlock()

	ctx, span := observe.StartSpan(ctx, "practice.submit")
	defer span.End()
	log := observe.Logger(ctx).With("item", idx)

	d.emit(Event{Kind: EventGrading, Index: idx})
	ok, err := d.grader.Grade(ctx, text, item.Corrected)
	if err != nil {
		d.setPhase(PhaseAwaiting)
		return "", err
	}
	if !d.current(idx) {
		return "", ErrClosed
	}

	if ok {
		d.metrics.RecordPractice(ctx, string(OutcomePass))
		log.Info("practice attempt passed", "attempt", d.attempt()+1)
		d.emit(Event{Kind: EventSuccess, Index: idx})
		if err := sleep(ctx, d.successPause); err != nil {
			return "", err
		}
		return OutcomePass, d.advance(ctx)
	}

	d.mu.Lock()
	d.attempts++
	attempts := d.attempts
	d.phase = PhaseSpeaking
	d.mu.Unlock()

	if attempts < maxAttempts {
		d.metrics.RecordPractice(ctx, string(OutcomeRetry))
		log.Info("practice attempt missed, retrying", "attempt", attempts)
		d.emit(Event{Kind: EventBlink, Index: idx, Sentence: item.Corrected})
		if err := sleep(ctx, d.blinkPause); err != nil {
			return "", err
		}
		if err := d.say(ctx, item.Corrected); err != nil {
			return "", err
		}
		d.ready(idx)
		return OutcomeRetry, nil
	}

	d.metrics.RecordPractice(ctx, string(OutcomeForced))
	log.Info("practice item force-advanced", "attempt", attempts)
	d.emit(Event{Kind: EventReveal, Index: idx, Sentence: item.Corrected})
	if err := d.say(ctx, item.Corrected); err != nil {
		return "", err
	}
	d.emit(Event{Kind: EventSuccess, Index: idx})
	if err := sleep(ctx, d.successPause); err != nil {
		return "", err
	}
	return OutcomeForced, d.advance(ctx)
}

// Close stops speech and rejects further submissions.
func (d *Drill) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.speaker.Cancel()
}

func (d *Drill) advance(ctx context.Context) error {
	d.mu.Lock()
	next := d.index + 1
	d.mu.Unlock()
	if next >= len(d.items) {
		d.complete(ctx)
		return nil
	}
	return d.present(ctx, next)
}

// present moves to item i, speaks it and opens the microphone.
func (d *Drill) present(ctx context.Context, i int) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	d.index = i
	d.attempts = 0
	d.phase = PhaseSpeaking
	d.mu.Unlock()

	sentence := d.items[i].Corrected
	d.emit(Event{Kind: EventItem, Index: i, Total: len(d.items), Sentence: sentence})
	if err := d.say(ctx, sentence); err != nil {
		return err
	}
	d.ready(i)
	return nil
}

// say speaks text. Being superseded by Close is reported as ErrClosed.
func (d *Drill) say(ctx context.Context, text string) error {
	err := d.speaker.Speak(ctx, text)
	if errors.Is(err, speech.ErrSuperseded) {
		d.mu.Lock()
		closed := d.closed
		d.mu.Unlock()
		if closed {
			return ErrClosed
		}
		return nil
	}
	return err
}

func (d *Drill) ready(i int) {
	d.mu.Lock()
	if d.closed || d.index != i {
		d.mu.Unlock()
		return
	}
	d.phase = PhaseAwaiting
	d.mu.Unlock()
	d.emit(Event{Kind: EventMicReady, Index: i})
}

func (d *Drill) complete(ctx context.Context) {
	d.mu.Lock()
	if d.phase == PhaseComplete {
		d.mu.Unlock()
		return
	}
	d.phase = PhaseComplete
	d.mu.Unlock()
	close(d.done)
	observe.Logger(ctx).Info("practice complete", "items", len(d.items))
	d.emit(Event{Kind: EventComplete, Index: len(d.items), Total: len(d.items)})
}

func (d *Drill) current(idx int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.closed && d.index == idx
}

func (d *Drill) attempt() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

func (d *Drill) setPhase(p Phase) {
	d.mu.Lock()
	d.phase = p
	d.mu.Unlock()
}

func (d *Drill) emit(e Event) {
	if e.Total == 0 {
		e.Total = len(d.items)
	}
	d.onEvent(e)
}

// sleep waits for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
